package queue

import (
	"fmt"
	"strings"
	"time"
)

const (
	BackendRabbitMQ = "rabbitmq"
	BackendRedis    = "redis"
)

// Queue is a task queue that can both publish and consume.
type Queue interface {
	Publisher
	Consumer
	Close() error
}

// BackendConfig selects and configures a queue implementation.
type BackendConfig struct {
	Backend       string
	Name          string
	RabbitURL     string
	Prefetch      int
	RedisAddr     string
	RedisPassword string
	Group         string
	MaxRetries    int
	RetryDelay    time.Duration
}

// Open builds the queue named by cfg.Backend; an empty backend means fallback.
func Open(cfg BackendConfig, fallback string) (Queue, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = fallback
	}
	switch backend {
	case BackendRabbitMQ:
		return NewRabbitQueue(RabbitQueueConfig{
			URL:        cfg.RabbitURL,
			Queue:      cfg.Name,
			Prefetch:   cfg.Prefetch,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		})
	case BackendRedis:
		return NewRedisStreamQueue(RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.Name,
			Group:      cfg.Group,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("unknown queue backend: %s", backend)
	}
}
