package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	LogsDir        string   `yaml:"logsDir"`
	DatabaseURL    string   `yaml:"databaseURL"`
	TrustedProxies []string `yaml:"trustedProxies"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`

	RabbitURL          string `yaml:"rabbitURL"`
	RedisAddr          string `yaml:"redisAddr"`
	RedisPassword      string `yaml:"redisPassword"`
	DocumentQueue      string `yaml:"documentQueue"`
	DocumentQueueName  string `yaml:"documentQueueName"`
	QueryQueue         string `yaml:"queryQueue"`
	QueryQueueName     string `yaml:"queryQueueName"`
	QueryRatePerMinute int    `yaml:"queryRatePerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.RabbitURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DOCUMENT_QUEUE_BACKEND"); v != "" {
		cfg.DocumentQueue = v
	}
	if v := os.Getenv("QUERY_QUEUE_BACKEND"); v != "" {
		cfg.QueryQueue = v
	}
	if v := os.Getenv("QUERY_RATE_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueryRatePerMinute = n
		}
	}
	if v := os.Getenv("API_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if cfg.DocumentQueue == "" {
		cfg.DocumentQueue = "redis"
	}
	if cfg.QueryQueue == "" {
		cfg.QueryQueue = "rabbitmq"
	}
	if cfg.QueryRatePerMinute == 0 {
		cfg.QueryRatePerMinute = 30
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return errors.New("config: jwtSecret must be at least 32 bytes (set in config.yaml or JWT_SECRET)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required (set in config.yaml or MINIO_ENDPOINT/MINIO_BUCKET)")
	}
	// The rate limiter always needs Redis.
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	for name, backend := range map[string]string{"documentQueue": cfg.DocumentQueue, "queryQueue": cfg.QueryQueue} {
		switch strings.ToLower(backend) {
		case "redis":
		case "rabbitmq":
			if cfg.RabbitURL == "" {
				return fmt.Errorf("config: rabbitURL is required when %s=rabbitmq (set in config.yaml or RABBITMQ_URL)", name)
			}
		default:
			return fmt.Errorf("config: unknown %s backend %q", name, backend)
		}
	}
	if cfg.QueryRatePerMinute < 0 {
		return errors.New("config: queryRatePerMinute must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	return nil
}
