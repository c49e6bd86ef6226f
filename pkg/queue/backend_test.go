package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenRedisBackendRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := Open(BackendConfig{Backend: "redis", Name: "docqa:documents", RedisAddr: mr.Addr()}, BackendRabbitMQ)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan Task, 1)
	q.Start(ctx, 1, func(_ context.Context, task Task) error {
		got <- task
		return nil
	})
	published, err := q.Publish(ctx, "doc-1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case task := <-got:
		if task.ID != published.ID || task.SubjectID != "doc-1" {
			t.Fatalf("unexpected task %+v", task)
		}
	case <-ctx.Done():
		t.Fatalf("task not delivered")
	}
}

func TestOpenFallbackAndUnknownBackend(t *testing.T) {
	q, err := Open(BackendConfig{Name: "docqa.queries"}, BackendRabbitMQ)
	if err != nil {
		t.Fatalf("open fallback: %v", err)
	}
	if _, ok := q.(*RabbitQueue); !ok {
		t.Fatalf("expected rabbit queue, got %T", q)
	}
	if _, err := Open(BackendConfig{Backend: "kafka", Name: "x"}, BackendRabbitMQ); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestOpenRabbitBackendCarriesRetryPolicy(t *testing.T) {
	q, err := Open(BackendConfig{Backend: "rabbitmq", Name: "docqa.documents", MaxRetries: 5, RetryDelay: time.Second}, BackendRedis)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rq, ok := q.(*RabbitQueue)
	if !ok {
		t.Fatalf("expected rabbit queue, got %T", q)
	}
	if rq.maxRetries != 5 || rq.retryDelay != time.Second {
		t.Fatalf("retry policy not applied: maxRetries=%d retryDelay=%s", rq.maxRetries, rq.retryDelay)
	}
}
