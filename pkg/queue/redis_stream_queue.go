package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"docqa/internal/util"
)

const taskField = "task"

// RedisStreamQueue is a consumer-group queue on a Redis stream. Failed tasks
// are re-added up to MaxRetries times; messages left pending by a crashed
// consumer are reclaimed after ClaimIdle.
type RedisStreamQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
	consumers    sync.WaitGroup
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisStreamQueue(cfg RedisQueueConfig) (*RedisStreamQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisStreamQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Publish appends a task for subjectID to the stream.
func (q *RedisStreamQueue) Publish(ctx context.Context, subjectID string) (Task, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Task{}, ErrSubjectRequired
	}
	task := Task{ID: util.NewID(), SubjectID: subjectID, EnqueuedAt: time.Now().UTC()}
	args, err := q.addArgs(task)
	if err != nil {
		return Task{}, err
	}
	if err := q.client.XAdd(ctx, args).Err(); err != nil {
		return Task{}, err
	}
	return task, nil
}

// addArgs stores the task as one JSON field, the same encoding the
// RabbitMQ backend puts in a message body.
func (q *RedisStreamQueue) addArgs(task Task) (*redis.XAddArgs, error) {
	body, err := encodeTask(task)
	if err != nil {
		return nil, err
	}
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{taskField: string(body)},
	}, nil
}

func (q *RedisStreamQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		q.consumers.Add(1)
		go func() {
			defer q.consumers.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
}

// Close waits for consumers started by Start to return, then closes the
// client. Cancel the context given to Start first.
func (q *RedisStreamQueue) Close() error {
	q.consumers.Wait()
	return q.client.Close()
}

func (q *RedisStreamQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("create consumer group failed", "stream", q.stream, "group", q.group, "err", err)
		}
	})
}

func (q *RedisStreamQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				if ctx.Err() != nil {
					return
				}
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				slog.Warn("read stream failed", "stream", q.stream, "err", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if ctx.Err() != nil {
					// left pending for XAUTOCLAIM
					return
				}
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisStreamQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisStreamQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	raw, _ := msg.Values[taskField].(string)
	task, err := decodeTask([]byte(raw))
	if err != nil {
		slog.Warn("dropping malformed task", "stream", q.stream, "message_id", msg.ID, "err", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	task.Attempt++
	err = handler(ctx, task)
	settleCtx := context.WithoutCancel(ctx)
	if err == nil {
		q.ackAndDel(settleCtx, msg.ID)
		return
	}
	if ctx.Err() != nil {
		slog.Warn("task interrupted by shutdown; left pending", "stream", q.stream, "subject_id", task.SubjectID, "err", err)
		return
	}
	if task.Attempt >= q.maxRetries {
		slog.Warn("task dropped after retries", "stream", q.stream, "subject_id", task.SubjectID, "attempts", task.Attempt, "err", err)
		q.ackAndDel(settleCtx, msg.ID)
		return
	}
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	if err := q.requeueAndAck(ctx, msg.ID, task); err != nil {
		slog.Warn("requeue failed; message stays pending", "stream", q.stream, "subject_id", task.SubjectID, "err", err)
	}
}

func (q *RedisStreamQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-adds task and acks the original in one MULTI block, so a
// failure leaves the original pending for XAUTOCLAIM.
func (q *RedisStreamQueue) requeueAndAck(ctx context.Context, msgID string, task Task) error {
	args, err := q.addArgs(task)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, args)
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err = pipe.Exec(ctx)
	return err
}
