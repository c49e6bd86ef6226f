// Package queue carries work items between the API and background workers.
// A task names exactly one subject (a query or a document) by ID; delivery is
// at least once, so handlers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrSubjectRequired = errors.New("task subject id required")

// Task is one unit of queued work. Handlers see Attempt as the 1-based
// delivery number; both backends stop retrying once it reaches their
// MaxRetries.
type Task struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subjectId"`
	Attempt    int       `json:"attempt,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Handler processes one task. The returned error is informational: whether
// the task is retried is decided by the queue implementation.
type Handler func(ctx context.Context, task Task) error

type Publisher interface {
	Publish(ctx context.Context, subjectID string) (Task, error)
}

// Consumer starts background consumers; Start returns immediately and the
// consumers stop when ctx is cancelled. A delivery interrupted by
// cancellation is handed out again later.
type Consumer interface {
	Start(ctx context.Context, concurrency int, handler Handler)
}

func encodeTask(t Task) ([]byte, error) {
	return json.Marshal(t)
}

func decodeTask(body []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	t.SubjectID = strings.TrimSpace(t.SubjectID)
	if t.SubjectID == "" {
		return Task{}, ErrSubjectRequired
	}
	return t, nil
}
