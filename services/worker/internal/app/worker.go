package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"docqa/internal/util"
	"docqa/pkg/domain"
	"docqa/pkg/queue"
	"docqa/pkg/store"
)

// Worker turns queued query tasks into executions. Every task ends with the
// query in a terminal status or skipped. A task interrupted by shutdown
// before its query is claimed leaves the query pending and returns an error
// so the queue hands it out again.
type Worker struct {
	store    store.Store
	executor *Executor
}

func NewWorker(s store.Store, executor *Executor) *Worker {
	return &Worker{store: s, executor: executor}
}

// Handle processes one task. Redelivered tasks whose query has left the
// pending status are skipped without side effects.
func (w *Worker) Handle(ctx context.Context, task queue.Task) (err error) {
	queryID := strings.TrimSpace(task.SubjectID)
	logger := slog.Default().With("query_id", queryID, "task_id", task.ID)
	ctx = util.ContextWithLogger(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Error("query execution panicked", "panic", fmt.Sprint(r))
			w.markFailed(ctx, queryID, err)
		}
	}()

	q, ok, err := w.store.GetQuery(ctx, queryID)
	if err != nil {
		logger.Error("load query failed", "err", err)
		w.markFailed(ctx, queryID, err)
		return fmt.Errorf("load query: %w", err)
	}
	if !ok {
		logger.Warn("query not found; dropping task")
		return nil
	}
	if q.Status != domain.QueryPending {
		logger.Info("query already handled; skipping", "status", q.Status)
		return nil
	}

	user, doc, err := w.loadSubjects(ctx, q)
	if err != nil {
		logger.Error("load query subjects failed", "err", err)
		w.markFailed(ctx, queryID, err)
		return err
	}

	outcome, err := w.executor.Execute(ctx, user, doc, q)
	if err != nil {
		logger.Error("query execution could not settle", "kind", outcome.Kind, "err", err)
		w.markFailed(ctx, queryID, err)
		return err
	}

	switch {
	case outcome.Completed():
		logger.Info("query completed",
			"user_id", user.ID,
			"total_tokens", outcome.Query.TotalTokens,
			"cost", outcome.Query.Cost.StringFixed(2),
			"charged", outcome.Charged.StringFixed(2),
		)
	case outcome.Kind == KindStale:
		logger.Info("query claimed elsewhere; skipping")
	default:
		logger.Warn("query failed",
			"user_id", user.ID,
			"kind", outcome.Kind,
			"reason", outcome.Query.FailureReason,
			"refunded", outcome.Refunded,
		)
	}
	return nil
}

func (w *Worker) loadSubjects(ctx context.Context, q domain.Query) (domain.User, domain.Document, error) {
	user, ok, err := w.store.GetUser(ctx, q.UserID)
	if err != nil {
		return domain.User{}, domain.Document{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, domain.Document{}, fmt.Errorf("%w: %s", store.ErrUserNotFound, q.UserID)
	}
	doc, ok, err := w.store.GetDocument(ctx, q.DocumentID)
	if err != nil {
		return domain.User{}, domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return domain.User{}, domain.Document{}, fmt.Errorf("document %s not found", q.DocumentID)
	}
	return user, doc, nil
}

// markFailed is the best-effort safety net: it fails the query from
// whatever non-terminal status it is in and only logs its own errors. It
// runs even after ctx is cancelled, but then leaves a pending query alone.
func (w *Worker) markFailed(ctx context.Context, queryID string, cause error) {
	interrupted := ctx.Err() != nil
	ctx = context.WithoutCancel(ctx)
	logger := util.LoggerFromContext(ctx)
	q, ok, err := w.store.GetQuery(ctx, queryID)
	if err != nil || !ok {
		logger.Error("mark failed: query unavailable", "found", ok, "err", err)
		return
	}
	if q.Terminal() {
		return
	}
	if interrupted && q.Status == domain.QueryPending {
		logger.Info("shutdown before claim; query left pending")
		return
	}
	from := q.Status
	q.Status = domain.QueryFailed
	q.Answer = nil
	q.FailureKind = string(KindInfrastructure)
	q.FailureReason = cause.Error()
	if err := w.store.TransitionQuery(ctx, q, from); err != nil && !errors.Is(err, store.ErrStaleQuery) {
		logger.Error("mark failed: update failed", "err", err)
	}
}
