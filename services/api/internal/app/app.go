package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"docqa/internal/util"
	"docqa/pkg/domain"
	"docqa/pkg/ledger"
	"docqa/pkg/queue"
	"docqa/pkg/storage"
	"docqa/pkg/store"
)

const (
	DefaultMaxUploadBytes = 10 << 20
	MaxQuestionRunes      = 2000
	defaultListLimit      = 50
)

// Config wires dependencies. Every field except Now is required.
type Config struct {
	Store          store.Store
	Objects        storage.ObjectStore
	DocumentQueue  queue.Publisher
	QueryQueue     queue.Publisher
	MaxUploadBytes int64
	Now            func() time.Time
}

// App implements the user-facing operations behind the HTTP API.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	documentQueue  queue.Publisher
	queryQueue     queue.Publisher
	maxUploadBytes int64
	now            func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil || cfg.Objects == nil {
		return nil, errors.New("store and object store required")
	}
	if cfg.DocumentQueue == nil || cfg.QueryQueue == nil {
		return nil, errors.New("document and query queues required")
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:          cfg.Store,
		objects:        cfg.Objects,
		documentQueue:  cfg.DocumentQueue,
		queryQueue:     cfg.QueryQueue,
		maxUploadBytes: maxBytes,
		now:            now,
	}, nil
}

// MaxUploadBytes is the largest accepted document.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

// Authenticate resolves the token subject to an active user.
func (a *App) Authenticate(ctx context.Context, userID string) (domain.User, error) {
	u, ok, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if !u.Active() {
		return domain.User{}, ledger.ErrAccountInactive
	}
	return u, nil
}

// UploadDocument stores a PDF and schedules it for indexing.
func (a *App) UploadDocument(ctx context.Context, owner domain.User, filename string, r io.Reader, size int64) (domain.Document, error) {
	filename = strings.TrimSpace(filepath.Base(filename))
	if filename == "" || filename == "." {
		return domain.Document{}, fmt.Errorf("%w: filename required", ErrInvalidInput)
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return domain.Document{}, fmt.Errorf("%w: only PDF files are accepted", ErrUnsupportedFile)
	}
	if size > a.maxUploadBytes {
		return domain.Document{}, ErrFileTooLarge
	}
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil || !bytes.Equal(head, []byte("%PDF")) {
		return domain.Document{}, fmt.Errorf("%w: file is not a PDF", ErrUnsupportedFile)
	}

	now := a.now()
	doc := domain.Document{
		ID:        util.NewID(),
		OwnerID:   owner.ID,
		Filename:  filename,
		Status:    domain.DocumentUploaded,
		SizeBytes: size,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.StorageKey = storage.DocumentKey(doc.ID, filename)
	if err := a.objects.Put(ctx, doc.StorageKey, io.LimitReader(br, a.maxUploadBytes), size, "application/pdf"); err != nil {
		return domain.Document{}, err
	}
	if err := a.store.SaveDocument(ctx, doc); err != nil {
		_ = a.objects.Delete(ctx, doc.StorageKey)
		return domain.Document{}, err
	}
	if _, err := a.documentQueue.Publish(ctx, doc.ID); err != nil {
		failed := doc
		failed.Status = domain.DocumentFailed
		failed.ErrorMessage = "could not schedule indexing"
		if advErr := a.store.AdvanceDocument(ctx, failed, domain.DocumentUploaded); advErr != nil {
			util.LoggerFromContext(ctx).Error("mark unscheduled document failed", "document_id", doc.ID, "err", advErr)
		}
		return domain.Document{}, fmt.Errorf("schedule indexing: %w", err)
	}
	util.LoggerFromContext(ctx).Info("document uploaded", "document_id", doc.ID, "user_id", owner.ID, "size_bytes", size)
	return doc, nil
}

func (a *App) ListDocuments(ctx context.Context, owner domain.User) ([]domain.Document, error) {
	return a.store.ListDocumentsByOwner(ctx, owner.ID)
}

// GetDocument returns a document visible to viewer; administrators see all.
func (a *App) GetDocument(ctx context.Context, viewer domain.User, id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if doc.OwnerID != viewer.ID && !viewer.IsAdmin() {
		return domain.Document{}, ledger.ErrForbidden
	}
	return doc, nil
}

// SubmitQuery records a pending query and hands it to the worker. Only the
// cheap preconditions are checked here; the cost is settled by the worker.
func (a *App) SubmitQuery(ctx context.Context, user domain.User, documentID, question string) (domain.Query, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Query{}, fmt.Errorf("%w: question required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(question) > MaxQuestionRunes {
		return domain.Query{}, fmt.Errorf("%w: question longer than %d characters", ErrInvalidInput, MaxQuestionRunes)
	}
	doc, ok, err := a.store.GetDocument(ctx, strings.TrimSpace(documentID))
	if err != nil {
		return domain.Query{}, err
	}
	if !ok {
		return domain.Query{}, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	if doc.OwnerID != user.ID {
		return domain.Query{}, ledger.ErrForbidden
	}
	if !doc.ReadyForQueries() {
		return domain.Query{}, fmt.Errorf("%w: document is %s", ErrDocumentNotReady, doc.Status)
	}
	if err := ledger.CheckAffordability(user, decimal.Zero); err != nil {
		return domain.Query{}, err
	}

	now := a.now()
	q := domain.Query{
		ID:         util.NewID(),
		UserID:     user.ID,
		DocumentID: doc.ID,
		Question:   question,
		Cost:       decimal.Zero,
		Status:     domain.QueryPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.CreateQuery(ctx, q); err != nil {
		return domain.Query{}, err
	}
	if _, err := a.queryQueue.Publish(ctx, q.ID); err != nil {
		failed := q
		failed.Status = domain.QueryFailed
		failed.FailureKind = "infrastructure"
		failed.FailureReason = "could not schedule query"
		if tErr := a.store.TransitionQuery(ctx, failed, domain.QueryPending); tErr != nil {
			util.LoggerFromContext(ctx).Error("mark unscheduled query failed", "query_id", q.ID, "err", tErr)
		}
		return domain.Query{}, fmt.Errorf("schedule query: %w", err)
	}
	util.LoggerFromContext(ctx).Info("query submitted", "query_id", q.ID, "document_id", doc.ID, "user_id", user.ID)
	return q, nil
}

func (a *App) GetQuery(ctx context.Context, viewer domain.User, id string) (domain.Query, error) {
	q, ok, err := a.store.GetQuery(ctx, id)
	if err != nil {
		return domain.Query{}, err
	}
	if !ok {
		return domain.Query{}, fmt.Errorf("%w: query %s", ErrNotFound, id)
	}
	if q.UserID != viewer.ID && !viewer.IsAdmin() {
		return domain.Query{}, ledger.ErrForbidden
	}
	return q, nil
}

func (a *App) ListQueries(ctx context.Context, user domain.User, limit int) ([]domain.Query, error) {
	return a.store.ListQueriesByUser(ctx, user.ID, normalizeLimit(limit))
}

func (a *App) ListTransactions(ctx context.Context, user domain.User, limit int) ([]domain.Transaction, error) {
	return a.store.ListTransactionsByUser(ctx, user.ID, normalizeLimit(limit))
}

// TopUp credits the caller's own balance.
func (a *App) TopUp(ctx context.Context, user domain.User, amount decimal.Decimal) (domain.User, error) {
	if _, err := ledger.WalletOf(user).Add(amount, a.now()); err != nil {
		return domain.User{}, err
	}
	return a.store.ApplyCredit(ctx, domain.Transaction{
		ID:          util.NewID(),
		UserID:      user.ID,
		Amount:      amount,
		Type:        domain.TxTopUp,
		Status:      domain.TxCompleted,
		Description: "Balance top-up: " + amount.StringFixed(2),
		CreatedAt:   a.now(),
	})
}

// AdminTopUp credits another user's balance on behalf of an administrator.
func (a *App) AdminTopUp(ctx context.Context, actor domain.User, targetID string, amount decimal.Decimal) (domain.User, error) {
	target, ok, err := a.store.GetUser(ctx, targetID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: user %s", ErrNotFound, targetID)
	}
	if _, err := ledger.AdminTopUp(ledger.WalletOf(target), amount, actor.Role, a.now()); err != nil {
		return domain.User{}, err
	}
	adminID := actor.ID
	updated, err := a.store.ApplyCredit(ctx, domain.Transaction{
		ID:          util.NewID(),
		UserID:      target.ID,
		Amount:      amount,
		Type:        domain.TxAdminTopUp,
		Status:      domain.TxCompleted,
		Description: fmt.Sprintf("Admin top-up by %s: %s", actor.ID, amount.StringFixed(2)),
		AdminID:     &adminID,
		CreatedAt:   a.now(),
	})
	if err != nil {
		return domain.User{}, err
	}
	util.LoggerFromContext(ctx).Info("admin top-up", "admin_id", actor.ID, "user_id", target.ID, "amount", amount.StringFixed(2))
	return updated, nil
}

// Transfer moves balance between two users on behalf of an administrator.
// A transfer out of an administrator account does not reduce it, so only
// the incoming side is recorded.
func (a *App) Transfer(ctx context.Context, actor domain.User, fromID, toID string, amount decimal.Decimal) error {
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" || fromID == toID {
		return fmt.Errorf("%w: transfer needs two distinct users", ErrInvalidInput)
	}
	source, ok, err := a.store.GetUser(ctx, fromID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, fromID)
	}
	target, ok, err := a.store.GetUser(ctx, toID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, toID)
	}
	now := a.now()
	sourceWallet := ledger.WalletOf(source)
	debited, _, err := ledger.Transfer(sourceWallet, ledger.WalletOf(target), amount, actor.Role, now)
	if err != nil {
		return err
	}

	adminID := actor.ID
	in := domain.Transaction{
		ID:          util.NewID(),
		UserID:      target.ID,
		Amount:      amount,
		Type:        domain.TxTransferIn,
		Status:      domain.TxCompleted,
		Description: fmt.Sprintf("Transfer from %s", source.ID),
		AdminID:     &adminID,
		CreatedAt:   now,
	}
	if !sourceWallet.Balance.Sub(debited.Balance).IsPositive() {
		_, err := a.store.ApplyCredit(ctx, in)
		return err
	}
	out := domain.Transaction{
		ID:          util.NewID(),
		UserID:      source.ID,
		Amount:      amount,
		Type:        domain.TxTransferOut,
		Status:      domain.TxCompleted,
		Description: fmt.Sprintf("Transfer to %s", target.ID),
		AdminID:     &adminID,
		CreatedAt:   now,
	}
	if err := a.store.ApplyTransfer(ctx, out, in); err != nil {
		return err
	}
	util.LoggerFromContext(ctx).Info("transfer", "admin_id", actor.ID, "from", source.ID, "to", target.ID, "amount", amount.StringFixed(2))
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return defaultListLimit
	}
	return limit
}
