package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"docqa/pkg/domain"
	"docqa/pkg/ledger"
	"docqa/pkg/queue"
	"docqa/pkg/storage"
	"docqa/pkg/store"
)

type recordingQueue struct {
	subjects []string
	err      error
}

func (q *recordingQueue) Publish(_ context.Context, subjectID string) (queue.Task, error) {
	if q.err != nil {
		return queue.Task{}, q.err
	}
	q.subjects = append(q.subjects, subjectID)
	return queue.Task{ID: "t-" + subjectID, SubjectID: subjectID}, nil
}

type apiFixture struct {
	app     *App
	store   *store.MemoryStore
	objects *storage.MemoryStore
	docs    *recordingQueue
	queries *recordingQueue
}

func newAPIFixture(t *testing.T, users ...domain.User) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store:   store.NewMemoryStore(),
		objects: storage.NewMemoryStore(),
		docs:    &recordingQueue{},
		queries: &recordingQueue{},
	}
	for _, u := range users {
		if err := f.store.SaveUser(context.Background(), u); err != nil {
			t.Fatalf("save user: %v", err)
		}
	}
	a, err := New(Config{Store: f.store, Objects: f.objects, DocumentQueue: f.docs, QueryQueue: f.queries, MaxUploadBytes: 1024})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	f.app = a
	return f
}

func user(id string, role domain.UserRole, balance string) domain.User {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return domain.User{
		ID: id, Email: id + "@example.com", Username: id,
		Balance: decimal.RequireFromString(balance), Role: role, Status: domain.StatusActive,
		CreatedAt: now, UpdatedAt: now,
	}
}

func (f *apiFixture) readyDocument(t *testing.T, owner string) domain.Document {
	t.Helper()
	doc := domain.Document{ID: "doc-" + owner, OwnerID: owner, Filename: "a.pdf", Status: domain.DocumentReady}
	if err := f.store.SaveDocument(context.Background(), doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	return doc
}

func (f *apiFixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	u, _, err := f.store.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return u.Balance
}

func TestUploadDocumentStoresAndSchedules(t *testing.T) {
	alice := user("alice", domain.RoleRegular, "10")
	f := newAPIFixture(t, alice)
	body := "%PDF-1.7 body"
	doc, err := f.app.UploadDocument(context.Background(), alice, "report.pdf", strings.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.Status != domain.DocumentUploaded || doc.OwnerID != "alice" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.StorageKey != "documents/"+doc.ID+"/report.pdf" {
		t.Fatalf("unexpected storage key %q", doc.StorageKey)
	}
	rc, err := f.objects.Get(context.Background(), doc.StorageKey)
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	stored, _ := io.ReadAll(rc)
	if string(stored) != body {
		t.Fatalf("stored %q, want %q", stored, body)
	}
	if len(f.docs.subjects) != 1 || f.docs.subjects[0] != doc.ID {
		t.Fatalf("document not scheduled: %v", f.docs.subjects)
	}
}

func TestUploadDocumentRejectsBadFiles(t *testing.T) {
	alice := user("alice", domain.RoleRegular, "10")
	f := newAPIFixture(t, alice)
	ctx := context.Background()
	if _, err := f.app.UploadDocument(ctx, alice, "notes.txt", strings.NewReader("%PDF"), 4); !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("expected unsupported file, got %v", err)
	}
	if _, err := f.app.UploadDocument(ctx, alice, "fake.pdf", strings.NewReader("<html>"), 6); !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("expected magic check failure, got %v", err)
	}
	if _, err := f.app.UploadDocument(ctx, alice, "big.pdf", strings.NewReader("%PDF"), 4096); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected file too large, got %v", err)
	}
	if len(f.docs.subjects) != 0 {
		t.Fatalf("rejected uploads must not be scheduled")
	}
}

func TestUploadDocumentFailsWhenQueueUnavailable(t *testing.T) {
	alice := user("alice", domain.RoleRegular, "10")
	f := newAPIFixture(t, alice)
	f.docs.err = errors.New("redis down")
	if _, err := f.app.UploadDocument(context.Background(), alice, "a.pdf", strings.NewReader("%PDF-1.4"), 8); err == nil {
		t.Fatalf("expected scheduling error")
	}
	docs, _ := f.store.ListDocumentsByOwner(context.Background(), "alice")
	if len(docs) != 1 || docs[0].Status != domain.DocumentFailed {
		t.Fatalf("unscheduled document should be failed, got %+v", docs)
	}
}

func TestSubmitQueryPreconditions(t *testing.T) {
	alice := user("alice", domain.RoleRegular, "10")
	broke := user("broke", domain.RoleRegular, "-5")
	bob := user("bob", domain.RoleRegular, "10")
	f := newAPIFixture(t, alice, broke, bob)
	ctx := context.Background()
	doc := f.readyDocument(t, "alice")
	brokeDoc := f.readyDocument(t, "broke")
	pending := domain.Document{ID: "doc-pending", OwnerID: "alice", Status: domain.DocumentProcessing}
	_ = f.store.SaveDocument(ctx, pending)

	cases := []struct {
		name string
		user domain.User
		doc  string
		q    string
		want error
	}{
		{"empty question", alice, doc.ID, "   ", ErrInvalidInput},
		{"too long", alice, doc.ID, strings.Repeat("x", MaxQuestionRunes+1), ErrInvalidInput},
		{"missing document", alice, "nope", "why?", ErrNotFound},
		{"foreign document", bob, doc.ID, "why?", ledger.ErrForbidden},
		{"not ready", alice, pending.ID, "why?", ErrDocumentNotReady},
		{"negative balance", broke, brokeDoc.ID, "why?", ledger.ErrNegativeBalance},
	}
	for _, tc := range cases {
		if _, err := f.app.SubmitQuery(ctx, tc.user, tc.doc, tc.q); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
	if len(f.queries.subjects) != 0 {
		t.Fatalf("rejected submissions must not be queued")
	}

	q, err := f.app.SubmitQuery(ctx, alice, doc.ID, "  What is due?  ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if q.Status != domain.QueryPending || q.Question != "What is due?" {
		t.Fatalf("unexpected query %+v", q)
	}
	if len(f.queries.subjects) != 1 || f.queries.subjects[0] != q.ID {
		t.Fatalf("query not queued: %v", f.queries.subjects)
	}
}

func TestSubmitQueryFailsWhenQueueUnavailable(t *testing.T) {
	alice := user("alice", domain.RoleRegular, "10")
	f := newAPIFixture(t, alice)
	doc := f.readyDocument(t, "alice")
	f.queries.err = errors.New("broker unreachable")
	if _, err := f.app.SubmitQuery(context.Background(), alice, doc.ID, "why?"); err == nil {
		t.Fatalf("expected scheduling error")
	}
	qs, _ := f.store.ListQueriesByUser(context.Background(), "alice", 10)
	if len(qs) != 1 || qs[0].Status != domain.QueryFailed {
		t.Fatalf("unscheduled query should be failed, got %+v", qs)
	}
}

func TestTopUp(t *testing.T) {
	alice := user("alice", domain.RoleRegular, "10")
	f := newAPIFixture(t, alice)
	ctx := context.Background()
	if _, err := f.app.TopUp(ctx, alice, decimal.Zero); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	updated, err := f.app.TopUp(ctx, alice, decimal.RequireFromString("25.50"))
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if !updated.Balance.Equal(decimal.RequireFromString("35.50")) {
		t.Fatalf("balance = %s, want 35.50", updated.Balance)
	}
	txns, _ := f.app.ListTransactions(ctx, alice, 0)
	if len(txns) != 1 || txns[0].Type != domain.TxTopUp || txns[0].Description != "Balance top-up: 25.50" {
		t.Fatalf("unexpected transactions %+v", txns)
	}
}

func TestAdminTopUpRequiresAdmin(t *testing.T) {
	admin := user("root", domain.RoleAdmin, "0")
	alice := user("alice", domain.RoleRegular, "10")
	bob := user("bob", domain.RoleRegular, "10")
	f := newAPIFixture(t, admin, alice, bob)
	ctx := context.Background()
	amount := decimal.NewFromInt(100)

	if _, err := f.app.AdminTopUp(ctx, bob, "alice", amount); !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	updated, err := f.app.AdminTopUp(ctx, admin, "alice", amount)
	if err != nil {
		t.Fatalf("admin top up: %v", err)
	}
	if !updated.Balance.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("balance = %s, want 110", updated.Balance)
	}
	txns, _ := f.app.ListTransactions(ctx, alice, 0)
	if len(txns) != 1 || txns[0].Type != domain.TxAdminTopUp || txns[0].AdminID == nil || *txns[0].AdminID != "root" {
		t.Fatalf("unexpected transactions %+v", txns)
	}
	if _, err := f.app.AdminTopUp(ctx, admin, "ghost", amount); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	admin := user("root", domain.RoleAdmin, "0")
	alice := user("alice", domain.RoleRegular, "50")
	bob := user("bob", domain.RoleRegular, "5")
	f := newAPIFixture(t, admin, alice, bob)
	ctx := context.Background()

	if err := f.app.Transfer(ctx, alice, "alice", "bob", decimal.NewFromInt(10)); !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := f.app.Transfer(ctx, admin, "alice", "bob", decimal.NewFromInt(60)); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := f.app.Transfer(ctx, admin, "alice", "alice", decimal.NewFromInt(1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := f.app.Transfer(ctx, admin, "alice", "bob", decimal.NewFromInt(20)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := f.balance(t, "alice"); !got.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("alice balance = %s, want 30", got)
	}
	if got := f.balance(t, "bob"); !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("bob balance = %s, want 25", got)
	}
	out, _ := f.app.ListTransactions(ctx, alice, 0)
	in, _ := f.app.ListTransactions(ctx, bob, 0)
	if len(out) != 1 || out[0].Type != domain.TxTransferOut || len(in) != 1 || in[0].Type != domain.TxTransferIn {
		t.Fatalf("unexpected transfer records out=%+v in=%+v", out, in)
	}
}

func TestTransferFromAdminOnlyCredits(t *testing.T) {
	admin := user("root", domain.RoleAdmin, "0")
	bob := user("bob", domain.RoleRegular, "5")
	f := newAPIFixture(t, admin, bob)
	if err := f.app.Transfer(context.Background(), admin, "root", "bob", decimal.NewFromInt(20)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := f.balance(t, "root"); !got.IsZero() {
		t.Fatalf("admin balance = %s, want 0", got)
	}
	if got := f.balance(t, "bob"); !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("bob balance = %s, want 25", got)
	}
}

func TestAuthenticateRejectsInactive(t *testing.T) {
	disabled := user("dora", domain.RoleRegular, "10")
	disabled.Status = domain.StatusDisabled
	f := newAPIFixture(t, disabled)
	if _, err := f.app.Authenticate(context.Background(), "dora"); !errors.Is(err, ledger.ErrAccountInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
	if _, err := f.app.Authenticate(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
