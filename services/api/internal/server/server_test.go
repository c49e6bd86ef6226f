package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"

	"docqa/internal/ratelimit"
	"docqa/internal/usertoken"
	"docqa/pkg/domain"
	"docqa/pkg/queue"
	"docqa/pkg/storage"
	"docqa/pkg/store"
	"docqa/services/api/internal/app"
)

const testSecret = "test-secret-test-secret-test-secret"

type nopQueue struct{ published []string }

func (q *nopQueue) Publish(_ context.Context, subjectID string) (queue.Task, error) {
	q.published = append(q.published, subjectID)
	return queue.Task{ID: "t-" + subjectID, SubjectID: subjectID}, nil
}

type testEnv struct {
	handler  http.Handler
	store    *store.MemoryStore
	verifier *usertoken.Verifier
	queries  *nopQueue
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, u := range []domain.User{
		{ID: "alice", Email: "alice@example.com", Role: domain.RoleRegular, Status: domain.StatusActive, Balance: decimal.NewFromInt(10), CreatedAt: now},
		{ID: "broke", Email: "broke@example.com", Role: domain.RoleRegular, Status: domain.StatusActive, Balance: decimal.NewFromInt(-1), CreatedAt: now},
		{ID: "dora", Email: "dora@example.com", Role: domain.RoleRegular, Status: domain.StatusDisabled, Balance: decimal.NewFromInt(10), CreatedAt: now},
		{ID: "root", Email: "root@example.com", Role: domain.RoleAdmin, Status: domain.StatusActive, CreatedAt: now},
	} {
		if err := mem.SaveUser(ctx, u); err != nil {
			t.Fatalf("save user: %v", err)
		}
	}
	for _, d := range []domain.Document{
		{ID: "doc-a", OwnerID: "alice", Filename: "a.pdf", Status: domain.DocumentReady},
		{ID: "doc-b", OwnerID: "broke", Filename: "b.pdf", Status: domain.DocumentReady},
		{ID: "doc-p", OwnerID: "alice", Filename: "p.pdf", Status: domain.DocumentProcessing},
	} {
		if err := mem.SaveDocument(ctx, d); err != nil {
			t.Fatalf("save document: %v", err)
		}
	}
	queries := &nopQueue{}
	core, err := app.New(app.Config{
		Store: mem, Objects: storage.NewMemoryStore(),
		DocumentQueue: &nopQueue{}, QueryQueue: queries, MaxUploadBytes: 1024,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	cfg := Config{App: core, TokenVerifier: verifier}
	if rateLimit > 0 {
		mr := miniredis.RunT(t)
		limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Config{Addr: mr.Addr(), Limit: rateLimit, Window: time.Minute})
		if err != nil {
			t.Fatalf("new limiter: %v", err)
		}
		t.Cleanup(func() { _ = limiter.Close() })
		cfg.QueryLimiter = limiter
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{handler: srv.Router(), store: mem, verifier: verifier, queries: queries}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.verifier.Sign(userID, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, 0)
	if rec := env.do(t, http.MethodGet, "/api/users/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/users/me", "ghost", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/users/me", "dora", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("disabled user: status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/users/me/balance", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: status = %d", rec.Code)
	}
	var bal balanceResponse
	_ = json.NewDecoder(rec.Body).Decode(&bal)
	if bal.Balance != "10.00" {
		t.Fatalf("balance = %q, want 10.00", bal.Balance)
	}
}

func TestSubmitQueryStatusMapping(t *testing.T) {
	env := newTestEnv(t, 0)
	cases := []struct {
		name   string
		user   string
		doc    string
		status int
		code   string
	}{
		{"missing document", "alice", "nope", http.StatusNotFound, "not_found"},
		{"foreign document", "alice", "doc-b", http.StatusForbidden, "forbidden"},
		{"not ready", "alice", "doc-p", http.StatusBadRequest, "document_not_ready"},
		{"negative balance", "broke", "doc-b", http.StatusPaymentRequired, "negative_balance"},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodPost, "/api/queries", tc.user, submitQueryRequest{DocumentID: tc.doc, Question: "why?"})
		if rec.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.status)
		}
		resp := decodeError(t, rec)
		if resp.Code != tc.code || resp.RequestID == "" {
			t.Fatalf("%s: unexpected error body %+v", tc.name, resp)
		}
	}

	rec := env.do(t, http.MethodPost, "/api/queries", "alice", submitQueryRequest{DocumentID: "doc-a", Question: "When are invoices due?"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: status = %d body=%s", rec.Code, rec.Body.String())
	}
	var q domain.Query
	if err := json.NewDecoder(rec.Body).Decode(&q); err != nil {
		t.Fatalf("decode query: %v", err)
	}
	if q.Status != domain.QueryPending || len(env.queries.published) != 1 {
		t.Fatalf("unexpected query %+v published=%v", q, env.queries.published)
	}

	if rec := env.do(t, http.MethodGet, "/api/queries/"+q.ID, "alice", nil); rec.Code != http.StatusOK {
		t.Fatalf("get own query: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/queries/"+q.ID, "broke", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("get foreign query: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/queries/"+q.ID, "root", nil); rec.Code != http.StatusOK {
		t.Fatalf("admin get query: status = %d", rec.Code)
	}
}

func TestSubmitQueryRateLimited(t *testing.T) {
	env := newTestEnv(t, 1)
	body := submitQueryRequest{DocumentID: "doc-a", Question: "first"}
	if rec := env.do(t, http.MethodPost, "/api/queries", "alice", body); rec.Code != http.StatusAccepted {
		t.Fatalf("first submit: status = %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/queries", "alice", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second submit: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if rec := env.do(t, http.MethodGet, "/api/queries", "alice", nil); rec.Code != http.StatusOK {
		t.Fatalf("listing is not rate limited: status = %d", rec.Code)
	}
}

func TestUploadDocument(t *testing.T) {
	env := newTestEnv(t, 0)
	upload := func(filename, content string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write([]byte(content))
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+env.token(t, "alice"))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := upload("terms.pdf", "%PDF-1.7 tiny")
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: status = %d body=%s", rec.Code, rec.Body.String())
	}
	var doc domain.Document
	_ = json.NewDecoder(rec.Body).Decode(&doc)
	if doc.Status != domain.DocumentUploaded || doc.OwnerID != "alice" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if rec := upload("notes.txt", "hello"); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("txt upload: status = %d", rec.Code)
	}
	if rec := upload("big.pdf", "%PDF"+strings.Repeat("x", 2048)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize upload: status = %d", rec.Code)
	}
}

func TestBalanceOperations(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.do(t, http.MethodPost, "/api/users/me/top-up", "alice", map[string]string{"amount": "5.25"})
	if rec.Code != http.StatusOK {
		t.Fatalf("top up: status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, "/api/users/me/top-up", "alice", map[string]string{"amount": "-1"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative top up: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/admin/users/alice/top-up", "alice", map[string]string{"amount": "100"}); rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin top up: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/admin/users/alice/top-up", "root", map[string]string{"amount": "100"}); rec.Code != http.StatusOK {
		t.Fatalf("admin top up: status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/admin/transfers", "root", map[string]string{"fromUserId": "alice", "toUserId": "broke", "amount": "500"})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("overdrawn transfer: status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/admin/transfers", "root", map[string]string{"fromUserId": "alice", "toUserId": "broke", "amount": "15.25"})
	if rec.Code != http.StatusOK {
		t.Fatalf("transfer: status = %d body=%s", rec.Code, rec.Body.String())
	}

	u, _, _ := env.store.GetUser(context.Background(), "alice")
	if !u.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("alice balance = %s, want 100", u.Balance)
	}
	rec = env.do(t, http.MethodGet, "/api/transactions?limit=10", "alice", nil)
	var page struct {
		Count int `json:"count"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&page)
	if page.Count != 3 {
		t.Fatalf("transaction count = %d, want 3", page.Count)
	}
}
