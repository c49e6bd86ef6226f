package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"docqa/pkg/domain"
	"docqa/pkg/queue"
)

type stubIndexer struct {
	docs     map[string]domain.Document
	enqueued []string
}

func (s *stubIndexer) Enqueue(_ context.Context, id string) (queue.Task, error) {
	doc, ok := s.docs[id]
	if !ok || doc.Status != domain.DocumentUploaded {
		return queue.Task{}, errors.New("not enqueueable")
	}
	s.enqueued = append(s.enqueued, id)
	return queue.Task{ID: "t-1", SubjectID: id}, nil
}

func (s *stubIndexer) Document(_ context.Context, id string) (domain.Document, bool, error) {
	doc, ok := s.docs[id]
	return doc, ok, nil
}

func newTestServer() (*stubIndexer, http.Handler) {
	stub := &stubIndexer{docs: map[string]domain.Document{
		"d-1": {ID: "d-1", Status: domain.DocumentUploaded},
		"d-2": {ID: "d-2", Status: domain.DocumentReady, PageCount: 4, ChunkCount: 12},
	}}
	return stub, New(Config{App: stub, InternalToken: "secret"}).Router()
}

func do(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("X-Internal-Token", token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInternalRoutesRequireToken(t *testing.T) {
	_, h := newTestServer()
	if rec := do(h, http.MethodGet, "/indexer/documents/d-2", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/indexer/documents/d-2", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
}

func TestGetDocumentStatus(t *testing.T) {
	_, h := newTestServer()
	rec := do(h, http.MethodGet, "/indexer/documents/d-2", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc domain.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != domain.DocumentReady || doc.ChunkCount != 12 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if rec := do(h, http.MethodGet, "/indexer/documents/nope", "secret"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestEnqueueDocument(t *testing.T) {
	stub, h := newTestServer()
	if rec := do(h, http.MethodPost, "/indexer/documents/d-1/index", "secret"); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(stub.enqueued) != 1 {
		t.Fatalf("expected one enqueued document, got %v", stub.enqueued)
	}
	if rec := do(h, http.MethodPost, "/indexer/documents/d-2/index", "secret"); rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/indexer/documents/d-1/index", "secret"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
