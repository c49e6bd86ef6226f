package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"docqa/internal/util"
	"docqa/pkg/domain"
	"docqa/pkg/queue"
)

// Indexer is the subset of the indexer app the HTTP surface needs.
type Indexer interface {
	Enqueue(ctx context.Context, documentID string) (queue.Task, error)
	Document(ctx context.Context, documentID string) (domain.Document, bool, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           Indexer
	InternalToken string
}

// Server exposes health and internal operator endpoints.
type Server struct {
	app           Indexer
	internalToken string
	mux           *http.ServeMux
}

func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		internalToken: strings.TrimSpace(cfg.InternalToken),
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("indexer", nil, s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/indexer/documents/", s.withInternal(s.handleDocument))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withInternal rejects every request when no token is configured.
func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
		if s.internalToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.internalToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

// handleDocument serves GET /indexer/documents/{id} and
// POST /indexer/documents/{id}/index.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/indexer/documents/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if len(parts) == 2 {
		if parts[1] != "index" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		task, err := s.app.Enqueue(ctx, id)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, task)
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	doc, ok, err := s.app.Document(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load document failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
