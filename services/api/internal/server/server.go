package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"docqa/internal/util"
	"docqa/pkg/domain"
	"docqa/pkg/ledger"
	"docqa/services/api/internal/app"
)

// Limiter admits or rejects a request for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// TokenVerifier resolves a bearer token to its subject.
type TokenVerifier interface {
	VerifySubject(token string) (string, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  TokenVerifier
	QueryLimiter   Limiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes the public HTTP API.
type Server struct {
	app            *app.App
	verifier       TokenVerifier
	queryLimiter   Limiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

func New(cfg Config) (*Server, error) {
	if cfg.App == nil || cfg.TokenVerifier == nil {
		return nil, errors.New("app and token verifier required")
	}
	s := &Server{
		app:            cfg.App,
		verifier:       cfg.TokenVerifier,
		queryLimiter:   cfg.QueryLimiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", s.trustedProxies, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users/me/balance", s.authenticated(s.handleBalance))
	s.mux.Handle("/api/users/me/top-up", s.authenticated(s.handleTopUp))
	s.mux.Handle("/api/transactions", s.authenticated(s.handleTransactions))

	s.mux.Handle("/api/documents", s.authenticated(s.handleDocuments))
	s.mux.Handle("/api/documents/", s.authenticated(s.handleDocumentByID))
	s.mux.Handle("/api/queries", s.authenticated(s.handleQueries))
	s.mux.Handle("/api/queries/", s.authenticated(s.handleQueryByID))

	// admin
	s.mux.Handle("/api/admin/users/", s.adminOnly(s.handleAdminTopUp))
	s.mux.Handle("/api/admin/transfers", s.adminOnly(s.handleAdminTransfer))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authorize(r)
		if err != nil {
			s.audit(r, "api.authorize", "fail", "reason", err.Error())
			if errors.Is(err, ledger.ErrAccountInactive) {
				writeError(w, r, http.StatusForbidden, "account is inactive")
				return
			}
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
		next(w, r.WithContext(ctx), user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !user.IsAdmin() {
			s.audit(r, "api.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "api.admin.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

var errMissingToken = errors.New("missing_token")

func (s *Server) authorize(r *http.Request) (domain.User, error) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, errMissingToken
	}
	subject, err := s.verifier.VerifySubject(token)
	if err != nil {
		return domain.User{}, errors.New("invalid_token")
	}
	return s.app.Authenticate(r.Context(), subject)
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// users & balance

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type balanceResponse struct {
	UserID  string `json:"userId"`
	Balance string `json:"balance"`
	Role    string `json:"role"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		UserID:  user.ID,
		Balance: user.Balance.StringFixed(2),
		Role:    string(user.Role),
	})
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.app.TopUp(r.Context(), user, req.Amount)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: updated.ID, Balance: updated.Balance.StringFixed(2), Role: string(updated.Role)})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	txns, err := s.app.ListTransactions(r.Context(), user, queryLimit(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": txns, "count": len(txns)})
}

// documents

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		docs, err := s.app.ListDocuments(r.Context(), user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": docs, "count": len(docs)})
	case http.MethodPost:
		s.handleUpload(w, r, user)
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	doc, err := s.app.UploadDocument(r.Context(), user, header.Filename, file, header.Size)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	doc, err := s.app.GetDocument(r.Context(), user, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// queries

type submitQueryRequest struct {
	DocumentID string `json:"documentId"`
	Question   string `json:"question"`
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		queries, err := s.app.ListQueries(r.Context(), user, queryLimit(r))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": queries, "count": len(queries)})
	case http.MethodPost:
		if !s.allowRate(w, r, user) {
			return
		}
		var req submitQueryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.DocumentID) == "" {
			writeError(w, r, http.StatusBadRequest, "documentId is required")
			return
		}
		q, err := s.app.SubmitQuery(r.Context(), user, req.DocumentID, req.Question)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, q)
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) handleQueryByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/queries/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	q, err := s.app.GetQuery(r.Context(), user, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// admin

func (s *Server) handleAdminTopUp(w http.ResponseWriter, r *http.Request, admin domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	targetID, action, ok := strings.Cut(rest, "/")
	if !ok || targetID == "" || action != "top-up" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.app.AdminTopUp(r.Context(), admin, targetID, req.Amount)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: updated.ID, Balance: updated.Balance.StringFixed(2), Role: string(updated.Role)})
}

type transferRequest struct {
	FromUserID string          `json:"fromUserId"`
	ToUserID   string          `json:"toUserId"`
	Amount     decimal.Decimal `json:"amount"`
}

func (s *Server) handleAdminTransfer(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.Transfer(r.Context(), admin, req.FromUserID, req.ToUserID, req.Amount); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// helpers

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, user domain.User) bool {
	if s.queryLimiter == nil || s.queryLimiter.Allow(r.Context(), "queries|"+user.ID) {
		return true
	}
	s.audit(r, "api.ratelimit", "fail", "user_id", user.ID)
	w.Header().Set("Retry-After", "60")
	writeError(w, r, http.StatusTooManyRequests, "too many queries, try again later")
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status),
		RequestID: util.RequestIDFromRequest(r),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// writeAppError maps business errors to HTTP statuses. Anything unknown is
// logged and reported as an internal error without leaking details.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, r, status, "internal error")
		return
	}
	if status >= 400 && status < 500 {
		slog.Debug("request rejected", "path", r.URL.Path, "code", code, "err", err)
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: util.RequestIDFromRequest(r),
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ledger.ErrAccountInactive):
		return http.StatusForbidden, "account_inactive"
	case errors.Is(err, app.ErrDocumentNotReady):
		return http.StatusBadRequest, "document_not_ready"
	case errors.Is(err, ledger.ErrNegativeBalance):
		return http.StatusPaymentRequired, "negative_balance"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, app.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, app.ErrUnsupportedFile):
		return http.StatusUnsupportedMediaType, "unsupported_file"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func errorCodeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "file_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal"
	}
}
