package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"readshelf/internal/util"
	"readshelf/pkg/validation"
	"readshelf/services/book/internal/app"
)

// SubjectVerifier validates a bearer token and returns the user id.
type SubjectVerifier interface {
	VerifySubject(token string) (string, error)
}

// Limiter bounds how often a user may request upload intents.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier SubjectVerifier
	// ImportLimiter is optional; nil disables rate limiting.
	ImportLimiter Limiter
}

// Server exposes HTTP endpoints for the book service.
type Server struct {
	app           *app.App
	tokenVerifier SubjectVerifier
	importLimiter Limiter
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	s := &Server{
		app:           cfg.App,
		tokenVerifier: cfg.TokenVerifier,
		importLimiter: cfg.ImportLimiter,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("book", s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// imports
	s.mux.Handle("POST /imports", s.withUser(s.handleCreateImport))
	s.mux.Handle("GET /imports/{importId}", s.withUser(s.handleGetImport))

	// books
	s.mux.Handle("POST /books", s.withUser(s.handleCreateBook))
	s.mux.Handle("GET /books", s.withUser(s.handleListBooks))
	s.mux.Handle("GET /books/{bookId}", s.withUser(s.handleGetBook))
	s.mux.Handle("PUT /books/{bookId}", s.withUser(s.handleUpdateBook))
	s.mux.Handle("DELETE /books/{bookId}", s.withUser(s.handleDeleteBook))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, codeInvalidToken, "unauthorized")
			return
		}
		userID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeInvalidToken, "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", userID))
		next(w, r.WithContext(ctx), userID)
	})
}

func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request, userID string) {
	if s.importLimiter != nil && !s.importLimiter.Allow(r.Context(), "imports:"+userID) {
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many import requests")
		return
	}
	intent, err := s.app.CreateImport(r.Context(), userID)
	if errors.Is(err, app.ErrInvalidUserID) {
		writeError(w, http.StatusBadRequest, codeInvalidUser, "user id cannot be used for uploads")
		return
	}
	if err != nil {
		s.internalError(w, r, "create import", err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request, userID string) {
	job, err := s.app.GetImportStatus(r.Context(), userID, r.PathValue("importId"))
	if errors.Is(err, app.ErrImportNotFound) {
		writeError(w, http.StatusNotFound, codeImportNotFound, "import not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "get import status", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, userID string) {
	input, ok := decodeBookInput(w, r)
	if !ok {
		return
	}
	book, err := s.app.CreateBook(r.Context(), userID, input)
	if err != nil {
		s.bookError(w, r, "create book", err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request, userID string) {
	books, err := s.app.ListBooks(r.Context(), userID)
	if err != nil {
		s.internalError(w, r, "list books", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": books,
		"count": len(books),
	})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request, userID string) {
	book, err := s.app.GetBook(r.Context(), userID, r.PathValue("bookId"))
	if err != nil {
		s.bookError(w, r, "get book", err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, userID string) {
	input, ok := decodeBookInput(w, r)
	if !ok {
		return
	}
	book, err := s.app.UpdateBook(r.Context(), userID, r.PathValue("bookId"), input)
	if err != nil {
		s.bookError(w, r, "update book", err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.app.DeleteBook(r.Context(), userID, r.PathValue("bookId")); err != nil {
		s.bookError(w, r, "delete book", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) bookError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var vErr *validation.Error
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     "validation failed",
			Code:      codeValidation,
			RequestID: requestID(w),
			Fields:    vErr.Fields,
		})
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, codeBookNotFound, "book not found")
	case errors.Is(err, app.ErrDuplicateBook):
		writeError(w, http.StatusConflict, codeDuplicateBook, "book already exists")
	default:
		s.internalError(w, r, op, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	util.LoggerFromContext(r.Context()).Error(op, "err", err)
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func decodeBookInput(w http.ResponseWriter, r *http.Request) (validation.BookInput, bool) {
	var input validation.BookInput
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON body")
		return validation.BookInput{}, false
	}
	return input, true
}

const (
	codeInvalidToken   = "AUTH_INVALID_TOKEN"
	codeRateLimited    = "IMPORT_RATE_LIMITED"
	codeImportNotFound = "IMPORT_NOT_FOUND"
	codeInvalidUser    = "IMPORT_INVALID_USER"
	codeBookNotFound   = "BOOK_NOT_FOUND"
	codeDuplicateBook  = "BOOK_DUPLICATE"
	codeValidation     = "BOOK_VALIDATION_FAILED"
	codeInvalidRequest = "BOOK_INVALID_REQUEST"
	codeInternal       = "SYSTEM_INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string                  `json:"error"`
	Code      string                  `json:"code"`
	RequestID string                  `json:"requestId,omitempty"`
	Fields    []validation.FieldError `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: requestID(w),
	})
}

func requestID(w http.ResponseWriter) string {
	return strings.TrimSpace(w.Header().Get("X-Request-Id"))
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
