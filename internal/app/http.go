package app

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"memoria/api/internal/auth"
	"memoria/api/internal/authpw"
	"memoria/api/internal/moderation"
	"memoria/api/internal/resolver"
	"memoria/api/internal/store"
)

type server struct {
	svc  *Service
	cors string
}

// NewHTTPServer builds the full route tree wrapped in the request-ID, CORS
// and access-log middleware.
func NewHTTPServer(svc *Service, corsOrigin string) http.Handler {
	s := &server{svc: svc, cors: corsOrigin}
	return s.middleware(http.HandlerFunc(s.route))
}

func (s *server) route(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	rest := parts[1:]

	switch {
	case rest[0] == "health" && len(rest) == 1:
		s.handleHealth(w, r)
	case rest[0] == "ready" && len(rest) == 1:
		s.handleReady(w, r)
	case rest[0] == "auth":
		s.routeAuth(w, r, rest[1:])
	case rest[0] == "cms":
		s.routeCMS(w, r, rest[1:])
	default:
		s.routePublic(w, r, rest)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReady checks the database; a snapshot-only degraded instance still
// serves reads but reports not-ready so orchestration can tell the states
// apart.
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if err := s.svc.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *server) lang(r *http.Request) string {
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return lang
	}
	return s.svc.cfg.DefaultLang
}

// middleware wires the cross-cutting request plumbing: an X-Request-ID for
// correlating log lines, CORS headers, and one JSON access-log line per
// request.
func (s *server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		s.setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		entry, _ := json.Marshal(map[string]any{
			"requestId":  requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     recorder.status,
			"durationMs": time.Since(start).Milliseconds(),
		})
		log.Println(string(entry))
	})
}

func (s *server) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", s.cors)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(raw)
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4<<20))
	if err := dec.Decode(dst); err != nil {
		return errValidation("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// mapError translates internal failures into the public error taxonomy.
// Unexpected errors are logged with detail but reported generically.
func mapError(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
	case errors.Is(err, resolver.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, moderation.ErrDenied):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Not authorized", nil)
	case errors.Is(err, store.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "Status must be approved or rejected", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
	case errors.Is(err, authpw.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", authpw.ErrWeakPassword.Error(), nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
	case store.IsUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Content is temporarily unavailable, try again", nil)
	default:
		log.Printf("unexpected error: %v", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Internal server error", nil)
	}
}
