package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"quill/api/internal/auth"
	"quill/api/internal/gate"
	"quill/api/internal/logging"
	"quill/api/internal/validate"
)

const maxBodyBytes = 64 << 10

type HTTPServer struct {
	service      *Service
	policy       *gate.Policy
	corsOrigin   string
	cookieSecure bool
	logger       *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, cookieSecure bool, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		service:      service,
		policy:       gate.Default(),
		corsOrigin:   corsOrigin,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.withIdentity(s.withGate(http.HandlerFunc(s.handle))))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	identity := auth.FromContext(r.Context())
	isRead := r.Method == http.MethodGet || r.Method == http.MethodHead

	if isRead && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if isRead && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/gate" {
		path := strings.TrimSpace(r.URL.Query().Get("path"))
		if path == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "path is required", nil)
			return
		}
		method := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("method")))
		if method == "" {
			method = http.MethodGet
		}
		decision := s.policy.Authorize(gate.Route{Method: method, Path: path}, identity)
		writeJSON(w, http.StatusOK, map[string]any{
			"path":          path,
			"method":        method,
			"authenticated": !identity.IsAnonymous(),
			"decision":      decision,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		if identity.IsAnonymous() {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": identity.Name, "userId": identity.UserID})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/register" {
		s.handleAuthRegister(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleAuthLogin(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		if err := s.service.Logout(r.Context(), identity); err != nil {
			logging.FromContext(r.Context(), s.logger).WarnContext(r.Context(), "session revoke failed", "error", err)
		}
		s.clearSessionCookie(w)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		limit, offset, ok := pageParams(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), r.URL.Query().Get("q"), limit, offset))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard" {
		posts, err := s.service.Dashboard(r.Context(), identity)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"posts": posts, "userName": identity.Name})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "posts" {
		s.handlePosts(w, r, identity, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePosts(w http.ResponseWriter, r *http.Request, identity auth.Identity, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		posts, err := s.service.Home(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"posts": posts})

	case len(rest) == 0 && r.Method == http.MethodPost:
		raw, err := decodePostForm(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeOutcome(w, s.service.CreatePost(r.Context(), identity, raw))

	case len(rest) == 1 && r.Method == http.MethodGet:
		post, err := s.service.ShowPost(r.Context(), rest[0])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"post": post})

	case len(rest) == 1 && r.Method == http.MethodPut:
		raw, err := decodePostForm(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeOutcome(w, s.service.UpdatePost(r.Context(), identity, rest[0], raw))

	case len(rest) == 1 && r.Method == http.MethodDelete:
		writeOutcome(w, s.service.DeletePost(r.Context(), identity, rest[0]))

	case len(rest) == 2 && rest[1] == "edit" && r.Method == http.MethodGet:
		post, outcome, err := s.service.EditForm(r.Context(), identity, rest[0])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if outcome != nil {
			writeOutcome(w, *outcome)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"post": post})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"stores": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["stores"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.Register(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.setSessionCookie(w, session)
	writeJSON(w, http.StatusCreated, session)
}

func (s *HTTPServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) setSessionCookie(w http.ResponseWriter, session Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).ErrorContext(r.Context(), "request failed", "error", err)
	}
	writeError(w, status, code, message, details)
}

// withIdentity resolves the request credential once and stores it on the context.
func (s *HTTPServer) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := s.service.Resolve(r.Context(), auth.CredentialFromRequest(r))
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

// withGate applies the route policy before any handler runs.
func (s *HTTPServer) withGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		decision := s.policy.Authorize(gate.Route{Method: r.Method, Path: r.URL.Path}, auth.FromContext(r.Context()))
		if !decision.Allowed {
			writeOutcome(w, Redirect(decision.Redirect))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		r = r.WithContext(logging.WithRequestID(r.Context(), requestID))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.InfoContext(r.Context(), "request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// setCORSHeaders allows credentials only for an explicit origin. Browsers reject
// credentialed responses that carry a wildcard origin.
func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	if corsOrigin != "*" {
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Add("Vary", "Origin")
	}
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// writeOutcome encodes a mutation outcome. Redirects use 303 so form posts land on a GET.
func writeOutcome(w http.ResponseWriter, outcome Outcome) {
	switch outcome.Kind {
	case OutcomeRedirect:
		w.Header().Set("Location", outcome.Target)
		writeJSON(w, http.StatusSeeOther, map[string]any{"redirect": outcome.Target})
	case OutcomeInvalid:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"errors":  outcome.Errors,
			"title":   outcome.Raw.Title,
			"content": outcome.Raw.Content,
		})
	default:
		writeError(w, http.StatusInternalServerError, "STORAGE_FAILURE", outcome.Message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// decodePostForm accepts the post fields as JSON or as an HTML form submission.
func decodePostForm(r *http.Request) (validate.RawPost, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return validate.RawPost{}, fmt.Errorf("invalid form body")
		}
		return validate.RawPost{Title: r.PostFormValue("title"), Content: r.PostFormValue("content")}, nil
	default:
		var raw validate.RawPost
		if err := decodeBody(r, &raw); err != nil {
			return validate.RawPost{}, err
		}
		return raw, nil
	}
}

func pageParams(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit = 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer between 1 and 100", nil)
			return 0, 0, false
		}
		limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be a non-negative integer", nil)
			return 0, 0, false
		}
		offset = parsed
	}
	return limit, offset, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
