// Package server exposes the sign-in audit log over a small JSON API used by
// back-office screens.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/auth"
	httpmiddleware "github.com/wolfeidau/storefront/internal/http"
	"github.com/wolfeidau/storefront/internal/logger"
	"github.com/wolfeidau/storefront/internal/signin"
)

const maxBodyBytes = 64 << 10

// Server serves the audit API.
type Server struct {
	audit    *signin.Logger
	authn    *auth.Authenticator
	validate *validator.Validate
}

// NewServer creates a server backed by the given audit logger. Callers are
// authenticated with authn; reads require an administrator or service token.
func NewServer(audit *signin.Logger, authn *auth.Authenticator) *Server {
	return &Server{
		audit:    audit,
		authn:    authn,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handler returns the HTTP handler for the server with request logging,
// client IP extraction and authentication applied.
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Handle("POST /api/signins", auth.Require(http.HandlerFunc(s.logSignIn), auth.PermSignInsWrite, auth.PermSignInsWriteOwn))
	mux.Handle("GET /api/signins", auth.Require(http.HandlerFunc(s.recentSignIns), auth.PermSignInsRead))
	mux.Handle("GET /api/signins/stats", auth.Require(http.HandlerFunc(s.signInStats), auth.PermSignInsRead))
	mux.Handle("GET /api/users/{id}/signins", auth.Require(http.HandlerFunc(s.userSignIns), auth.PermSignInsRead))

	return logger.HTTPRequests(log)(httpmiddleware.ClientIPMiddleware()(s.authn.Middleware()(mux)))
}

// logSignIn records an attempt. The client IP is taken from the request and
// never from the body. Callers without the write permission may only record
// their own attempts. The response is 202 even when the write fails.
func (s *Server) logSignIn(w http.ResponseWriter, r *http.Request) {
	var attempt signin.Attempt

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&attempt); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	attempt.IPAddress = ""
	attempt.DeviceInfo = nil
	if attempt.UserAgent == "" {
		attempt.UserAgent = r.UserAgent()
	}

	if err := s.validate.Struct(attempt); err != nil {
		writeError(w, http.StatusBadRequest, formatValidationErrors(err))
		return
	}

	if !auth.PrincipalFromContext(r.Context()).CanRecord(attempt.UserID, attempt.Success) {
		writeError(w, http.StatusForbidden, "cannot record a sign-in for another user")
		return
	}

	attempt.IPAddress = httpmiddleware.ClientIPFromContext(r.Context())

	s.audit.LogSignIn(r.Context(), attempt)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) recentSignIns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sign_ins": s.audit.GetRecentSignIns(r.Context(), limit),
	})
}

func (s *Server) userSignIns(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"sign_ins": s.audit.GetUserSignInHistory(r.Context(), userID, limit),
	})
}

func (s *Server) signInStats(w http.ResponseWriter, r *http.Request) {
	start, err := parseTime(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTime(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start != nil && end != nil && end.Before(*start) {
		writeError(w, http.StatusBadRequest, "end must not be before start")
		return
	}

	writeJSON(w, http.StatusOK, s.audit.GetSignInStats(r.Context(), start, end))
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return limit, nil
}

func parseTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC3339 timestamp", name)
	}
	return &t, nil
}

func formatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		switch fieldError.Tag() {
		case "required", "required_if":
			messages = append(messages, fmt.Sprintf("%s is required", fieldError.Field()))
		case "email":
			messages = append(messages, fmt.Sprintf("%s must be a valid email address", fieldError.Field()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters long", fieldError.Field(), fieldError.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", fieldError.Field()))
		}
	}
	return strings.Join(messages, "; ")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
