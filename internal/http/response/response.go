package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sandeepkv93/secure-session-core/internal/service"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    meta        `json:"meta"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &apiError{Code: code, Message: message, Details: details}, Meta: buildMeta(r)})
}

// Failure writes the envelope for a session or credential error. Token and
// session failures share one generic body so clients cannot probe which
// check rejected them.
func Failure(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.ClassifyFailure(err)
	switch kind {
	case service.FailureInvalidToken, service.FailureExpiredToken, service.FailureUnknownSession, service.FailureReplayDetected:
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
		Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "please re-authenticate", nil)
	case service.FailureStoreUnavailable:
		Error(w, r, http.StatusServiceUnavailable, "SESSION_STORE_UNAVAILABLE", "session store unavailable", nil)
	case service.FailureInvalidCredentials:
		Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "credentials incorrect", nil)
	case service.FailureAccountLocked:
		var locked *service.LockedError
		var details interface{}
		if errors.As(err, &locked) {
			remaining := locked.Remaining.Round(time.Second)
			details = map[string]int{
				"minutes": int(remaining.Minutes()),
				"seconds": int(remaining.Seconds()) % 60,
			}
		}
		Error(w, r, http.StatusLocked, "ACCOUNT_LOCKED", err.Error(), details)
	case service.FailureAccountUnverified:
		Error(w, r, http.StatusForbidden, "ACCOUNT_UNVERIFIED", "email address not verified", nil)
	default:
		slog.ErrorContext(r.Context(), "request failed", "error", err, "request_id", chimiddleware.GetReqID(r.Context()))
		Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
