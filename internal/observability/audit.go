package observability

import (
	"context"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func Audit(r *http.Request, event string, attrs ...any) {
	requestID := chimiddleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = r.Header.Get("X-Request-Id")
	}
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", requestID,
	}
	slog.InfoContext(r.Context(), "audit", append(base, attrs...)...)
}

// AuditContext records a security event raised below the HTTP layer.
func AuditContext(ctx context.Context, event string, attrs ...any) {
	slog.InfoContext(ctx, "audit", append([]any{"event", event}, attrs...)...)
}
