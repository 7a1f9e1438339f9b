package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/secure-session-core/internal/health"
	"github.com/sandeepkv93/secure-session-core/internal/http/handler"
	"github.com/sandeepkv93/secure-session-core/internal/http/middleware"
	"github.com/sandeepkv93/secure-session-core/internal/http/response"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	SessionHandler   *handler.SessionHandler
	Verifier         middleware.AccessVerifier
	Gate             middleware.GateOptions
	AuthRateLimitRPM int
	AuthRateLimiter  func(http.Handler) http.Handler
	Readiness        *health.ProbeRunner
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.AuthenticationGate(dep.Verifier, dep.Gate))
	r.Use(middleware.StructuredRequestLogger)

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		rpm := dep.AuthRateLimitRPM
		if rpm <= 0 {
			rpm = 30
		}
		authLimiter = middleware.NewRateLimiter(rpm, time.Minute, "auth").Middleware()
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Post("/reissue", dep.AuthHandler.Reissue)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuthenticated)
				r.Post("/logout", dep.AuthHandler.Logout)
				r.Get("/me", dep.AuthHandler.Me)
			})
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Use(middleware.RequireAuthenticated)
			r.Get("/", dep.SessionHandler.List)
			r.Post("/revoke-others", dep.SessionHandler.RevokeOthers)
			r.Delete("/{token_id}", dep.SessionHandler.Revoke)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
