package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sandeepkv93/secure-session-core/internal/config"
	"github.com/sandeepkv93/secure-session-core/internal/health"
	"github.com/sandeepkv93/secure-session-core/internal/observability"
)

type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Observability   *observability.Runtime
	Readiness       *health.ProbeRunner
	ShutdownTimeout time.Duration

	stop func()
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, readiness *health.ProbeRunner) *App {
	timeout := 10 * time.Second
	if cfg != nil && cfg.ShutdownTimeout > 0 {
		timeout = cfg.ShutdownTimeout
	}
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		Readiness:       readiness,
		ShutdownTimeout: timeout,
	}
}

// OnStop registers a function released after the HTTP server drains, such as
// store connections and the memory janitor.
func (a *App) OnStop(fn func()) {
	if fn == nil {
		return
	}
	prev := a.stop
	a.stop = func() {
		fn()
		if prev != nil {
			prev()
		}
	}
}

func (a *App) StopBackgroundTasks() {
	if a.stop != nil {
		a.stop()
		a.stop = nil
	}
}

// Run serves until ctx is cancelled or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "addr", ln.Addr().String())
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
			defer cancel()
			_ = a.Shutdown(shutdownCtx)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Shutdown drains HTTP first, then background tasks, then telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.StopBackgroundTasks()
	if err := a.Observability.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		a.Logger.Error("shutdown finished with errors", "error", errors.Join(errs...))
	} else {
		a.Logger.Info("shutdown complete")
	}
	return errors.Join(errs...)
}
