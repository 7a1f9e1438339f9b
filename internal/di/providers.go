package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/sandeepkv93/secure-session-core/internal/app"
	"github.com/sandeepkv93/secure-session-core/internal/config"
	"github.com/sandeepkv93/secure-session-core/internal/database"
	"github.com/sandeepkv93/secure-session-core/internal/health"
	"github.com/sandeepkv93/secure-session-core/internal/http/handler"
	"github.com/sandeepkv93/secure-session-core/internal/http/middleware"
	"github.com/sandeepkv93/secure-session-core/internal/http/router"
	"github.com/sandeepkv93/secure-session-core/internal/observability"
	"github.com/sandeepkv93/secure-session-core/internal/repository"
	"github.com/sandeepkv93/secure-session-core/internal/security"
	"github.com/sandeepkv93/secure-session-core/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideLogging,
	provideLogger,
	provideObservabilityRuntime,
)

var RuntimeInfraSet = wire.NewSet(
	provideOpenDB,
	ProvideTokenStore,
)

var RepositorySet = wire.NewSet(
	repository.NewUserRepository,
)

var SecuritySet = wire.NewSet(
	provideTokenSigner,
	providePasswordHasher,
)

var ServiceSet = wire.NewSet(
	provideSessionRegistry,
	provideCredentialService,
	provideSessionOrchestrator,
	service.NewSessionService,
	wire.Bind(new(service.CredentialVerifier), new(*service.CredentialService)),
	wire.Bind(new(service.SessionManager), new(*service.SessionOrchestrator)),
	wire.Bind(new(service.SessionLister), new(*service.SessionService)),
	wire.Bind(new(service.UserLookup), new(repository.UserRepository)),
)

var HTTPSet = wire.NewSet(
	handler.NewAuthHandler,
	handler.NewSessionHandler,
	provideReadiness,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(provideApp)

type logging struct {
	Logger   *slog.Logger
	Provider *sdklog.LoggerProvider
}

func provideLogging(cfg *config.Config) (logging, error) {
	logger, lp, err := observability.NewLogger(context.Background(), cfg)
	if err != nil {
		return logging{}, err
	}
	return logging{Logger: logger, Provider: lp}, nil
}

func provideLogger(l logging) *slog.Logger {
	return l.Logger
}

func provideObservabilityRuntime(cfg *config.Config, l logging) (*observability.Runtime, error) {
	return observability.InitRuntime(context.Background(), cfg, l.Logger, l.Provider)
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db, cleanup, nil
}

// ProvideTokenStore picks the session store at startup: Redis when REDIS_ADDR
// is set, the in-process store otherwise. An unreachable Redis is fatal unless
// TOKEN_STORE_FALLBACK allows the in-process store instead.
func ProvideTokenStore(cfg *config.Config, logger *slog.Logger) (repository.TokenStore, func(), error) {
	if cfg.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		store := repository.NewRedisTokenStore(client, cfg.RedisKeyPrefix, cfg.RedisOpTimeout)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := store.Ping(ctx)
		cancel()
		if err == nil {
			logger.Info("token store ready", "backend", "redis", "addr", cfg.RedisAddr)
			return store, func() { _ = client.Close() }, nil
		}
		_ = client.Close()
		if !cfg.TokenStoreFallback {
			return nil, nil, fmt.Errorf("token store: %w", err)
		}
		logger.Warn("redis unreachable, falling back to in-process token store; sessions will not survive restarts or be shared across instances",
			"addr", cfg.RedisAddr, "error", err)
	}

	store := repository.NewMemoryTokenStore()
	ctx, cancel := context.WithCancel(context.Background())
	go store.RunJanitor(ctx, cfg.MemoryStoreSweep)
	logger.Info("token store ready", "backend", "memory", "sweep_interval", cfg.MemoryStoreSweep.String())
	return store, cancel, nil
}

func provideTokenSigner(cfg *config.Config) (*security.TokenSigner, error) {
	return security.NewTokenSigner(security.SignerConfig{
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		CurrentSecret:  cfg.JWTSecret,
		PreviousSecret: cfg.JWTPreviousSecret,
		AccessTTL:      cfg.JWTAccessTTL,
		RefreshTTL:     cfg.JWTRefreshTTL,
		Leeway:         cfg.JWTLeeway,
	})
}

func providePasswordHasher(cfg *config.Config) security.PasswordHasher {
	return security.NewBcryptHasher(cfg.BcryptCost)
}

func provideSessionRegistry(store repository.TokenStore, cfg *config.Config) *service.SessionRegistry {
	return service.NewSessionRegistry(store, service.RegistryOptions{
		GraceTTL:      cfg.SessionGraceTTL,
		MinTTL:        cfg.SessionMinTTL,
		RevokeWorkers: cfg.SessionRevokeWorkers,
	})
}

func provideCredentialService(users repository.UserRepository, hasher security.PasswordHasher, cfg *config.Config) *service.CredentialService {
	return service.NewCredentialService(users, hasher, service.LockoutPolicy{
		MaxAttempts:     cfg.LoginLockAttempts,
		LockFor:         cfg.LoginLockDuration,
		RequireVerified: cfg.RequireVerified,
	})
}

func provideSessionOrchestrator(
	signer *security.TokenSigner,
	registry *service.SessionRegistry,
	credentials service.CredentialVerifier,
	users service.UserLookup,
	cfg *config.Config,
	logger *slog.Logger,
) *service.SessionOrchestrator {
	return service.NewSessionOrchestrator(signer, registry, credentials, users, cfg.DefaultDeviceID, logger)
}

func provideReadiness(registry *service.SessionRegistry, db *gorm.DB) *health.ProbeRunner {
	checks := []health.Checker{health.CheckFunc{Name: "token_store", Fn: registry.Ping}}
	if db != nil {
		checks = append(checks, health.CheckFunc{Name: "database", Fn: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}})
	}
	return health.NewProbeRunner(2*time.Second, checks...)
}

func provideRouterDependencies(
	authHandler *handler.AuthHandler,
	sessionHandler *handler.SessionHandler,
	signer *security.TokenSigner,
	readiness *health.ProbeRunner,
	cfg *config.Config,
) router.Dependencies {
	var verifier middleware.AccessVerifier
	if signer != nil {
		verifier = signer
	}
	return router.Dependencies{
		AuthHandler:    authHandler,
		SessionHandler: sessionHandler,
		Verifier:       verifier,
		Gate: middleware.GateOptions{
			PublicPaths: cfg.AuthPublicPaths,
			HardFail:    cfg.AuthGateHardFail,
		},
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.EnableOTelHTTP,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideApp(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, readiness *health.ProbeRunner) *app.App {
	return app.New(cfg, logger, server, runtime, readiness)
}
