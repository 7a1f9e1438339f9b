package di

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/sandeepkv93/secure-session-core/internal/config"
	"github.com/sandeepkv93/secure-session-core/internal/http/router"
	"github.com/sandeepkv93/secure-session-core/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProvideHTTPServer(t *testing.T) {
	cfg := &config.Config{HTTPPort: "9999"}
	srv := provideHTTPServer(cfg, nil)
	if srv.Addr != ":9999" {
		t.Fatalf("unexpected addr: %s", srv.Addr)
	}
	if srv.ReadTimeout.Seconds() != 10 {
		t.Fatalf("unexpected read timeout: %v", srv.ReadTimeout)
	}
}

func TestProvideRouterDependencies(t *testing.T) {
	cfg := &config.Config{
		AuthPublicPaths:  []string{"/health/**"},
		AuthGateHardFail: true,
		AuthRateLimitRPM: 12,
	}
	dep := provideRouterDependencies(nil, nil, nil, nil, cfg)
	if dep.AuthRateLimitRPM != 12 {
		t.Fatalf("unexpected rate limit: %+v", dep)
	}
	if !dep.Gate.HardFail || len(dep.Gate.PublicPaths) != 1 {
		t.Fatalf("unexpected gate options: %+v", dep.Gate)
	}
	if dep.Verifier != nil {
		t.Fatal("expected nil verifier when no signer is wired")
	}
	_ = router.Dependencies(dep)
}

func TestProvideTokenStoreDefaultsToMemory(t *testing.T) {
	cfg := &config.Config{MemoryStoreSweep: time.Minute}
	store, cleanup, err := ProvideTokenStore(cfg, discardLogger())
	if err != nil {
		t.Fatalf("provide: %v", err)
	}
	defer cleanup()
	if _, ok := store.(*repository.MemoryTokenStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestProvideTokenStoreUsesRedisWhenReachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{RedisAddr: mr.Addr(), RedisOpTimeout: time.Second, MemoryStoreSweep: time.Minute}
	store, cleanup, err := ProvideTokenStore(cfg, discardLogger())
	if err != nil {
		t.Fatalf("provide: %v", err)
	}
	defer cleanup()
	if _, ok := store.(*repository.RedisTokenStore); !ok {
		t.Fatalf("expected redis store, got %T", store)
	}
	if err := store.PutField(context.Background(), "probe", "k", "v"); err != nil {
		t.Fatalf("write through redis store: %v", err)
	}
	if !mr.Exists("probe") {
		t.Fatal("expected key written to redis")
	}
}

func TestProvideTokenStoreUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := &config.Config{RedisAddr: addr, RedisOpTimeout: 100 * time.Millisecond, MemoryStoreSweep: time.Minute}
	if _, _, err := ProvideTokenStore(cfg, discardLogger()); err == nil || !strings.Contains(err.Error(), "token store") {
		t.Fatalf("expected startup failure without fallback, got %v", err)
	}

	cfg.TokenStoreFallback = true
	store, cleanup, err := ProvideTokenStore(cfg, discardLogger())
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	defer cleanup()
	if _, ok := store.(*repository.MemoryTokenStore); !ok {
		t.Fatalf("expected memory fallback, got %T", store)
	}
}

func TestProvideReadinessReportsStoreAndDatabase(t *testing.T) {
	cfg := &config.Config{
		DatabaseURL:          "file:di-readiness?mode=memory&cache=shared",
		SessionGraceTTL:      time.Hour,
		SessionMinTTL:        time.Minute,
		SessionRevokeWorkers: 2,
	}
	db, cleanup, err := provideOpenDB(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer cleanup()

	registry := provideSessionRegistry(repository.NewMemoryTokenStore(), cfg)
	ready, results := provideReadiness(registry, db).Ready(context.Background())
	if !ready {
		t.Fatalf("expected ready, got %+v", results)
	}
	if len(results) != 2 {
		t.Fatalf("expected token_store and database checks, got %+v", results)
	}
}

func TestProvideCredentialServiceAndHasherFromConfig(t *testing.T) {
	cfg := &config.Config{BcryptCost: 4, LoginLockAttempts: 3, LoginLockDuration: time.Minute}
	hasher := providePasswordHasher(cfg)
	hash, err := hasher.Hash("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := hasher.Compare(hash, "s3cret-pass"); err != nil {
		t.Fatalf("compare: %v", err)
	}
	if provideCredentialService(nil, hasher, cfg) == nil {
		t.Fatal("expected credential service")
	}
}
