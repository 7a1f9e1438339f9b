package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/secure-session-core/internal/config"
	"github.com/sandeepkv93/secure-session-core/internal/database"
	"github.com/sandeepkv93/secure-session-core/internal/health"
	"github.com/sandeepkv93/secure-session-core/internal/http/handler"
	"github.com/sandeepkv93/secure-session-core/internal/http/middleware"
	"github.com/sandeepkv93/secure-session-core/internal/http/router"
	"github.com/sandeepkv93/secure-session-core/internal/repository"
	"github.com/sandeepkv93/secure-session-core/internal/security"
	"github.com/sandeepkv93/secure-session-core/internal/service"
)

const integrationSecret = "integration-secret-0123456789abcdef"

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type sessionCore struct {
	baseURL  string
	client   *http.Client
	registry *service.SessionRegistry
	creds    *service.CredentialService
}

// newSessionCoreServer wires the production router over store and a fresh
// SQLite database. Servers built over one shared store behave like replicas.
func newSessionCoreServer(t *testing.T, store repository.TokenStore, dsn string) *sessionCore {
	t.Helper()
	db, err := database.Open(&config.Config{DatabaseURL: dsn})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	users := repository.NewUserRepository(db)

	signer, err := security.NewTokenSigner(security.SignerConfig{
		Issuer:        "session-core-it",
		Audience:      "session-core-it-clients",
		CurrentSecret: []byte(integrationSecret),
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	registry := service.NewSessionRegistry(store, service.RegistryOptions{GraceTTL: time.Hour, MinTTL: time.Minute, RevokeWorkers: 4})
	creds := service.NewCredentialService(users, security.NewBcryptHasher(4), service.LockoutPolicy{MaxAttempts: 5, LockFor: time.Minute})
	orch := service.NewSessionOrchestrator(signer, registry, creds, users, "web", nil)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(orch, users),
		SessionHandler:   handler.NewSessionHandler(service.NewSessionService(registry)),
		Verifier:         signer,
		Gate:             middleware.GateOptions{PublicPaths: []string{"/health/**", "/api/v1/auth/login", "/api/v1/auth/reissue"}},
		AuthRateLimitRPM: 10000,
		Readiness:        health.NewProbeRunner(time.Second, health.CheckFunc{Name: "token_store", Fn: registry.Ping}),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &sessionCore{baseURL: srv.URL, client: srv.Client(), registry: registry, creds: creds}
}

func memoryDSN(t *testing.T) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
}

func (s *sessionCore) createUser(t *testing.T, username, password string) {
	t.Helper()
	if _, err := s.creds.CreateUser(context.Background(), username, password, true); err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func (s *sessionCore) login(t *testing.T, username, password, device string) tokenPair {
	t.Helper()
	resp, env := doJSON(t, s.client, http.MethodPost, s.baseURL+"/api/v1/auth/login",
		map[string]string{"username": username, "password": password, "deviceId": device}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d", resp.StatusCode)
	}
	var pair tokenPair
	if err := json.Unmarshal(env.Data, &pair); err != nil {
		t.Fatalf("decode pair: %v", err)
	}
	return pair
}

func (s *sessionCore) reissue(t *testing.T, refreshToken string) (*http.Response, tokenPair) {
	t.Helper()
	resp, env := doJSON(t, s.client, http.MethodPost, s.baseURL+"/api/v1/auth/reissue",
		map[string]string{"refreshToken": refreshToken}, nil)
	var pair tokenPair
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(env.Data, &pair); err != nil {
			t.Fatalf("decode pair: %v", err)
		}
	}
	return resp, pair
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v body=%s", err, string(raw))
		}
	}
	return resp, env
}
