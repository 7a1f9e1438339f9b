package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/secure-session-core/internal/domain"
	"github.com/sandeepkv93/secure-session-core/internal/health"
	"github.com/sandeepkv93/secure-session-core/internal/http/handler"
	"github.com/sandeepkv93/secure-session-core/internal/http/middleware"
	"github.com/sandeepkv93/secure-session-core/internal/repository"
	"github.com/sandeepkv93/secure-session-core/internal/security"
	"github.com/sandeepkv93/secure-session-core/internal/service"
)

type routerFixture struct {
	handler     http.Handler
	credentials *service.CredentialService
	signer      *security.TokenSigner
}

func newRouterFixture(t *testing.T, mutate func(*Dependencies)) *routerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	users := repository.NewUserRepository(db)

	signer, err := security.NewTokenSigner(security.SignerConfig{
		Issuer:        "iss",
		Audience:      "aud",
		CurrentSecret: []byte("abcdefghijklmnopqrstuvwxyz123456"),
	})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	registry := service.NewSessionRegistry(repository.NewMemoryTokenStore(), service.RegistryOptions{})
	credentials := service.NewCredentialService(users, security.NewBcryptHasher(4), service.LockoutPolicy{MaxAttempts: 5, LockFor: 30 * time.Minute, RequireVerified: true})
	orch := service.NewSessionOrchestrator(signer, registry, credentials, users, "web", nil)

	dep := Dependencies{
		AuthHandler:      handler.NewAuthHandler(orch, users),
		SessionHandler:   handler.NewSessionHandler(service.NewSessionService(registry)),
		Verifier:         signer,
		Gate:             middleware.GateOptions{PublicPaths: []string{"/health/**", "/api/v1/auth/login", "/api/v1/auth/reissue"}},
		AuthRateLimitRPM: 1000,
		Readiness:        health.NewProbeRunner(time.Second, health.CheckFunc{Name: "token_store", Fn: registry.Ping}),
	}
	if mutate != nil {
		mutate(&dep)
	}
	return &routerFixture{handler: NewRouter(dep), credentials: credentials, signer: signer}
}

func perform(r http.Handler, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return env
}

func (f *routerFixture) login(t *testing.T, device string) service.TokenPair {
	t.Helper()
	rr := perform(f.handler, http.MethodPost, "/api/v1/auth/login", nil,
		fmt.Sprintf(`{"username":"alice","password":"correct-horse","deviceId":%q}`, device))
	if rr.Code != http.StatusOK {
		t.Fatalf("login expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	return decode[service.TokenPair](t, rr).Data
}

func (f *routerFixture) seedUser(t *testing.T, verified bool) {
	t.Helper()
	if _, err := f.credentials.CreateUser(context.Background(), "alice", "correct-horse", verified); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestRouterHealthEndpoints(t *testing.T) {
	f := newRouterFixture(t, nil)

	rr := perform(f.handler, http.MethodGet, "/health/live", nil, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected live response %d %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.handler, http.MethodGet, "/health/ready", nil, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"token_store"`) {
		t.Fatalf("unexpected ready response %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouterReadinessUnready(t *testing.T) {
	f := newRouterFixture(t, func(dep *Dependencies) {
		dep.Readiness = health.NewProbeRunner(time.Second, health.CheckFunc{
			Name: "token_store",
			Fn:   func(context.Context) error { return errors.New("redis down") },
		})
	})
	rr := perform(f.handler, http.MethodGet, "/health/ready", nil, "")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), `"code":"DEPENDENCY_UNREADY"`) {
		t.Fatalf("expected 503 DEPENDENCY_UNREADY, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouterLoginReissueReplayFlow(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedUser(t, true)

	first := f.login(t, "phone")
	if first.AccessToken == "" || first.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", first)
	}

	rr := perform(f.handler, http.MethodGet, "/api/v1/auth/me", map[string]string{"Authorization": "Bearer " + first.AccessToken}, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"username":"alice"`) {
		t.Fatalf("me expected 200, got %d %s", rr.Code, rr.Body.String())
	}

	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/reissue", map[string]string{"Authorization": first.RefreshToken}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reissue expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	second := decode[service.TokenPair](t, rr).Data

	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/reissue", nil, fmt.Sprintf(`{"refreshToken":%q}`, first.RefreshToken))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replay expected 401, got %d %s", rr.Code, rr.Body.String())
	}
	replayBody := decode[struct{}](t, rr)

	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/reissue", map[string]string{"Authorization": "Bearer " + second.RefreshToken}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("descendant of replayed token expected 401, got %d", rr.Code)
	}
	if got := decode[struct{}](t, rr); got.Error.Message != replayBody.Error.Message {
		t.Fatalf("token failures must share one message: %q vs %q", got.Error.Message, replayBody.Error.Message)
	}

	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/reissue", map[string]string{"Authorization": "Bearer garbage"}, "")
	if rr.Code != http.StatusUnauthorized || decode[struct{}](t, rr).Error.Message != replayBody.Error.Message {
		t.Fatalf("malformed token should look like any other token failure, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouterLogoutRevokesAllDevices(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedUser(t, true)
	phone := f.login(t, "phone")
	laptop := f.login(t, "laptop")

	rr := perform(f.handler, http.MethodGet, "/api/v1/sessions", map[string]string{"Authorization": "Bearer " + phone.AccessToken}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list sessions expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if views := decode[[]service.SessionView](t, rr).Data; len(views) != 2 {
		t.Fatalf("expected 2 sessions, got %+v", views)
	}

	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/logout", map[string]string{"Authorization": "Bearer " + phone.AccessToken}, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"revoked":2`) {
		t.Fatalf("logout expected 200 with 2 revoked, got %d %s", rr.Code, rr.Body.String())
	}
	for _, tok := range []string{phone.RefreshToken, laptop.RefreshToken} {
		rr = perform(f.handler, http.MethodPost, "/api/v1/auth/reissue", map[string]string{"Authorization": "Bearer " + tok}, "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected revoked token rejected, got %d", rr.Code)
		}
	}
}

func TestRouterRevokeSingleSession(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedUser(t, true)
	phone := f.login(t, "phone")
	laptop := f.login(t, "laptop")
	claims, err := f.signer.Verify(laptop.RefreshToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	auth := map[string]string{"Authorization": "Bearer " + phone.AccessToken}

	rr := perform(f.handler, http.MethodDelete, "/api/v1/sessions/"+claims.TokenID(), auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.handler, http.MethodDelete, "/api/v1/sessions/"+claims.TokenID(), auth, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second revoke expected 404, got %d", rr.Code)
	}
	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/reissue", map[string]string{"Authorization": "Bearer " + phone.RefreshToken}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("phone session must survive, got %d", rr.Code)
	}
}

func TestRouterRevokeOtherSessionsKeepsCaller(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedUser(t, true)
	phone := f.login(t, "phone")
	laptop := f.login(t, "laptop")

	rr := perform(f.handler, http.MethodPost, "/api/v1/sessions/revoke-others", map[string]string{"Authorization": "Bearer " + phone.AccessToken}, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"revoked":1`) {
		t.Fatalf("revoke others expected 200 with 1 revoked, got %d %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/reissue", map[string]string{"Authorization": "Bearer " + laptop.RefreshToken}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected other device rejected, got %d", rr.Code)
	}
	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/reissue", map[string]string{"Authorization": "Bearer " + phone.RefreshToken}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("caller session must survive, got %d", rr.Code)
	}
}

func TestRouterProtectedRoutesRequireIdentity(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedUser(t, true)
	pair := f.login(t, "web")

	cases := map[string]map[string]string{
		"anonymous":     nil,
		"refresh token": {"Authorization": "Bearer " + pair.RefreshToken},
		"garbage":       {"Authorization": "Bearer nope"},
	}
	for name, headers := range cases {
		t.Run(name, func(t *testing.T) {
			rr := perform(f.handler, http.MethodGet, "/api/v1/auth/me", headers, "")
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
}

func TestRouterLoginFailures(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedUser(t, false)

	rr := perform(f.handler, http.MethodPost, "/api/v1/auth/login", nil, `{"username":"alice"}`)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "VALIDATION_FAILED") {
		t.Fatalf("expected validation failure, got %d %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/login", nil, `{"username":"alice","password":"correct-horse"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("unverified account expected 403, got %d %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/login", nil, `{"username":"alice","password":"wrong"}`)
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "credentials incorrect") {
		t.Fatalf("bad password expected generic 401, got %d %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/login", nil, `{"username":"ghost","password":"wrong"}`)
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "credentials incorrect") {
		t.Fatalf("unknown user expected the same generic 401, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouterLoginLockout(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedUser(t, true)

	var rr *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		rr = perform(f.handler, http.MethodPost, "/api/v1/auth/login", nil, `{"username":"alice","password":"wrong"}`)
	}
	if rr.Code != http.StatusLocked || !strings.Contains(rr.Body.String(), "ACCOUNT_LOCKED") {
		t.Fatalf("fifth failure expected 423, got %d %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.handler, http.MethodPost, "/api/v1/auth/login", nil, `{"username":"alice","password":"correct-horse"}`)
	if rr.Code != http.StatusLocked {
		t.Fatalf("locked account must refuse correct password, got %d", rr.Code)
	}
}

func TestRouterAuthRateLimit(t *testing.T) {
	f := newRouterFixture(t, func(dep *Dependencies) { dep.AuthRateLimitRPM = 2 })
	codes := []int{}
	for i := 0; i < 3; i++ {
		rr := perform(f.handler, http.MethodPost, "/api/v1/auth/reissue", nil, `{"refreshToken":"x"}`)
		codes = append(codes, rr.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request throttled, got %v", codes)
	}
	rr := perform(f.handler, http.MethodGet, "/health/live", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("health must not share the auth budget, got %d", rr.Code)
	}
}
