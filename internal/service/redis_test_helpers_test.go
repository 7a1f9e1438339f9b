package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/secure-session-core/internal/domain"
	"github.com/sandeepkv93/secure-session-core/internal/repository"
	"github.com/sandeepkv93/secure-session-core/internal/security"
)

func newRedisClientForTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return server, client
}

type inMemoryUserRepo struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*domain.User
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	return &inMemoryUserRepo{nextID: 1, byID: map[uint]*domain.User{}}
}

func (r *inMemoryUserRepo) FindByID(_ context.Context, id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *inMemoryUserRepo) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(strings.TrimSpace(username))
	for _, u := range r.byID {
		if u.Username == name {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *inMemoryUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.ID = r.nextID
	r.nextID++
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	cp := *user
	r.byID[cp.ID] = &cp
	return nil
}

func (r *inMemoryUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	cp := *user
	r.byID[cp.ID] = &cp
	return nil
}

func (r *inMemoryUserRepo) delete(id uint) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

type sessionFixture struct {
	store       repository.TokenStore
	signer      *security.TokenSigner
	registry    *SessionRegistry
	users       *inMemoryUserRepo
	credentials *CredentialService
	orch        *SessionOrchestrator
	sessions    *SessionService
}

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestSigner(t *testing.T) *security.TokenSigner {
	t.Helper()
	signer, err := security.NewTokenSigner(security.SignerConfig{
		Issuer:        "session-core-test",
		Audience:      "session-core-clients",
		CurrentSecret: []byte(testSecret),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer
}

func newSessionFixture(t *testing.T, store repository.TokenStore) *sessionFixture {
	t.Helper()
	users := newInMemoryUserRepo()
	credentials := NewCredentialService(users, security.NewBcryptHasher(4), LockoutPolicy{MaxAttempts: 3, LockFor: 30 * time.Minute})
	signer := newTestSigner(t)
	registry := NewSessionRegistry(store, RegistryOptions{RevokeWorkers: 4})
	return &sessionFixture{
		store:       store,
		signer:      signer,
		registry:    registry,
		users:       users,
		credentials: credentials,
		orch:        NewSessionOrchestrator(signer, registry, credentials, users, "", nil),
		sessions:    NewSessionService(registry),
	}
}

func (f *sessionFixture) createUser(t *testing.T, username, password string) *domain.User {
	t.Helper()
	u, err := f.credentials.CreateUser(context.Background(), username, password, true)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *sessionFixture) login(t *testing.T, username, password, device string) *TokenPair {
	t.Helper()
	pair, err := f.orch.Login(context.Background(), LoginInput{Username: username, Password: password, DeviceID: device})
	if err != nil {
		t.Fatalf("login %s/%s: %v", username, device, err)
	}
	return pair
}

func (f *sessionFixture) status(t *testing.T, refreshToken string) domain.SessionStatus {
	t.Helper()
	rec, err := f.registry.Lookup(context.Background(), refreshToken)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return rec.Status
}
