package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sandeepkv93/secure-session-core/internal/domain"
	"github.com/sandeepkv93/secure-session-core/internal/repository"
	"github.com/sandeepkv93/secure-session-core/internal/security"
)

type LockoutPolicy struct {
	MaxAttempts     int
	LockFor         time.Duration
	RequireVerified bool
}

// CredentialService checks username/password pairs against the local user
// table and applies the lockout policy.
type CredentialService struct {
	users  repository.UserRepository
	hasher security.PasswordHasher
	policy LockoutPolicy
	now    func() time.Time
}

func NewCredentialService(users repository.UserRepository, hasher security.PasswordHasher, policy LockoutPolicy) *CredentialService {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 5
	}
	if policy.LockFor <= 0 {
		policy.LockFor = 30 * time.Minute
	}
	return &CredentialService{users: users, hasher: hasher, policy: policy, now: time.Now}
}

func (s *CredentialService) VerifyCredentials(ctx context.Context, username, password string) (*domain.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.now()
	if u.UnlockIfExpired(now) {
		if err := s.users.Update(ctx, u); err != nil {
			return nil, err
		}
	}
	if u.IsLocked(now) {
		return nil, &LockedError{Remaining: u.LockRemaining(now)}
	}

	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		locked := u.RegisterFailure(now, s.policy.MaxAttempts, s.policy.LockFor)
		if err := s.users.Update(ctx, u); err != nil {
			return nil, err
		}
		if locked {
			return nil, &LockedError{Remaining: s.policy.LockFor}
		}
		return nil, ErrInvalidCredentials
	}

	if s.policy.RequireVerified && !u.EmailVerified {
		return nil, ErrAccountUnverified
	}
	if u.FailedLogins > 0 || u.LockedUntil != nil {
		u.ResetFailures()
		if err := s.users.Update(ctx, u); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// CreateUser registers a local account with a hashed password.
func (s *CredentialService) CreateUser(ctx context.Context, username, password string, verified bool) (*domain.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	u := &domain.User{Username: username, PasswordHash: hash, EmailVerified: verified}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
