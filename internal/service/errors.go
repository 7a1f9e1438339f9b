package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/secure-session-core/internal/repository"
	"github.com/sandeepkv93/secure-session-core/internal/security"
)

var (
	ErrUnknownSession     = errors.New("unknown session")
	ErrReplayDetected     = errors.New("refresh token replay detected")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountUnverified  = errors.New("account email not verified")
	ErrAccountLocked      = errors.New("account locked")
)

// LockedError reports how long a locked account stays locked.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	remaining := e.Remaining.Round(time.Second)
	return fmt.Sprintf("account locked, retry in %d min %d sec", int(remaining.Minutes()), int(remaining.Seconds())%60)
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// FailureKind is the closed set of outcomes callers branch on.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureInvalidToken       FailureKind = "invalid_token"
	FailureExpiredToken       FailureKind = "expired_token"
	FailureUnknownSession     FailureKind = "unknown_session"
	FailureReplayDetected     FailureKind = "replay_detected"
	FailureStoreUnavailable   FailureKind = "store_unavailable"
	FailureInvalidCredentials FailureKind = "invalid_credentials"
	FailureAccountLocked      FailureKind = "account_locked"
	FailureAccountUnverified  FailureKind = "account_unverified"
	FailureInternal           FailureKind = "internal"
)

func ClassifyFailure(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrReplayDetected):
		return FailureReplayDetected
	case errors.Is(err, repository.ErrStoreUnavailable):
		return FailureStoreUnavailable
	case errors.Is(err, security.ErrExpiredToken):
		return FailureExpiredToken
	case errors.Is(err, security.ErrInvalidToken):
		return FailureInvalidToken
	case errors.Is(err, ErrUnknownSession):
		return FailureUnknownSession
	case errors.Is(err, ErrAccountLocked):
		return FailureAccountLocked
	case errors.Is(err, ErrAccountUnverified):
		return FailureAccountUnverified
	case errors.Is(err, ErrInvalidCredentials):
		return FailureInvalidCredentials
	default:
		return FailureInternal
	}
}

// RequiresReauthentication reports whether the failure means the caller must
// log in again.
func (k FailureKind) RequiresReauthentication() bool {
	switch k {
	case FailureInvalidToken, FailureExpiredToken, FailureUnknownSession, FailureReplayDetected:
		return true
	default:
		return false
	}
}
