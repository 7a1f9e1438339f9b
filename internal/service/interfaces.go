package service

import (
	"context"

	"github.com/sandeepkv93/secure-session-core/internal/domain"
)

type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) (*domain.User, error)
}

type UserLookup interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
}

type SessionManager interface {
	Login(ctx context.Context, in LoginInput) (*TokenPair, error)
	Reissue(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, userID uint) (int, error)
}

type SessionLister interface {
	ListActiveSessions(ctx context.Context, userID uint, currentTokenID string) ([]SessionView, error)
	RevokeSession(ctx context.Context, userID uint, tokenID string) error
	RevokeOtherSessions(ctx context.Context, userID uint, currentTokenID string) (int, error)
}
