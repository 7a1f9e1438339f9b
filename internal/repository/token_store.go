package repository

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable wraps every backend failure of a TokenStore. Callers that
// need the store to make a security decision must fail closed on it.
var ErrStoreUnavailable = errors.New("token store unavailable")

// TokenStore is a small key/value surface with field maps, sets and per-key
// TTLs. Single-key operations are atomic; nothing is transactional across keys.
type TokenStore interface {
	PutFields(ctx context.Context, key string, fields map[string]string) error
	PutField(ctx context.Context, key, field, value string) error
	// GetFields returns an empty map when the key is absent or expired.
	GetFields(ctx context.Context, key string) (map[string]string, error)
	// CompareAndSetField writes value only if the field currently equals expected.
	CompareAndSetField(ctx context.Context, key, field, expected, value string) (bool, error)
	AddToSet(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	// Expire is a no-op for absent keys.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

func RefreshKey(tokenHash string) string {
	return "refresh:" + tokenHash
}

func UserRefreshIndexKey(userID uint) string {
	return fmt.Sprintf("user:%d:refresh", userID)
}

func FamilyRefreshIndexKey(familyID string) string {
	return "family:" + familyID + ":refresh"
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
