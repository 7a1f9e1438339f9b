package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/secure-session-core/internal/domain"
	"github.com/sandeepkv93/secure-session-core/internal/repository"
	"github.com/sandeepkv93/secure-session-core/internal/security"
)

const (
	DefaultGraceTTL      = time.Hour
	DefaultMinRecordTTL  = time.Minute
	defaultRecordTTL     = 30 * 24 * time.Hour
	defaultRevokeWorkers = 8
)

type RegistryOptions struct {
	GraceTTL      time.Duration
	MinTTL        time.Duration
	RevokeWorkers int
	Now           func() time.Time
}

// SessionRegistry owns the server-side lifecycle of refresh tokens: one hash
// per issued token plus best-effort user and family indexes.
type SessionRegistry struct {
	store    repository.TokenStore
	graceTTL time.Duration
	minTTL   time.Duration
	workers  int
	now      func() time.Time
}

func NewSessionRegistry(store repository.TokenStore, opts RegistryOptions) *SessionRegistry {
	r := &SessionRegistry{
		store:    store,
		graceTTL: opts.GraceTTL,
		minTTL:   opts.MinTTL,
		workers:  opts.RevokeWorkers,
		now:      opts.Now,
	}
	if r.graceTTL <= 0 {
		r.graceTTL = DefaultGraceTTL
	}
	if r.minTTL <= 0 {
		r.minTTL = DefaultMinRecordTTL
	}
	if r.workers <= 0 {
		r.workers = defaultRevokeWorkers
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Store records a freshly issued refresh token as ACTIVE. The record and both
// indexes live for max(minTTL, expiresAt-now).
func (r *SessionRegistry) Store(ctx context.Context, rawToken string, userID uint, tokenID, deviceID, familyID string, expiresAt time.Time) (domain.SessionRecord, error) {
	hash := security.HashRefreshToken(rawToken)
	rec := domain.NewSessionRecord(hash, userID, tokenID, deviceID, familyID, expiresAt)
	ttl := r.recordTTL(expiresAt)

	key := repository.RefreshKey(hash)
	if err := r.store.PutFields(ctx, key, rec.Fields()); err != nil {
		return domain.SessionRecord{}, err
	}
	if err := r.store.Expire(ctx, key, ttl); err != nil {
		return domain.SessionRecord{}, err
	}
	if err := r.index(ctx, repository.UserRefreshIndexKey(userID), hash, ttl); err != nil {
		return domain.SessionRecord{}, err
	}
	if familyID != "" {
		if err := r.index(ctx, repository.FamilyRefreshIndexKey(familyID), hash, ttl); err != nil {
			return domain.SessionRecord{}, err
		}
	}
	return rec, nil
}

func (r *SessionRegistry) Lookup(ctx context.Context, rawToken string) (domain.SessionRecord, error) {
	return r.LookupByHash(ctx, security.HashRefreshToken(rawToken))
}

// LookupByHash returns ErrUnknownSession when no record exists for hash.
func (r *SessionRegistry) LookupByHash(ctx context.Context, hash string) (domain.SessionRecord, error) {
	fields, err := r.store.GetFields(ctx, repository.RefreshKey(hash))
	if err != nil {
		return domain.SessionRecord{}, err
	}
	rec, ok := domain.SessionRecordFromFields(hash, fields)
	if !ok {
		return domain.SessionRecord{}, ErrUnknownSession
	}
	return rec, nil
}

// MarkRotated moves an ACTIVE record to ROTATED and shortens it to the grace
// TTL. It reports false when the record was not ACTIVE, which makes it the
// single-winner gate for concurrent reissues of one token.
func (r *SessionRegistry) MarkRotated(ctx context.Context, hash string) (bool, error) {
	key := repository.RefreshKey(hash)
	won, err := r.store.CompareAndSetField(ctx, key, domain.FieldStatus, string(domain.SessionActive), string(domain.SessionRotated))
	if err != nil || !won {
		return false, err
	}
	if err := r.store.Expire(ctx, key, r.graceTTL); err != nil {
		return true, err
	}
	return true, nil
}

// Revoke marks the record REVOKED with the grace TTL. Absent and already
// revoked records are left untouched.
func (r *SessionRegistry) Revoke(ctx context.Context, hash string) error {
	_, err := r.revoke(ctx, hash)
	return err
}

func (r *SessionRegistry) RevokeAllForUser(ctx context.Context, userID uint) (int, error) {
	return r.revokeIndex(ctx, repository.UserRefreshIndexKey(userID))
}

func (r *SessionRegistry) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	if familyID == "" {
		return 0, nil
	}
	return r.revokeIndex(ctx, repository.FamilyRefreshIndexKey(familyID))
}

// Sessions lists the records still reachable from the user's index.
func (r *SessionRegistry) Sessions(ctx context.Context, userID uint) ([]domain.SessionRecord, error) {
	hashes, err := r.store.SetMembers(ctx, repository.UserRefreshIndexKey(userID))
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionRecord, 0, len(hashes))
	for _, hash := range hashes {
		rec, err := r.LookupByHash(ctx, hash)
		if errors.Is(err, ErrUnknownSession) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *SessionRegistry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *SessionRegistry) revoke(ctx context.Context, hash string) (bool, error) {
	key := repository.RefreshKey(hash)
	fields, err := r.store.GetFields(ctx, key)
	if err != nil {
		return false, err
	}
	rec, ok := domain.SessionRecordFromFields(hash, fields)
	if !ok || !rec.Status.CanTransitionTo(domain.SessionRevoked) {
		return false, nil
	}
	if err := r.store.PutField(ctx, key, domain.FieldStatus, string(domain.SessionRevoked)); err != nil {
		return false, err
	}
	if err := r.store.Expire(ctx, key, r.graceTTL); err != nil {
		return true, err
	}
	return true, nil
}

func (r *SessionRegistry) revokeIndex(ctx context.Context, indexKey string) (int, error) {
	hashes, err := r.store.SetMembers(ctx, indexKey)
	if err != nil {
		return 0, err
	}
	var revoked atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, hash := range hashes {
		g.Go(func() error {
			changed, err := r.revoke(gctx, hash)
			if changed {
				revoked.Add(1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return int(revoked.Load()), err
	}
	if err := r.store.Delete(ctx, indexKey); err != nil {
		return int(revoked.Load()), err
	}
	return int(revoked.Load()), nil
}

func (r *SessionRegistry) index(ctx context.Context, indexKey, hash string, ttl time.Duration) error {
	if err := r.store.AddToSet(ctx, indexKey, hash); err != nil {
		return err
	}
	return r.store.Expire(ctx, indexKey, ttl)
}

func (r *SessionRegistry) recordTTL(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return defaultRecordTTL
	}
	ttl := expiresAt.Sub(r.now())
	if ttl < r.minTTL {
		return r.minTTL
	}
	return ttl
}
