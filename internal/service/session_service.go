package service

import (
	"context"
	"sort"
	"time"

	"github.com/sandeepkv93/secure-session-core/internal/domain"
	"github.com/sandeepkv93/secure-session-core/internal/observability"
)

type SessionView struct {
	TokenID   string    `json:"tokenId"`
	DeviceID  string    `json:"deviceId"`
	FamilyID  string    `json:"familyId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsCurrent bool      `json:"isCurrent"`
}

type SessionService struct {
	registry *SessionRegistry
	now      func() time.Time
}

func NewSessionService(registry *SessionRegistry) *SessionService {
	return &SessionService{registry: registry, now: time.Now}
}

// ListActiveSessions returns the user's ACTIVE, unexpired sessions, newest
// expiry first. currentTokenID marks the session of the calling access token.
func (s *SessionService) ListActiveSessions(ctx context.Context, userID uint, currentTokenID string) ([]SessionView, error) {
	records, err := s.registry.Sessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]SessionView, 0, len(records))
	for _, rec := range records {
		if !rec.IsActive() || rec.Expired(now) {
			continue
		}
		views = append(views, SessionView{
			TokenID:   rec.TokenID,
			DeviceID:  rec.DeviceID,
			FamilyID:  rec.FamilyID,
			ExpiresAt: rec.ExpiresAt,
			IsCurrent: currentTokenID != "" && rec.TokenID == currentTokenID,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].ExpiresAt.After(views[j].ExpiresAt)
	})
	return views, nil
}

// RevokeSession ends one device session. The whole family is revoked so that
// tokens already rotated out of it cannot be replayed either.
func (s *SessionService) RevokeSession(ctx context.Context, userID uint, tokenID string) error {
	records, err := s.registry.Sessions(ctx, userID)
	if err != nil {
		return err
	}
	var target *domain.SessionRecord
	for i := range records {
		if records[i].TokenID == tokenID && records[i].IsActive() {
			target = &records[i]
			break
		}
	}
	if target == nil {
		return ErrUnknownSession
	}
	if target.FamilyID == "" {
		if err := s.registry.Revoke(ctx, target.TokenHash); err != nil {
			return err
		}
	} else if _, err := s.registry.RevokeFamily(ctx, target.FamilyID); err != nil {
		return err
	}
	observability.AuditContext(ctx, "session.revoked", "user_id", userID, "token_id", tokenID, "family_id", target.FamilyID)
	return nil
}

// RevokeOtherSessions revokes every lineage of the user except the one the
// current access token belongs to and reports how many records it revoked.
func (s *SessionService) RevokeOtherSessions(ctx context.Context, userID uint, currentTokenID string) (int, error) {
	records, err := s.registry.Sessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	keepFamily := ""
	for _, rec := range records {
		if rec.TokenID == currentTokenID && rec.Status != domain.SessionRevoked {
			keepFamily = rec.FamilyID
			break
		}
	}

	revoked := 0
	seen := map[string]bool{}
	for _, rec := range records {
		if rec.TokenID == currentTokenID || (keepFamily != "" && rec.FamilyID == keepFamily) {
			continue
		}
		if rec.FamilyID == "" {
			if !rec.IsActive() {
				continue
			}
			if err := s.registry.Revoke(ctx, rec.TokenHash); err != nil {
				return revoked, err
			}
			revoked++
			continue
		}
		if seen[rec.FamilyID] {
			continue
		}
		seen[rec.FamilyID] = true
		n, err := s.registry.RevokeFamily(ctx, rec.FamilyID)
		revoked += n
		if err != nil {
			return revoked, err
		}
	}
	observability.AuditContext(ctx, "session.revoked_others", "user_id", userID, "revoked", revoked)
	return revoked, nil
}
