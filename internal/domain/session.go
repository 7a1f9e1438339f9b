package domain

import (
	"strconv"
	"time"
)

type SessionStatus string

const (
	SessionActive  SessionStatus = "ACTIVE"
	SessionRotated SessionStatus = "ROTATED"
	SessionRevoked SessionStatus = "REVOKED"
)

const DefaultDeviceID = "web"

// Store field names of a session record hash.
const (
	FieldUserID    = "userId"
	FieldTokenID   = "jti"
	FieldDeviceID  = "deviceId"
	FieldFamilyID  = "familyId"
	FieldStatus    = "status"
	FieldExpiresAt = "expiresAt"
)

// SessionRecord is the server-side state of one issued refresh token.
// The raw token is never kept; TokenHash is its SHA-256 hex digest.
type SessionRecord struct {
	TokenHash string        `json:"-"`
	UserID    uint          `json:"user_id"`
	TokenID   string        `json:"token_id"`
	DeviceID  string        `json:"device_id"`
	FamilyID  string        `json:"family_id,omitempty"`
	Status    SessionStatus `json:"status"`
	ExpiresAt time.Time     `json:"expires_at"`
}

func NewSessionRecord(tokenHash string, userID uint, tokenID, deviceID, familyID string, expiresAt time.Time) SessionRecord {
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}
	return SessionRecord{
		TokenHash: tokenHash,
		UserID:    userID,
		TokenID:   tokenID,
		DeviceID:  deviceID,
		FamilyID:  familyID,
		Status:    SessionActive,
		ExpiresAt: expiresAt.UTC().Truncate(time.Second),
	}
}

func (r SessionRecord) IsActive() bool {
	return r.Status == SessionActive
}

func (r SessionRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Fields renders the record in its stored hash form. Legacy records without a
// family omit the familyId field.
func (r SessionRecord) Fields() map[string]string {
	fields := map[string]string{
		FieldUserID:   strconv.FormatUint(uint64(r.UserID), 10),
		FieldTokenID:  r.TokenID,
		FieldDeviceID: r.DeviceID,
		FieldStatus:   string(r.Status),
	}
	if r.FamilyID != "" {
		fields[FieldFamilyID] = r.FamilyID
	}
	if !r.ExpiresAt.IsZero() {
		fields[FieldExpiresAt] = strconv.FormatInt(r.ExpiresAt.Unix(), 10)
	}
	return fields
}

// SessionRecordFromFields rebuilds a record from its stored hash. It returns
// false when the hash is empty or has no status.
func SessionRecordFromFields(tokenHash string, fields map[string]string) (SessionRecord, bool) {
	if len(fields) == 0 || fields[FieldStatus] == "" {
		return SessionRecord{}, false
	}
	rec := SessionRecord{
		TokenHash: tokenHash,
		TokenID:   fields[FieldTokenID],
		DeviceID:  fields[FieldDeviceID],
		FamilyID:  fields[FieldFamilyID],
		Status:    SessionStatus(fields[FieldStatus]),
	}
	if rec.DeviceID == "" {
		rec.DeviceID = DefaultDeviceID
	}
	if id, err := strconv.ParseUint(fields[FieldUserID], 10, 64); err == nil {
		rec.UserID = uint(id)
	}
	if sec, err := strconv.ParseInt(fields[FieldExpiresAt], 10, 64); err == nil {
		rec.ExpiresAt = time.Unix(sec, 0).UTC()
	}
	return rec, true
}

// CanTransitionTo reports whether a record in status s may move to next.
// Nothing leaves REVOKED.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionActive:
		return next == SessionRotated || next == SessionRevoked
	case SessionRotated:
		return next == SessionRevoked
	default:
		return false
	}
}
