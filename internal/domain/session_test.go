package domain

import (
	"testing"
	"time"
)

func TestSessionStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionActive, SessionRotated, true},
		{SessionActive, SessionRevoked, true},
		{SessionRotated, SessionRevoked, true},
		{SessionRotated, SessionActive, false},
		{SessionRevoked, SessionActive, false},
		{SessionRevoked, SessionRotated, false},
		{SessionActive, SessionActive, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSessionRecordFieldsRoundTrip(t *testing.T) {
	exp := time.Unix(1900000000, 0).UTC()
	rec := NewSessionRecord("abc", 7, "jti-1", "", "fam-1", exp)
	if rec.DeviceID != DefaultDeviceID || rec.Status != SessionActive {
		t.Fatalf("unexpected defaults: %+v", rec)
	}
	fields := rec.Fields()
	if fields[FieldExpiresAt] != "1900000000" || fields[FieldUserID] != "7" {
		t.Fatalf("unexpected stored fields: %+v", fields)
	}
	got, ok := SessionRecordFromFields("abc", fields)
	if !ok {
		t.Fatal("expected record to decode")
	}
	if got != rec {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, rec)
	}
}

func TestSessionRecordFromFieldsLegacyAndEmpty(t *testing.T) {
	if _, ok := SessionRecordFromFields("h", map[string]string{}); ok {
		t.Fatal("empty hash must not decode")
	}
	rec, ok := SessionRecordFromFields("h", map[string]string{FieldUserID: "3", FieldStatus: "ROTATED"})
	if !ok {
		t.Fatal("expected legacy record to decode")
	}
	if rec.FamilyID != "" || rec.DeviceID != DefaultDeviceID || rec.Status != SessionRotated {
		t.Fatalf("unexpected legacy record: %+v", rec)
	}
	if rec.Expired(time.Now()) {
		t.Fatal("record without expiry must not report expired")
	}
}

func TestUserLockout(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	u := &User{}
	for i := 0; i < 4; i++ {
		if u.RegisterFailure(now, 5, 30*time.Minute) {
			t.Fatalf("locked too early at attempt %d", i+1)
		}
	}
	if !u.RegisterFailure(now, 5, 30*time.Minute) {
		t.Fatal("expected lock on fifth failure")
	}
	if got := u.LockRemaining(now.Add(10 * time.Minute)); got != 20*time.Minute {
		t.Fatalf("unexpected remaining lock: %v", got)
	}
	if u.UnlockIfExpired(now.Add(29 * time.Minute)) {
		t.Fatal("lock must hold inside the window")
	}
	if !u.UnlockIfExpired(now.Add(30 * time.Minute)) {
		t.Fatal("expected unlock once the window passed")
	}
	if u.FailedLogins != 0 || u.IsLocked(now.Add(30*time.Minute)) {
		t.Fatalf("unexpected state after unlock: %+v", u)
	}
}
