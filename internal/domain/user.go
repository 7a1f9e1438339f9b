package domain

import "time"

// User is the minimal identity the session core needs for credential checks.
type User struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Username      string     `gorm:"size:255;uniqueIndex;not null" json:"username"`
	PasswordHash  string     `gorm:"size:255;not null" json:"-"`
	EmailVerified bool       `gorm:"not null;default:false" json:"email_verified"`
	FailedLogins  int        `gorm:"not null;default:0" json:"-"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (u *User) LockRemaining(now time.Time) time.Duration {
	if u.LockedUntil == nil || !now.Before(*u.LockedUntil) {
		return 0
	}
	return u.LockedUntil.Sub(now)
}

func (u *User) IsLocked(now time.Time) bool {
	return u.LockRemaining(now) > 0
}

// UnlockIfExpired clears a lock whose window has passed and reports whether
// anything changed.
func (u *User) UnlockIfExpired(now time.Time) bool {
	if u.LockedUntil == nil || now.Before(*u.LockedUntil) {
		return false
	}
	u.LockedUntil = nil
	u.FailedLogins = 0
	return true
}

// RegisterFailure counts a failed password attempt and locks the account once
// threshold consecutive failures are reached. It reports whether a lock was applied.
func (u *User) RegisterFailure(now time.Time, threshold int, lockFor time.Duration) bool {
	u.FailedLogins++
	if threshold > 0 && u.FailedLogins >= threshold {
		until := now.Add(lockFor)
		u.LockedUntil = &until
		return true
	}
	return false
}

func (u *User) ResetFailures() {
	u.FailedLogins = 0
	u.LockedUntil = nil
}
