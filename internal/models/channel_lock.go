package models

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lock statuses
const (
	LockStatusNone      = "none"
	LockStatusTemporary = "temporary"
	LockStatusPermanent = "permanent"
)

// ChannelLock tracks abuse per (organization, channel, identifier). It is
// independent of any single Otp: failed_attempts accumulates across many OTP
// requests for the same destination and only an explicit reset clears it.
type ChannelLock struct {
	ID                uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	OrganizationID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_channel_locks_identity" json:"organization_id"`
	ChannelName       string     `gorm:"not null;uniqueIndex:idx_channel_locks_identity" json:"channel_name"`
	ChannelIdentifier string     `gorm:"not null;uniqueIndex:idx_channel_locks_identity" json:"channel_identifier"`
	FailedAttempts    int        `gorm:"not null;default:0" json:"failed_attempts"`
	LockStatus        string     `gorm:"not null;default:'none'" json:"lock_status"`
	LockStartTime     *time.Time `json:"lock_start_time,omitempty"`
	LockEndTime       *time.Time `gorm:"index" json:"lock_end_time,omitempty"`
	LockDurationMin   int        `gorm:"not null;default:0" json:"lock_duration_minutes"`
	LastAttemptTime   *time.Time `json:"last_attempt_time,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (l *ChannelLock) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// IsLocked reports whether the lock is active at the given instant. A
// temporary lock whose end time has passed no longer counts as locked even
// before the lazy refresh has rewritten the row.
func (l *ChannelLock) IsLocked(now time.Time) bool {
	switch l.LockStatus {
	case LockStatusPermanent:
		return true
	case LockStatusTemporary:
		return l.LockEndTime != nil && now.Before(*l.LockEndTime)
	}
	return false
}

// LockExpired reports whether a timed lock has run out and should be cleared
// on the next access. The reaper uses the same predicate.
func (l *ChannelLock) LockExpired(now time.Time) bool {
	return l.LockStatus == LockStatusTemporary && l.LockEndTime != nil && !now.Before(*l.LockEndTime)
}

// RemainingLockMinutes returns the whole minutes until a temporary lock ends,
// rounded up. Zero for permanent locks and unlocked records.
func (l *ChannelLock) RemainingLockMinutes(now time.Time) int {
	if l.LockStatus != LockStatusTemporary || l.LockEndTime == nil || !now.Before(*l.LockEndTime) {
		return 0
	}
	return int(math.Ceil(l.LockEndTime.Sub(now).Minutes()))
}

func (l *ChannelLock) RemainingAttempts(maxAttempts int) int {
	remaining := maxAttempts - l.FailedAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}
