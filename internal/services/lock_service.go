package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockService is the escalation engine for per-destination abuse tracking.
// Every counter mutation is a guarded UPDATE against the row so concurrent
// failed verifications cannot lose increments.
type LockService struct {
	db  *gorm.DB
	cfg *config.Config
	now func() time.Time
}

func NewLockService(db *gorm.DB, cfg *config.Config) *LockService {
	return &LockService{db: db, cfg: cfg, now: time.Now}
}

// RequestDecision is the outcome of a can-request check.
type RequestDecision struct {
	Allowed              bool   `json:"allowed"`
	Reason               string `json:"reason,omitempty"`
	RemainingAttempts    int    `json:"remaining_attempts"`
	RemainingLockMinutes int    `json:"remaining_lock_minutes,omitempty"`
}

// FindOrCreateLock upserts the lock for (organization, channel, identifier).
// Concurrent creators race on the unique index; the loser's insert is a no-op
// and both end up reading the same row.
func (s *LockService) FindOrCreateLock(orgID uuid.UUID, channelName, identifier string) (*models.ChannelLock, error) {
	channelName = strings.ToLower(strings.TrimSpace(channelName))

	lock := models.ChannelLock{
		OrganizationID:    orgID,
		ChannelName:       channelName,
		ChannelIdentifier: identifier,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "organization_id"},
			{Name: "channel_name"},
			{Name: "channel_identifier"},
		},
		DoNothing: true,
	}).Create(&lock).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert channel lock: %w", err)
	}

	var out models.ChannelLock
	err = s.db.Where("organization_id = ? AND channel_name = ? AND channel_identifier = ?",
		orgID, channelName, identifier).First(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load channel lock: %w", err)
	}
	return &out, nil
}

// refreshLockState lazily clears a timed lock whose end time has passed.
// The guard in the WHERE clause makes concurrent refreshes idempotent.
func (s *LockService) refreshLockState(lock *models.ChannelLock) error {
	now := s.now()
	if !lock.LockExpired(now) {
		return nil
	}

	err := s.db.Model(&models.ChannelLock{}).
		Where("id = ? AND lock_status = ? AND lock_end_time <= ?", lock.ID, models.LockStatusTemporary, now).
		Updates(map[string]interface{}{
			"failed_attempts":   0,
			"lock_status":       models.LockStatusNone,
			"lock_start_time":   nil,
			"lock_end_time":     nil,
			"lock_duration_min": 0,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to clear expired lock: %w", err)
	}

	return s.reload(lock)
}

func (s *LockService) reload(lock *models.ChannelLock) error {
	return s.db.First(lock, "id = ?", lock.ID).Error
}

// CanRequest reports whether the destination may receive another OTP.
func (s *LockService) CanRequest(lock *models.ChannelLock) (*RequestDecision, error) {
	if err := s.refreshLockState(lock); err != nil {
		return nil, err
	}

	now := s.now()
	if lock.IsLocked(now) {
		return &RequestDecision{
			Allowed:              false,
			Reason:               s.lockReason(lock),
			RemainingLockMinutes: lock.RemainingLockMinutes(now),
		}, nil
	}

	return &RequestDecision{
		Allowed:           true,
		RemainingAttempts: lock.RemainingAttempts(s.cfg.LockMaxRequestAttempts),
	}, nil
}

func (s *LockService) lockReason(lock *models.ChannelLock) string {
	switch lock.LockStatus {
	case models.LockStatusTemporary:
		return fmt.Sprintf("%s temporarily locked due to too many failed attempts. Lock expires in %d minutes.",
			lock.ChannelIdentifier, lock.RemainingLockMinutes(s.now()))
	case models.LockStatusPermanent:
		return fmt.Sprintf("%s permanently locked due to repeated failed attempts. Please contact support or use a different one.",
			lock.ChannelIdentifier)
	}
	return fmt.Sprintf("%s is not locked.", lock.ChannelIdentifier)
}

// IncrementFailedAttempts records one failed attempt and escalates when the
// post-increment count crosses a threshold. Thresholds are config values; the
// defaults lock temporarily from the 7th failure and permanently from the 15th.
func (s *LockService) IncrementFailedAttempts(lock *models.ChannelLock) error {
	if err := s.refreshLockState(lock); err != nil {
		return err
	}

	now := s.now()
	err := s.db.Model(lock).
		Clauses(clause.Returning{}).
		Where("id = ?", lock.ID).
		Updates(map[string]interface{}{
			"failed_attempts":   gorm.Expr("failed_attempts + 1"),
			"last_attempt_time": now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to increment lock attempts: %w", err)
	}

	switch {
	case lock.FailedAttempts >= s.cfg.LockPermThreshold:
		return s.setLock(lock, models.LockStatusPermanent, 0)
	case lock.FailedAttempts >= s.cfg.LockTempThreshold:
		return s.setLock(lock, models.LockStatusTemporary, s.cfg.LockDurationMinutes)
	}
	return nil
}

func (s *LockService) setLock(lock *models.ChannelLock, status string, durationMinutes int) error {
	now := s.now()
	updates := map[string]interface{}{
		"lock_status":       status,
		"lock_start_time":   now,
		"lock_duration_min": durationMinutes,
		"lock_end_time":     nil,
	}
	if status == models.LockStatusTemporary && durationMinutes > 0 {
		updates["lock_end_time"] = now.Add(time.Duration(durationMinutes) * time.Minute)
	}

	err := s.db.Model(lock).
		Clauses(clause.Returning{}).
		Where("id = ?", lock.ID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to set %s lock: %w", status, err)
	}
	return nil
}

// ResetFailedAttempts zeroes the counter without touching lock status. Used
// after a successful verification when no lock is active.
func (s *LockService) ResetFailedAttempts(lock *models.ChannelLock) error {
	err := s.db.Model(lock).
		Clauses(clause.Returning{}).
		Where("id = ?", lock.ID).
		Update("failed_attempts", 0).Error
	if err != nil {
		return fmt.Errorf("failed to reset lock attempts: %w", err)
	}
	return nil
}

// ResetLock is the admin full reset: status none, counters zero, timestamps cleared.
func (s *LockService) ResetLock(lock *models.ChannelLock) error {
	err := s.db.Model(lock).
		Clauses(clause.Returning{}).
		Where("id = ?", lock.ID).
		Updates(map[string]interface{}{
			"failed_attempts":   0,
			"lock_status":       models.LockStatusNone,
			"lock_start_time":   nil,
			"lock_end_time":     nil,
			"lock_duration_min": 0,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reset lock: %w", err)
	}
	return nil
}

// GetLock loads a lock without creating one.
func (s *LockService) GetLock(orgID uuid.UUID, channelName, identifier string) (*models.ChannelLock, error) {
	var lock models.ChannelLock
	err := s.db.Where("organization_id = ? AND channel_name = ? AND channel_identifier = ?",
		orgID, strings.ToLower(strings.TrimSpace(channelName)), identifier).First(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "channel lock not found")
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// lockIdleRetention is how long an unlocked, untouched record is kept before
// the reaper prunes it.
const lockIdleRetention = 30 * 24 * time.Hour

// ReapExpired clears timed-out locks in bulk and prunes idle unlocked rows.
// Uses the same expiry predicate as the lazy read-path refresh.
func (s *LockService) ReapExpired() (int64, error) {
	now := s.now()

	cleared := s.db.Model(&models.ChannelLock{}).
		Where("lock_status = ? AND lock_end_time <= ?", models.LockStatusTemporary, now).
		Updates(map[string]interface{}{
			"failed_attempts":   0,
			"lock_status":       models.LockStatusNone,
			"lock_start_time":   nil,
			"lock_end_time":     nil,
			"lock_duration_min": 0,
		})
	if cleared.Error != nil {
		return 0, cleared.Error
	}

	pruned := s.db.Where("lock_status = ? AND failed_attempts = 0 AND updated_at < ?",
		models.LockStatusNone, now.Add(-lockIdleRetention)).
		Delete(&models.ChannelLock{})
	if pruned.Error != nil {
		return cleared.RowsAffected, pruned.Error
	}

	return cleared.RowsAffected + pruned.RowsAffected, nil
}
