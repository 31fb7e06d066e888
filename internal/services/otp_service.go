package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/dispatch"
	"github.com/otpgate/backend/internal/models"
	"github.com/otpgate/backend/internal/templates"
	"github.com/otpgate/backend/pkg/validation"
)

const (
	alphabetNumeric      = "0123456789"
	alphabetAlphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// OtpService orchestrates the request and verify use cases. It owns all Otp
// record mutations; every state change is a guarded UPDATE so concurrent
// verifications cannot double-spend a code or lose attempt counts.
type OtpService struct {
	db         *gorm.DB
	cfg        *config.Config
	locks      *LockService
	whatsapp   *WhatsAppService
	dispatcher *dispatch.Dispatcher
	now        func() time.Time
}

func NewOtpService(db *gorm.DB, cfg *config.Config, locks *LockService, whatsapp *WhatsAppService) *OtpService {
	return &OtpService{
		db:       db,
		cfg:      cfg,
		locks:    locks,
		whatsapp: whatsapp,
		now:      time.Now,
	}
}

// AttachDispatcher wires the dispatch queues (called after initialization,
// since the queues count sends through this service).
func (s *OtpService) AttachDispatcher(d *dispatch.Dispatcher) {
	s.dispatcher = d
}

// RequestResult is the response payload of a successful OTP request.
type RequestResult struct {
	OtpID             uuid.UUID `json:"otpId"`
	ExpiresAt         time.Time `json:"expiresAt"`
	RemainingAttempts int       `json:"remainingAttempts"`
	SentToday         int       `json:"sentToday"`
}

// VerifyResult is the response payload of a successful verification.
type VerifyResult struct {
	Verified             bool `json:"verified"`
	FailedAttemptsUsed   int  `json:"otpFailedAttemptsUsed"`
	TotalAllowedAttempts int  `json:"otpTotalAllowedAttempts"`
}

// generateCode draws a fixed-length code from the configured alphabet using
// crypto/rand. The code is a credential, so a non-secure PRNG is off limits.
func (s *OtpService) generateCode() (string, error) {
	alphabet := alphabetNumeric
	if s.cfg.OtpAlphabet == "alphanumeric" {
		alphabet = alphabetAlphanumeric
	}

	code := make([]byte, s.cfg.OtpLength)
	max := big.NewInt(int64(len(alphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate OTP value: %w", err)
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}

func (s *OtpService) validateDestination(channelName, destination string) error {
	if !validation.ValidateChannelName(channelName) {
		return newError(KindValidation, "unsupported channel name")
	}
	switch channelName {
	case models.ChannelEmail:
		if !validation.ValidateEmail(destination) {
			return newError(KindValidation, "invalid email address")
		}
	default:
		if !validation.ValidatePhoneNumber(destination) {
			return newError(KindValidation, "invalid phone number")
		}
	}
	return nil
}

// RequestOtp runs the full request pipeline: lock gate, transport readiness,
// code generation, paced dispatch, then persistence. The Otp row is written
// only after the transport accepted the message, so the durable history
// counts real sends. Dispatch failures still count against the channel lock
// because abuse tracking follows resource consumption, not request success.
func (s *OtpService) RequestOtp(ctx context.Context, orgID uuid.UUID, channelName, destination string) (*RequestResult, error) {
	// Normalize once; the channel switch, the session gate and the queue
	// lookup below all key on the exact lowercase name.
	channelName = strings.ToLower(strings.TrimSpace(channelName))
	if err := s.validateDestination(channelName, destination); err != nil {
		return nil, err
	}

	var org models.Organization
	if err := s.db.First(&org, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "Organization Not Found")
		}
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}

	lock, err := s.locks.FindOrCreateLock(org.ID, channelName, destination)
	if err != nil {
		return nil, err
	}
	decision, err := s.locks.CanRequest(lock)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &ServiceError{
			Kind:                 KindChannelLocked,
			Reason:               decision.Reason,
			RemainingLockMinutes: decision.RemainingLockMinutes,
		}
	}

	if channelName == models.ChannelWhatsApp && !s.whatsapp.SessionReady(org.ID) {
		return nil, newError(KindTransportUnavailable, "Please re-authenticate WhatsApp first.")
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}

	job := dispatch.Job{
		Channel:        channelName,
		Destination:    destination,
		OrganizationID: org.ID,
		EnqueuedAt:     s.now(),
	}
	switch channelName {
	case models.ChannelWhatsApp:
		job.Message = templates.WhatsAppOtpMessage(code, org.Name)
	case models.ChannelSMS:
		job.Message = templates.SMSOtpMessage(code, org.Name)
	case models.ChannelEmail:
		job.Subject = templates.EmailOtpSubject(org.Name)
		job.Message = templates.EmailOtpText(code, org.Name)
		html, renderErr := templates.EmailOtpHTML(code, org.Name)
		if renderErr != nil {
			return nil, renderErr
		}
		job.HTMLBody = html
	}

	result, err := s.dispatcher.Enqueue(ctx, job)
	if err != nil {
		if incErr := s.locks.IncrementFailedAttempts(lock); incErr != nil {
			return nil, incErr
		}
		return nil, s.mapDispatchError(err, destination)
	}

	otp := models.Otp{
		OrganizationID: org.ID,
		ChannelName:    channelName,
		ChannelData:    destination,
		Value:          code,
		Message:        result.Message,
		ExpireAt:       s.now().Add(s.cfg.OtpTTL),
	}
	if err := s.db.Create(&otp).Error; err != nil {
		return nil, fmt.Errorf("failed to persist OTP: %w", err)
	}

	return &RequestResult{
		OtpID:             otp.ID,
		ExpiresAt:         otp.ExpireAt,
		RemainingAttempts: decision.RemainingAttempts,
		SentToday:         result.SentToday,
	}, nil
}

func (s *OtpService) mapDispatchError(err error, destination string) error {
	switch {
	case errors.Is(err, dispatch.ErrDailyLimitExceeded):
		return wrapError(KindRateLimited, fmt.Sprintf("Daily message limit reached for %s. Please try again tomorrow.", destination), err)
	case errors.Is(err, dispatch.ErrRateLimited):
		return wrapError(KindRateLimited, "Too many messages sent. Please wait before requesting another code.", err)
	case errors.Is(err, dispatch.ErrStopped):
		return wrapError(KindTransportUnavailable, "Service is shutting down. Please try again shortly.", err)
	default:
		return wrapError(KindTransportUnavailable, "Failed to send OTP. Please try again.", err)
	}
}

// VerifyOtp validates a submitted code against a stored Otp. Any validation
// failure, including expiry and reuse, records one failed attempt on the
// channel lock. A success resets the lock counter when no lock is active.
func (s *OtpService) VerifyOtp(orgID, otpID uuid.UUID, value string) (*VerifyResult, error) {
	var otp models.Otp
	if err := s.db.First(&otp, "id = ?", otpID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "OTP not found")
		}
		return nil, fmt.Errorf("failed to load OTP: %w", err)
	}
	if otp.OrganizationID != orgID {
		return nil, newError(KindValidation, "Invalid OTP for this organization")
	}

	lock, err := s.locks.FindOrCreateLock(otp.OrganizationID, otp.ChannelName, otp.ChannelData)
	if err != nil {
		return nil, err
	}

	verifyErr := s.validate(&otp, value)
	if verifyErr != nil {
		if incErr := s.locks.IncrementFailedAttempts(lock); incErr != nil {
			return nil, incErr
		}
		return nil, verifyErr
	}

	if lock.FailedAttempts > 0 && !lock.IsLocked(s.now()) {
		if err := s.locks.ResetFailedAttempts(lock); err != nil {
			return nil, err
		}
	}

	return &VerifyResult{
		Verified:             true,
		FailedAttemptsUsed:   otp.NumFailedAttempts,
		TotalAllowedAttempts: s.cfg.OtpMaxAttempts,
	}, nil
}

// validate walks the Otp state machine for one submitted value. Mutations are
// guarded UPDATEs with readback: when two verifications race, exactly one
// increment lands per call and the mark-used flip happens at most once.
func (s *OtpService) validate(otp *models.Otp, value string) error {
	now := s.now()
	if otp.IsExpired(now) {
		return newError(KindExpired, "OTP has expired")
	}
	if otp.IsEnteredSuccessfully {
		return newError(KindAlreadyUsed, "OTP has already been used successfully")
	}
	if otp.IsLocked(s.cfg.OtpMaxAttempts) {
		return newError(KindAttemptsExhausted, "OTP is locked due to too many failed attempts")
	}

	if otp.Value != value {
		if err := s.incrementOtpAttempts(otp); err != nil {
			return err
		}
		remaining := otp.RemainingAttempts(s.cfg.OtpMaxAttempts)
		if remaining == 0 {
			return newError(KindAttemptsExhausted, "OTP is locked due to too many failed attempts")
		}
		return newError(KindValidation, fmt.Sprintf("Invalid OTP. %d failed attempt(s) remaining", remaining))
	}

	return s.markUsed(otp)
}

// incrementOtpAttempts adds one failed attempt unless the record went
// terminal since it was read. A losing racer reloads and sees the state the
// winner left behind.
func (s *OtpService) incrementOtpAttempts(otp *models.Otp) error {
	res := s.db.Model(otp).
		Clauses(clause.Returning{}).
		Where("id = ? AND is_entered_successfully = ? AND num_failed_attempts < ?",
			otp.ID, false, s.cfg.OtpMaxAttempts).
		Update("num_failed_attempts", gorm.Expr("num_failed_attempts + 1"))
	if res.Error != nil {
		return fmt.Errorf("failed to increment OTP attempts: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := s.db.First(otp, "id = ?", otp.ID).Error; err != nil {
			return fmt.Errorf("failed to reload OTP: %w", err)
		}
		if otp.IsEnteredSuccessfully {
			return newError(KindAlreadyUsed, "OTP has already been used successfully")
		}
		return newError(KindAttemptsExhausted, "OTP is locked due to too many failed attempts")
	}
	return nil
}

// markUsed flips the verified flag exactly once. A concurrent racer that
// lost the flip gets AlreadyUsed instead of a second success.
func (s *OtpService) markUsed(otp *models.Otp) error {
	res := s.db.Model(otp).
		Clauses(clause.Returning{}).
		Where("id = ? AND is_entered_successfully = ? AND num_failed_attempts < ? AND expire_at > ?",
			otp.ID, false, s.cfg.OtpMaxAttempts, s.now()).
		Update("is_entered_successfully", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark OTP as used: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := s.db.First(otp, "id = ?", otp.ID).Error; err != nil {
			return fmt.Errorf("failed to reload OTP: %w", err)
		}
		switch {
		case otp.IsEnteredSuccessfully:
			return newError(KindAlreadyUsed, "OTP has already been used successfully")
		case otp.IsLocked(s.cfg.OtpMaxAttempts):
			return newError(KindAttemptsExhausted, "OTP is locked due to too many failed attempts")
		default:
			return newError(KindExpired, "OTP has expired")
		}
	}
	return nil
}

// OtpStatusInfo is the non-verifying status view of one Otp.
type OtpStatusInfo struct {
	ID                 uuid.UUID     `json:"id"`
	ChannelName        string        `json:"channelName"`
	IsExpired          bool          `json:"isExpired"`
	IsUsed             bool          `json:"isUsed"`
	IsLocked           bool          `json:"isLocked"`
	IsValid            bool          `json:"isValid"`
	FailedAttemptsUsed int           `json:"failedAttemptsUsed"`
	RemainingAttempts  int           `json:"remainingAttempts"`
	TotalAttempts      int           `json:"totalAttempts"`
	CreatedAt          time.Time     `json:"createdAt"`
	ExpiresAt          time.Time     `json:"expiresAt"`
	TimeRemaining      time.Duration `json:"timeRemaining"`
}

// OtpStatus returns the current state of an Otp without consuming an attempt.
func (s *OtpService) OtpStatus(orgID, otpID uuid.UUID) (*OtpStatusInfo, error) {
	var otp models.Otp
	if err := s.db.First(&otp, "id = ?", otpID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "OTP not found")
		}
		return nil, fmt.Errorf("failed to load OTP: %w", err)
	}
	if otp.OrganizationID != orgID {
		return nil, newError(KindValidation, "Invalid OTP for this organization")
	}

	now := s.now()
	remaining := otp.ExpireAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &OtpStatusInfo{
		ID:                 otp.ID,
		ChannelName:        otp.ChannelName,
		IsExpired:          otp.IsExpired(now),
		IsUsed:             otp.IsEnteredSuccessfully,
		IsLocked:           otp.IsLocked(s.cfg.OtpMaxAttempts),
		IsValid:            otp.IsUsable(now, s.cfg.OtpMaxAttempts),
		FailedAttemptsUsed: otp.NumFailedAttempts,
		RemainingAttempts:  otp.RemainingAttempts(s.cfg.OtpMaxAttempts),
		TotalAttempts:      s.cfg.OtpMaxAttempts,
		CreatedAt:          otp.CreatedAt,
		ExpiresAt:          otp.ExpireAt,
		TimeRemaining:      remaining,
	}, nil
}

// ListByOrganization returns an organization's OTPs newest first.
func (s *OtpService) ListByOrganization(orgID uuid.UUID, page, limit int) ([]models.Otp, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int64
	if err := s.db.Model(&models.Otp{}).Where("organization_id = ?", orgID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count OTPs: %w", err)
	}

	var otps []models.Otp
	err := s.db.Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&otps).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list OTPs: %w", err)
	}
	return otps, total, nil
}

// CountSentToday reports delivered sends for a destination since local
// midnight. Otp rows are created only after a successful send, so the row
// count is the send count. Implements dispatch.SentCounter.
func (s *OtpService) CountSentToday(channel, destination string, now time.Time) (int64, error) {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var count int64
	err := s.db.Model(&models.Otp{}).
		Where("channel_name = ? AND channel_data = ? AND created_at >= ?", channel, destination, startOfDay).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count today's sends: %w", err)
	}
	return count, nil
}

// ReapExpired deletes OTPs whose expiry lies beyond the retention window.
// Retention must cover the daily cap window, so rows still counted by
// CountSentToday are never pruned early.
func (s *OtpService) ReapExpired() (int64, error) {
	cutoff := s.now().Add(-s.cfg.OtpRetention)
	res := s.db.Where("expire_at < ?", cutoff).Delete(&models.Otp{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reap expired OTPs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
