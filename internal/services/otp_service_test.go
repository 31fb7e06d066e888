package services

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otpgate/backend/internal/dispatch"
	"github.com/otpgate/backend/internal/models"
)

type stubSender struct {
	mu   sync.Mutex
	sent []dispatch.Job
	fail error
}

func (s *stubSender) Send(ctx context.Context, job dispatch.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, job)
	return nil
}

type otpFixture struct {
	svc    *OtpService
	locks  *LockService
	sender *stubSender
	org    *models.Organization
}

func newOtpFixture(t *testing.T) *otpFixture {
	db := newTestDB(t)
	cfg := newTestConfig()

	locks := NewLockService(db, cfg)
	whatsapp := NewWhatsAppService(db, cfg)
	svc := NewOtpService(db, cfg, locks, whatsapp)

	sender := &stubSender{}
	limiter := dispatch.NewLimiter(cfg.SendHourlyCap, cfg.SendDailyCap)
	humanizer := dispatch.NewHumanizer(0, 0, false)
	queues := map[string]*dispatch.Queue{
		models.ChannelEmail:    dispatch.NewQueue(models.ChannelEmail, cfg.EmailDailyCap, 16, sender, svc, limiter, humanizer),
		models.ChannelSMS:      dispatch.NewQueue(models.ChannelSMS, cfg.MessagingDailyCap, 16, sender, svc, limiter, humanizer),
		models.ChannelWhatsApp: dispatch.NewQueue(models.ChannelWhatsApp, cfg.MessagingDailyCap, 16, sender, svc, limiter, humanizer),
	}
	d := dispatch.NewDispatcher(queues)
	t.Cleanup(d.Stop)
	svc.AttachDispatcher(d)

	return &otpFixture{
		svc:    svc,
		locks:  locks,
		sender: sender,
		org:    createTestOrganization(t, db, "acme"),
	}
}

func (f *otpFixture) loadOtp(t *testing.T, id interface{}) *models.Otp {
	t.Helper()
	var otp models.Otp
	require.NoError(t, f.svc.db.First(&otp, "id = ?", id).Error)
	return &otp
}

func TestRequestOtpEmail(t *testing.T) {
	f := newOtpFixture(t)

	result, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	assert.Equal(t, 1, result.SentToday)
	assert.Equal(t, 7, result.RemainingAttempts)

	otp := f.loadOtp(t, result.OtpID)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), otp.Value)
	assert.Equal(t, models.ChannelEmail, otp.ChannelName)
	assert.Equal(t, "user@test.io", otp.ChannelData)
	assert.WithinDuration(t, time.Now().Add(90*time.Second), otp.ExpireAt, 3*time.Second)
	assert.Contains(t, otp.Message, otp.Value)

	require.Len(t, f.sender.sent, 1)
	assert.Contains(t, f.sender.sent[0].Subject, "acme")
	assert.NotEmpty(t, f.sender.sent[0].HTMLBody)
}

func TestRequestOtpNormalizesChannelName(t *testing.T) {
	f := newOtpFixture(t)

	// Mixed case must behave exactly like the lowercase channel: email goes
	// through to its queue, whatsapp hits the session gate instead of
	// falling through to a queue-lookup failure.
	result, err := f.svc.RequestOtp(context.Background(), f.org.ID, " EMail ", "user@test.io")
	require.NoError(t, err)
	assert.Equal(t, models.ChannelEmail, f.loadOtp(t, result.OtpID).ChannelName)

	_, err = f.svc.RequestOtp(context.Background(), f.org.ID, "WhatsApp", "+4915112345678")
	require.Error(t, err)
	assert.Equal(t, KindTransportUnavailable, AsServiceError(err).Kind)

	// the gated request never reached dispatch, so no lock attempt was spent
	lock, err := f.locks.GetLock(f.org.ID, models.ChannelWhatsApp, "+4915112345678")
	require.NoError(t, err)
	assert.Equal(t, 0, lock.FailedAttempts)
}

func TestRequestOtpUnknownOrganization(t *testing.T) {
	f := newOtpFixture(t)

	_, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "not-an-email")
	require.Error(t, err)
	assert.Equal(t, KindValidation, AsServiceError(err).Kind)

	other := createTestOrganization(t, f.svc.db, "other")
	require.NoError(t, f.svc.db.Delete(other).Error)
	_, err = f.svc.RequestOtp(context.Background(), other.ID, models.ChannelEmail, "user@test.io")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, AsServiceError(err).Kind)
}

func TestRequestOtpWhatsAppRequiresSession(t *testing.T) {
	f := newOtpFixture(t)

	_, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelWhatsApp, "+4915112345678")
	require.Error(t, err)
	assert.Equal(t, KindTransportUnavailable, AsServiceError(err).Kind)

	// nothing was dispatched and nothing persisted
	assert.Empty(t, f.sender.sent)
	var count int64
	f.svc.db.Model(&models.Otp{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestRequestOtpBlockedByChannelLock(t *testing.T) {
	f := newOtpFixture(t)

	lock, err := f.locks.FindOrCreateLock(f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		require.NoError(t, f.locks.IncrementFailedAttempts(lock))
	}

	_, err = f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.Error(t, err)
	se := AsServiceError(err)
	assert.Equal(t, KindChannelLocked, se.Kind)
	assert.Contains(t, se.Reason, "temporarily locked")
	assert.Greater(t, se.RemainingLockMinutes, 0)
	assert.Empty(t, f.sender.sent)
}

func TestRequestOtpDispatchFailureCountsAgainstLock(t *testing.T) {
	f := newOtpFixture(t)
	f.sender.fail = context.DeadlineExceeded

	_, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.Error(t, err)
	assert.Equal(t, KindTransportUnavailable, AsServiceError(err).Kind)

	// no Otp row without a delivered message
	var count int64
	f.svc.db.Model(&models.Otp{}).Count(&count)
	assert.Equal(t, int64(0), count)

	// the failed request still consumed a lock attempt
	lock, err := f.locks.GetLock(f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	assert.Equal(t, 1, lock.FailedAttempts)
}

func TestVerifyOtpSuccess(t *testing.T) {
	f := newOtpFixture(t)

	result, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	otp := f.loadOtp(t, result.OtpID)

	verify, err := f.svc.VerifyOtp(f.org.ID, otp.ID, otp.Value)
	require.NoError(t, err)
	assert.True(t, verify.Verified)
	assert.Equal(t, 0, verify.FailedAttemptsUsed)
	assert.Equal(t, 4, verify.TotalAllowedAttempts)

	assert.True(t, f.loadOtp(t, otp.ID).IsEnteredSuccessfully)
}

func TestVerifyOtpSingleUse(t *testing.T) {
	f := newOtpFixture(t)

	result, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	otp := f.loadOtp(t, result.OtpID)

	_, err = f.svc.VerifyOtp(f.org.ID, otp.ID, otp.Value)
	require.NoError(t, err)

	_, err = f.svc.VerifyOtp(f.org.ID, otp.ID, otp.Value)
	require.Error(t, err)
	assert.Equal(t, KindAlreadyUsed, AsServiceError(err).Kind)

	// the verified flag and counter are frozen
	final := f.loadOtp(t, otp.ID)
	assert.True(t, final.IsEnteredSuccessfully)
	assert.Equal(t, 0, final.NumFailedAttempts)
}

func TestVerifyOtpWrongValue(t *testing.T) {
	f := newOtpFixture(t)

	result, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	otp := f.loadOtp(t, result.OtpID)
	wrong := "000000"
	if otp.Value == wrong {
		wrong = "000001"
	}

	_, err = f.svc.VerifyOtp(f.org.ID, otp.ID, wrong)
	require.Error(t, err)
	se := AsServiceError(err)
	assert.Equal(t, KindValidation, se.Kind)
	assert.Contains(t, se.Reason, "3 failed attempt(s) remaining")

	assert.Equal(t, 1, f.loadOtp(t, otp.ID).NumFailedAttempts)

	lock, err := f.locks.GetLock(f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	assert.Equal(t, 1, lock.FailedAttempts)
}

func TestVerifyOtpAttemptsExhausted(t *testing.T) {
	f := newOtpFixture(t)

	result, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	otp := f.loadOtp(t, result.OtpID)
	wrong := "000000"
	if otp.Value == wrong {
		wrong = "000001"
	}

	for i := 0; i < 3; i++ {
		_, err = f.svc.VerifyOtp(f.org.ID, otp.ID, wrong)
		require.Error(t, err)
		assert.Equal(t, KindValidation, AsServiceError(err).Kind)
	}

	// the fourth failure reaches the cap and reports the terminal state
	_, err = f.svc.VerifyOtp(f.org.ID, otp.ID, wrong)
	require.Error(t, err)
	assert.Equal(t, KindAttemptsExhausted, AsServiceError(err).Kind)
	assert.Equal(t, 4, f.loadOtp(t, otp.ID).NumFailedAttempts)

	// even the right code is refused now, and the counter stays at 4
	_, err = f.svc.VerifyOtp(f.org.ID, otp.ID, otp.Value)
	require.Error(t, err)
	assert.Equal(t, KindAttemptsExhausted, AsServiceError(err).Kind)
	assert.Equal(t, 4, f.loadOtp(t, otp.ID).NumFailedAttempts)
}

func TestVerifyOtpExpired(t *testing.T) {
	f := newOtpFixture(t)

	result, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	otp := f.loadOtp(t, result.OtpID)

	f.svc.now = func() time.Time { return otp.ExpireAt.Add(time.Second) }

	_, err = f.svc.VerifyOtp(f.org.ID, otp.ID, otp.Value)
	require.Error(t, err)
	assert.Equal(t, KindExpired, AsServiceError(err).Kind)

	// the record itself is untouched
	final := f.loadOtp(t, otp.ID)
	assert.False(t, final.IsEnteredSuccessfully)
	assert.Equal(t, 0, final.NumFailedAttempts)
}

func TestVerifyOtpGuardedIncrementNeverOvershoots(t *testing.T) {
	f := newOtpFixture(t)

	result, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	fresh := f.loadOtp(t, result.OtpID)

	require.NoError(t, f.svc.db.Model(fresh).Update("num_failed_attempts", 3).Error)

	// two verifiers read the same stale state with three failures
	staleA := f.loadOtp(t, result.OtpID)
	staleB := f.loadOtp(t, result.OtpID)

	err = f.svc.incrementOtpAttempts(staleA)
	require.NoError(t, err)
	assert.Equal(t, 4, staleA.NumFailedAttempts)

	// the loser's guarded update matches no row and reloads the winner's state
	err = f.svc.incrementOtpAttempts(staleB)
	require.Error(t, err)
	assert.Equal(t, KindAttemptsExhausted, AsServiceError(err).Kind)
	assert.Equal(t, 4, staleB.NumFailedAttempts)

	assert.Equal(t, 4, f.loadOtp(t, result.OtpID).NumFailedAttempts)
}

func TestVerifyOtpResetsLockCounter(t *testing.T) {
	f := newOtpFixture(t)

	result, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	otp := f.loadOtp(t, result.OtpID)
	wrong := "000000"
	if otp.Value == wrong {
		wrong = "000001"
	}

	_, _ = f.svc.VerifyOtp(f.org.ID, otp.ID, wrong)
	_, _ = f.svc.VerifyOtp(f.org.ID, otp.ID, wrong)

	lock, err := f.locks.GetLock(f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	require.Equal(t, 2, lock.FailedAttempts)

	_, err = f.svc.VerifyOtp(f.org.ID, otp.ID, otp.Value)
	require.NoError(t, err)

	lock, err = f.locks.GetLock(f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	assert.Equal(t, 0, lock.FailedAttempts)
}

func TestVerifyOtpWrongOrganization(t *testing.T) {
	f := newOtpFixture(t)
	other := createTestOrganization(t, f.svc.db, "other")

	result, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)
	otp := f.loadOtp(t, result.OtpID)

	_, err = f.svc.VerifyOtp(other.ID, otp.ID, otp.Value)
	require.Error(t, err)
	assert.Equal(t, KindValidation, AsServiceError(err).Kind)
}

func TestCountSentTodayIgnoresYesterday(t *testing.T) {
	f := newOtpFixture(t)

	_, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)

	yesterday := time.Now().Add(-25 * time.Hour)
	old := models.Otp{
		OrganizationID: f.org.ID,
		ChannelName:    models.ChannelEmail,
		ChannelData:    "user@test.io",
		Value:          "123456",
		Message:        "old",
		ExpireAt:       yesterday.Add(90 * time.Second),
	}
	require.NoError(t, f.svc.db.Create(&old).Error)
	require.NoError(t, f.svc.db.Model(&old).Update("created_at", yesterday).Error)

	count, err := f.svc.CountSentToday(models.ChannelEmail, "user@test.io", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestReapExpiredOtpsHonorsRetention(t *testing.T) {
	f := newOtpFixture(t)

	_, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)

	// expired but inside retention: kept for daily cap accounting
	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err := f.svc.ReapExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// past retention: gone
	f.svc.now = func() time.Time { return time.Now().Add(26 * time.Hour) }
	n, err = f.svc.ReapExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int64
	f.svc.db.Model(&models.Otp{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestOtpStatus(t *testing.T) {
	f := newOtpFixture(t)

	result, err := f.svc.RequestOtp(context.Background(), f.org.ID, models.ChannelEmail, "user@test.io")
	require.NoError(t, err)

	status, err := f.svc.OtpStatus(f.org.ID, result.OtpID)
	require.NoError(t, err)
	assert.True(t, status.IsValid)
	assert.False(t, status.IsUsed)
	assert.Equal(t, 4, status.RemainingAttempts)
	assert.Greater(t, status.TimeRemaining, time.Duration(0))
}
