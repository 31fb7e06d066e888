package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Organization{},
		&models.Otp{},
		&models.ChannelLock{},
		&models.EmailCredential{},
		&models.User{},
		&models.RefreshToken{},
		&models.AuditLog{},
		&models.Backup{},
	))
	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		OtpTTL:                 90 * time.Second,
		OtpLength:              6,
		OtpAlphabet:            "numeric",
		OtpMaxAttempts:         4,
		OtpRetention:           24 * time.Hour,
		LockTempThreshold:      7,
		LockPermThreshold:      15,
		LockDurationMinutes:    20,
		LockMaxRequestAttempts: 7,
		EmailDailyCap:          450,
		MessagingDailyCap:      197,
		SendHourlyCap:          10,
		SendDailyCap:           50,
		EncryptionKey:          "0123456789abcdef0123456789abcdef",
		BcryptCost:             4,
	}
}

func createTestOrganization(t *testing.T, db *gorm.DB, name string) *models.Organization {
	t.Helper()
	org := &models.Organization{Name: name}
	require.NoError(t, db.Create(org).Error)
	return org
}
