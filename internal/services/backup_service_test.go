package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otpgate/backend/internal/models"
)

func TestPresignDownloadOnlyServesCompletedBackups(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db, newTestConfig(), nil)

	failed := &models.Backup{
		Filename:  "otpgate_2026-08-29.sql.gz",
		S3Key:     "db/otpgate/otpgate_2026-08-29.sql.gz",
		Status:    "failed",
		Type:      "automatic",
		StartedAt: time.Now(),
	}
	require.NoError(t, db.Create(failed).Error)

	_, err := svc.PresignDownload(context.Background(), failed.ID, 15*time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not downloadable")

	_, err = svc.PresignDownload(context.Background(), uuid.New(), 15*time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup not found")
}

func TestUpdateBackupStatusStampsCompletion(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db, newTestConfig(), nil)

	backup := &models.Backup{
		Filename:  "otpgate_2026-08-30.sql.gz",
		S3Key:     "db/otpgate/otpgate_2026-08-30.sql.gz",
		Status:    "in_progress",
		Type:      "manual",
		StartedAt: time.Now(),
	}
	require.NoError(t, db.Create(backup).Error)

	require.NoError(t, svc.UpdateBackupStatus(backup.ID, "completed", backup.S3Key, 1024, ""))

	reloaded, err := svc.GetBackupByID(backup.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", reloaded.Status)
	assert.Equal(t, int64(1024), reloaded.SizeBytes)
	require.NotNil(t, reloaded.CompletedAt)

	latest, err := svc.GetLatestBackup()
	require.NoError(t, err)
	assert.Equal(t, backup.ID, latest.ID)
}
