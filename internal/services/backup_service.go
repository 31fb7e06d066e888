package services

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/models"
)

type BackupService struct {
	db    *gorm.DB
	cfg   *config.Config
	s3Svc *S3Service
}

func NewBackupService(db *gorm.DB, cfg *config.Config, s3Svc *S3Service) *BackupService {
	return &BackupService{
		db:    db,
		cfg:   cfg,
		s3Svc: s3Svc,
	}
}

// RunBackup dumps the database with pg_dump, gzips it and uploads the
// archive to the backup bucket. createdBy is nil for scheduled runs.
func (s *BackupService) RunBackup(ctx context.Context, createdBy *uuid.UUID) (*models.Backup, error) {
	if s.cfg.BackupBucket == "" {
		return nil, errors.New("backup bucket not configured")
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	backupType := "automatic"
	if createdBy != nil {
		backupType = "manual"
	}

	backup := &models.Backup{
		Filename:  fmt.Sprintf("%s_%s.sql.gz", s.cfg.DBName, stamp),
		S3Key:     fmt.Sprintf("db/%s/%s_%s.sql.gz", s.cfg.DBName, s.cfg.DBName, stamp),
		Status:    "in_progress",
		Type:      backupType,
		StartedAt: time.Now(),
		CreatedBy: createdBy,
	}
	if err := s.db.Create(backup).Error; err != nil {
		return nil, err
	}

	size, err := s.dumpAndUpload(ctx, backup.S3Key)
	if err != nil {
		_ = s.UpdateBackupStatus(backup.ID, "failed", "", 0, err.Error())
		return backup, err
	}

	if err := s.UpdateBackupStatus(backup.ID, "completed", backup.S3Key, size, ""); err != nil {
		return backup, err
	}
	return s.GetBackupByID(backup.ID)
}

func (s *BackupService) dumpAndUpload(ctx context.Context, s3Key string) (int64, error) {
	tmpDir, err := os.MkdirTemp("", "dbbackup")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(tmpDir)

	dumpPath := filepath.Join(tmpDir, "dump.sql.gz")
	out, err := os.Create(dumpPath)
	if err != nil {
		return 0, err
	}

	gz := gzip.NewWriter(out)
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", s.cfg.DBHost,
		"-p", s.cfg.DBPort,
		"-U", s.cfg.DBUser,
		"-d", s.cfg.DBName,
		"--no-owner",
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+s.cfg.DBPassword)
	cmd.Stdout = gz
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		out.Close()
		return 0, fmt.Errorf("pg_dump failed: %v: %s", err, stderr.String())
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}

	f, err := os.Open(dumpPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := s.s3Svc.UploadBackup(ctx, s3Key, f, "application/gzip"); err != nil {
		return 0, fmt.Errorf("failed to upload backup: %w", err)
	}

	info, err := os.Stat(dumpPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ListBackups retrieves all backups with pagination, ordered by most recent first
func (s *BackupService) ListBackups(offset, limit int) ([]*models.Backup, int64, error) {
	var backups []*models.Backup
	var total int64

	if err := s.db.Model(&models.Backup{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := s.db.Offset(offset).Limit(limit).Order("created_at DESC").Find(&backups).Error; err != nil {
		return nil, 0, err
	}

	return backups, total, nil
}

// SyncBackupsFromS3 synchronizes backup records from the bucket, creating
// missing database records for archives written by other hosts.
func (s *BackupService) SyncBackupsFromS3() (int, error) {
	if s.cfg.BackupBucket == "" {
		return 0, errors.New("backup bucket not configured")
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("db/%s/", s.cfg.DBName)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.BackupBucket),
		Prefix: aws.String(prefix),
	}

	client, err := s.s3Svc.GetBackupClient()
	if err != nil {
		return 0, fmt.Errorf("failed to get S3 client: %w", err)
	}

	result, err := client.ListObjectsV2(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("failed to list S3 objects: %w", err)
	}

	synced := 0
	for _, obj := range result.Contents {
		if obj.Key == nil || obj.Size == nil || obj.LastModified == nil {
			continue
		}

		s3Key := *obj.Key
		parts := strings.Split(s3Key, "/")
		filename := parts[len(parts)-1]

		if !strings.HasSuffix(filename, ".sql.gz") {
			continue
		}

		var existing models.Backup
		err := s.db.Where("s3_key = ?", s3Key).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return synced, err
		}

		backup := &models.Backup{
			Filename:    filename,
			S3Key:       s3Key,
			SizeBytes:   *obj.Size,
			Status:      "completed",
			Type:        "automatic",
			StartedAt:   *obj.LastModified,
			CompletedAt: obj.LastModified,
		}

		if err := s.db.Create(backup).Error; err != nil {
			return synced, fmt.Errorf("failed to create backup record: %w", err)
		}
		synced++
	}

	return synced, nil
}

// GetBackupByID retrieves a backup by ID
func (s *BackupService) GetBackupByID(backupID uuid.UUID) (*models.Backup, error) {
	var backup models.Backup
	if err := s.db.First(&backup, backupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("backup not found")
		}
		return nil, err
	}
	return &backup, nil
}

// PresignDownload returns a temporary download URL for a completed backup
// archive. Incomplete and failed backups have nothing to download.
func (s *BackupService) PresignDownload(ctx context.Context, backupID uuid.UUID, ttl time.Duration) (string, error) {
	backup, err := s.GetBackupByID(backupID)
	if err != nil {
		return "", err
	}
	if backup.Status != "completed" {
		return "", fmt.Errorf("backup %s is %s, not downloadable", backup.Filename, backup.Status)
	}
	return s.s3Svc.PresignBackupGet(ctx, backup.S3Key, ttl)
}

// DeleteBackup is disabled. Backups are disaster recovery and should only be
// deleted via S3 lifecycle policies.
func (s *BackupService) DeleteBackup(backupID uuid.UUID, deleteFromS3 bool) error {
	return errors.New("deleting backups via API is disabled - use S3 lifecycle policies instead")
}

// UpdateBackupStatus updates the status of a backup
func (s *BackupService) UpdateBackupStatus(backupID uuid.UUID, status string, s3Key string, sizeBytes int64, errorMsg string) error {
	updates := map[string]interface{}{
		"status": status,
	}

	if s3Key != "" {
		updates["s3_key"] = s3Key
	}
	if sizeBytes > 0 {
		updates["size_bytes"] = sizeBytes
	}
	if errorMsg != "" {
		updates["error_message"] = errorMsg
	}
	if status == "completed" || status == "failed" {
		now := time.Now()
		updates["completed_at"] = now
	}

	return s.db.Model(&models.Backup{}).Where("id = ?", backupID).Updates(updates).Error
}

// GetLatestBackup returns the most recent completed backup
func (s *BackupService) GetLatestBackup() (*models.Backup, error) {
	var backup models.Backup
	err := s.db.Where("status = ?", "completed").Order("completed_at DESC").First(&backup).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("no completed backups found")
		}
		return nil, err
	}
	return &backup, nil
}

// GetBackupStats returns statistics about backups
func (s *BackupService) GetBackupStats() (map[string]interface{}, error) {
	var totalCount int64
	var completedCount int64
	var failedCount int64
	var totalSize int64

	s.db.Model(&models.Backup{}).Count(&totalCount)
	s.db.Model(&models.Backup{}).Where("status = ?", "completed").Count(&completedCount)
	s.db.Model(&models.Backup{}).Where("status = ?", "failed").Count(&failedCount)
	s.db.Model(&models.Backup{}).Where("status = ?", "completed").Select("COALESCE(SUM(size_bytes), 0)").Scan(&totalSize)

	latest, _ := s.GetLatestBackup()
	var latestDate *time.Time
	if latest != nil && latest.CompletedAt != nil {
		latestDate = latest.CompletedAt
	}

	stats := map[string]interface{}{
		"total_backups":     totalCount,
		"completed_backups": completedCount,
		"failed_backups":    failedCount,
		"total_size_bytes":  totalSize,
		"latest_backup":     latestDate,
	}

	return stats, nil
}
