package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go/logging"

	"github.com/otpgate/backend/internal/config"
)

// S3Service wraps the backup bucket client. Works against AWS or any
// S3-compatible endpoint (path-style for MinIO and friends).
type S3Service struct {
	backupClient *s3.Client
	cfg          *config.Config
}

func NewS3Service(cfg *config.Config) (*S3Service, error) {
	backup, err := buildClient(cfg.BackupS3Endpoint, cfg.BackupS3Region, cfg.BackupS3AccessKeyID, cfg.BackupS3SecretAccessKey, cfg.BackupS3UsePathStyle)
	if err != nil {
		return nil, err
	}
	return &S3Service{backupClient: backup, cfg: cfg}, nil
}

func buildClient(endpoint, region, key, secret string, pathStyle bool) (*s3.Client, error) {
	resolver := awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
		func(service, rgn string, options ...interface{}) (aws.Endpoint, error) {
			if endpoint != "" {
				return aws.Endpoint{URL: endpoint, SigningRegion: region}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		}))
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
		resolver,
		awsconfig.WithLogger(logging.NewStandardLogger(nil)),
	)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
	})
	return client, nil
}

// UploadBackup streams one backup object to the bucket.
func (s *S3Service) UploadBackup(ctx context.Context, key string, body io.Reader, ctype string) error {
	uploader := manager.NewUploader(s.backupClient)
	in := &s3.PutObjectInput{
		Bucket:      &s.cfg.BackupBucket,
		Key:         &key,
		ContentType: &ctype,
		ACL:         s3types.ObjectCannedACLPrivate,
		Body:        body,
	}
	_, err := uploader.Upload(ctx, in, func(u *manager.Uploader) { u.PartSize = 10 * 1024 * 1024 })
	return err
}

// PresignBackupGet returns a temporary download URL for a backup object.
func (s *S3Service) PresignBackupGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presigner := s3.NewPresignClient(s.backupClient)
	out, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &s.cfg.BackupBucket, Key: &key},
		s3.WithPresignExpires(ttl))
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

// GetBackupClient returns the S3 client for backup operations
func (s *S3Service) GetBackupClient() (*s3.Client, error) {
	if s.backupClient == nil {
		return nil, fmt.Errorf("backup S3 client not configured")
	}
	return s.backupClient, nil
}
