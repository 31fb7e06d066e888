package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/models"
	"github.com/otpgate/backend/pkg/crypto"
	"github.com/otpgate/backend/pkg/validation"
)

// CredentialService manages per-organization SMTP accounts. Passwords are
// encrypted with AES-GCM before they hit the database; the plaintext never
// leaves this service except toward the SMTP server.
type CredentialService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewCredentialService(db *gorm.DB, cfg *config.Config) *CredentialService {
	return &CredentialService{db: db, cfg: cfg}
}

// CredentialInput is the write payload for creating or updating a credential.
type CredentialInput struct {
	EmailHost     string `json:"email_host" binding:"required"`
	EmailPort     int    `json:"email_port" binding:"required"`
	EmailUser     string `json:"email_user" binding:"required,email"`
	EmailPassword string `json:"email_password" binding:"required"`
	FromName      string `json:"from_name"`
}

func (s *CredentialService) validate(input *CredentialInput) error {
	if !validation.ValidateEmail(input.EmailUser) {
		return newError(KindValidation, "invalid email user")
	}
	if input.EmailPort < 1 || input.EmailPort > 65535 {
		return newError(KindValidation, "invalid email port")
	}
	if input.EmailHost == "" {
		return newError(KindValidation, "email host is required")
	}
	return nil
}

// Upsert creates or replaces the organization's SMTP credential.
func (s *CredentialService) Upsert(orgID uuid.UUID, input *CredentialInput) (*models.EmailCredential, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	var org models.Organization
	if err := s.db.First(&org, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "Organization Not Found")
		}
		return nil, err
	}

	ciphertext, err := crypto.Encrypt(input.EmailPassword, s.cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt SMTP password: %w", err)
	}

	var cred models.EmailCredential
	err = s.db.Where("organization_id = ?", orgID).First(&cred).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cred = models.EmailCredential{
			OrganizationID: orgID,
			EmailHost:      input.EmailHost,
			EmailPort:      input.EmailPort,
			EmailUser:      input.EmailUser,
			EmailPassword:  ciphertext,
			FromName:       input.FromName,
		}
		if err := s.db.Create(&cred).Error; err != nil {
			return nil, fmt.Errorf("failed to create email credential: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		updates := map[string]interface{}{
			"email_host":     input.EmailHost,
			"email_port":     input.EmailPort,
			"email_user":     input.EmailUser,
			"email_password": ciphertext,
			"from_name":      input.FromName,
		}
		if err := s.db.Model(&cred).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update email credential: %w", err)
		}
	}

	return &cred, nil
}

// Get loads the organization's credential. The password stays encrypted.
func (s *CredentialService) Get(orgID uuid.UUID) (*models.EmailCredential, error) {
	var cred models.EmailCredential
	if err := s.db.Where("organization_id = ?", orgID).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "email credential not found")
		}
		return nil, err
	}
	return &cred, nil
}

// Delete removes the organization's credential; email sends then fall back
// to the global SMTP account.
func (s *CredentialService) Delete(orgID uuid.UUID) error {
	res := s.db.Where("organization_id = ?", orgID).Delete(&models.EmailCredential{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return newError(KindNotFound, "email credential not found")
	}
	return nil
}
