package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/otpgate/backend/internal/models"
)

type OrganizationService struct {
	db *gorm.DB
}

func NewOrganizationService(db *gorm.DB) *OrganizationService {
	return &OrganizationService{db: db}
}

// Create registers a new organization.
func (s *OrganizationService) Create(name string) (*models.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(KindValidation, "organization name is required")
	}

	var existing models.Organization
	if err := s.db.Where("name = ?", name).First(&existing).Error; err == nil {
		return nil, newError(KindValidation, "organization name already taken")
	}

	org := &models.Organization{Name: name}
	if err := s.db.Create(org).Error; err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	return org, nil
}

// GetByID loads one organization.
func (s *OrganizationService) GetByID(id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.First(&org, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "Organization Not Found")
		}
		return nil, err
	}
	return &org, nil
}

// List returns organizations with pagination.
func (s *OrganizationService) List(page, limit int) ([]models.Organization, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int64
	if err := s.db.Model(&models.Organization{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orgs []models.Organization
	err := s.db.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&orgs).Error
	if err != nil {
		return nil, 0, err
	}
	return orgs, total, nil
}

// Rename updates the organization name.
func (s *OrganizationService) Rename(id uuid.UUID, name string) (*models.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(KindValidation, "organization name is required")
	}

	org, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(org).Update("name", name).Error; err != nil {
		return nil, fmt.Errorf("failed to rename organization: %w", err)
	}
	return org, nil
}

// Delete removes an organization with its credentials and passcode history.
func (s *OrganizationService) Delete(id uuid.UUID) error {
	org, err := s.GetByID(id)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("organization_id = ?", id).Delete(&models.EmailCredential{}).Error; err != nil {
			return err
		}
		if err := tx.Where("organization_id = ?", id).Delete(&models.Otp{}).Error; err != nil {
			return err
		}
		if err := tx.Where("organization_id = ?", id).Delete(&models.ChannelLock{}).Error; err != nil {
			return err
		}
		return tx.Delete(org).Error
	})
}
