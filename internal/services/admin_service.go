package services

import (
	"errors"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/models"
	"github.com/otpgate/backend/pkg/crypto"
)

type AdminService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewAdminService(db *gorm.DB, cfg *config.Config) *AdminService {
	return &AdminService{db: db, cfg: cfg}
}

// EnsureDefaultAdmin creates the bootstrap admin account on first start.
// Existing accounts are never touched, so a rotated password in the
// environment does not overwrite one changed through the API.
func (s *AdminService) EnsureDefaultAdmin() error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("is_admin = ?", true).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := crypto.HashPassword(s.cfg.AdminPassword, s.cfg.BcryptCost)
	if err != nil {
		return err
	}

	admin := &models.User{
		Username: s.cfg.AdminUsername,
		Email:    s.cfg.AdminEmail,
		Password: hashed,
		IsAdmin:  true,
		IsActive: true,
	}
	if err := s.db.Create(admin).Error; err != nil {
		return err
	}

	log.Printf("Created default admin account %s", admin.Username)
	return nil
}

// ChangePassword updates an admin's password after verifying the old one.
func (s *AdminService) ChangePassword(userID uuid.UUID, oldPassword, newPassword string) error {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("user not found")
		}
		return err
	}

	if !crypto.CheckPassword(oldPassword, user.Password) {
		return errors.New("current password is incorrect")
	}
	if len(newPassword) < 8 {
		return errors.New("new password must be at least 8 characters")
	}

	hashed, err := crypto.HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return err
	}

	return s.db.Model(&user).Update("password", hashed).Error
}
