package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmailCredential holds one organization's SMTP account. The password column
// stores the AES-GCM ciphertext produced by CredentialService, never the
// plaintext.
type EmailCredential struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	EmailHost      string    `gorm:"not null" json:"email_host"`
	EmailPort      int       `gorm:"not null" json:"email_port"`
	EmailUser      string    `gorm:"uniqueIndex;not null" json:"email_user"`
	EmailPassword  string    `gorm:"not null" json:"-"`
	FromName       string    `json:"from_name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (e *EmailCredential) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
