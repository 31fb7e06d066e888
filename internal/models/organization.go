package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Organization struct {
	ID   uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Name string    `gorm:"uniqueIndex;not null" json:"name"`

	// WhatsApp session state, persisted so sessions can be restored on restart
	WhatsAppAuthStrategy string    `gorm:"not null;default:'gateway'" json:"whatsapp_auth_strategy"`
	WhatsAppSessionReady bool      `gorm:"not null;default:false" json:"whatsapp_session_ready"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
