package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Delivery channels
const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
)

// Otp is a single one-time passcode. A record becomes terminal once it is
// entered successfully, the failed-attempt budget is spent, or it expires.
// All mutations go through guarded UPDATEs in OtpService; never save a
// modified struct back directly.
type Otp struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	ChannelName    string    `gorm:"not null;index" json:"channel_name"`
	// Destination identifier: phone number for whatsapp/sms, address for email
	ChannelData           string    `gorm:"not null;index:idx_otps_channel_data_created" json:"channel_data"`
	Value                 string    `gorm:"not null" json:"-"`
	Message               string    `gorm:"not null" json:"-"`
	ExpireAt              time.Time `gorm:"not null;index" json:"expire_at"`
	IsEnteredSuccessfully bool      `gorm:"not null;default:false" json:"is_entered_successfully"`
	NumFailedAttempts     int       `gorm:"not null;default:0" json:"num_failed_attempts"`
	CreatedAt             time.Time `gorm:"index:idx_otps_channel_data_created" json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (o *Otp) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

func (o *Otp) IsExpired(now time.Time) bool {
	return now.After(o.ExpireAt)
}

// IsLocked reports whether the failed-attempt budget has been spent.
func (o *Otp) IsLocked(maxAttempts int) bool {
	return o.NumFailedAttempts >= maxAttempts
}

func (o *Otp) IsUsable(now time.Time, maxAttempts int) bool {
	return !o.IsExpired(now) && !o.IsEnteredSuccessfully && !o.IsLocked(maxAttempts)
}

func (o *Otp) RemainingAttempts(maxAttempts int) int {
	remaining := maxAttempts - o.NumFailedAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}
