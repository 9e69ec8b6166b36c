package model

import "time"

// Priority is the ordered alert priority scale.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Level maps a priority to its position on the scale. Unknown values map
// below LOW so malformed preferences never suppress anything.
func (p Priority) Level() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

// AlertChannelPreference holds a user's notification channel toggles and the
// minimum priority they want to be contacted for.
type AlertChannelPreference struct {
	UserID          int64    `gorm:"primaryKey"`
	EmailEnabled    bool     `gorm:"not null;default:true"`
	SMSEnabled      bool     `gorm:"column:sms_enabled;not null;default:false"`
	WhatsAppEnabled bool     `gorm:"column:whatsapp_enabled;not null;default:false"`
	SoundEnabled    bool     `gorm:"not null;default:true"`
	MinPriority     Priority `gorm:"size:16;not null;default:LOW"`
	UpdatedAt       time.Time
}

// NotificationLogEntry is the append-only audit trail of dispatch attempts,
// one row per user per alert dispatch.
type NotificationLogEntry struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	AlertID int64 `gorm:"not null;index"`
	UserID  int64 `gorm:"not null;index"`
	// Channels is the comma-separated list of channel names attempted.
	Channels     string    `gorm:"size:128"`
	Status       string    `gorm:"size:16;not null"` // SENT or FAILED
	ErrorMessage string
	SentAt       time.Time `gorm:"not null"`
}

// User is a floor user the dispatcher can resolve by role.
type User struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null"`
	Email     string `gorm:"size:256"`
	Phone     string `gorm:"size:32"`
	Role      string `gorm:"size:64;not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PushSubscription holds a user's browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	UserID    int64     `gorm:"not null;index"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
