package model

import "time"

// MachineStatus is the operating status of a machine on the floor.
type MachineStatus string

const (
	StatusRunning     MachineStatus = "RUNNING"
	StatusStopped     MachineStatus = "STOPPED"
	StatusMaintenance MachineStatus = "MAINTENANCE"
	StatusOffShift    MachineStatus = "OFF_SHIFT"
)

// Machine represents a production machine's basic information.
type Machine struct {
	ID              int64         `gorm:"primaryKey"`
	Name            string        `gorm:"size:256;not null"`
	Line            string        `gorm:"size:64;index"`
	CurrentStatus   MachineStatus `gorm:"size:32;not null;default:OFF_SHIFT"`
	StatusChangedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Associations
	Config *MachineConfig `gorm:"foreignKey:MachineID"`
}

// MachineConfig holds the per-machine production accounting configuration.
// A zero threshold or a disabled flag means the corresponding check never fires.
type MachineConfig struct {
	MachineID      int64   `gorm:"primaryKey"`
	SpeedPerMinute float64 `gorm:"not null;default:0"`
	PopupThreshold int64   `gorm:"not null;default:0"`
	AlertThreshold int64   `gorm:"not null;default:0"`
	PopupsEnabled  bool    `gorm:"not null;default:false"`
	AlertsEnabled  bool    `gorm:"not null;default:false"`
	UpdatedAt      time.Time
}
