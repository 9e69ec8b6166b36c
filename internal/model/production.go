package model

import (
	"strings"
	"time"
)

// ProductionCounter is the server-authoritative production count, one row per
// machine per calendar day. Increments are additive; only an explicit reset
// (e.g. after a quality test clears the count) moves it down.
type ProductionCounter struct {
	MachineID int64  `gorm:"primaryKey"`
	Day       string `gorm:"primaryKey;size:10"` // YYYY-MM-DD
	Count     int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// ProductionSnapshot is the persisted per-machine per-shift accounting state.
// It backs the in-process cache so a restart within the same shift resumes
// from the last known value instead of from zero.
type ProductionSnapshot struct {
	MachineID                 int64     `gorm:"primaryKey"`
	ShiftStart                time.Time `gorm:"primaryKey"`
	AccumulatedProduction     float64   `gorm:"not null;default:0"`
	AccumulatedRunningMinutes float64   `gorm:"not null;default:0"`
	LastEstimateAt            time.Time
	UpdatedAt                 time.Time
}

// ProductionPopup is the operator-facing threshold crossing record.
// At most one active popup exists per machine per day.
type ProductionPopup struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	MachineID       int64  `gorm:"not null;index"`
	Day             string `gorm:"not null;size:10"`
	ProductionCount int64  `gorm:"not null"`
	Threshold       int64  `gorm:"not null"`
	Message         string `gorm:"not null"`
	IsActive        bool   `gorm:"not null;default:true"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProductionAlert is the manager-facing threshold crossing record.
// Same at-most-one-active-per-machine-per-day rule as popups, independently.
type ProductionAlert struct {
	ID              int64    `gorm:"primaryKey;autoIncrement"`
	MachineID       int64    `gorm:"not null;index"`
	Day             string   `gorm:"not null;size:10"`
	ProductionCount int64    `gorm:"not null"`
	Threshold       int64    `gorm:"not null"`
	AlertType       string   `gorm:"size:64;not null;index"`
	Severity        Priority `gorm:"size:16;not null"`
	Message         string   `gorm:"not null"`
	TargetRoles     string   `gorm:"size:256"` // comma-separated role names
	IsActive        bool     `gorm:"not null;default:true"`
	Metadata        string   `gorm:"type:text"` // JSON blob
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Roles splits TargetRoles into its role names.
func (a *ProductionAlert) Roles() []string {
	if a.TargetRoles == "" {
		return nil
	}
	var roles []string
	for _, r := range strings.Split(a.TargetRoles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
