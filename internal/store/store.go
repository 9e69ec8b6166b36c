package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"floor-monitor-backend/internal/model"
)

// ShiftAggregate is the server-authoritative production summary for one
// machine's current shift, derived from the durable counter rows.
type ShiftAggregate struct {
	EstimatedProduction int64
	RunningMinutes      float64
}

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	// Machines
	ListMachines(ctx context.Context) ([]model.Machine, error)
	GetMachineConfig(ctx context.Context, machineID int64) (*model.MachineConfig, error)
	UpdateMachineStatus(ctx context.Context, machineID int64, status model.MachineStatus, at time.Time) error

	// Counters
	IncrementCounter(ctx context.Context, machineID int64, day string, delta int64) (int64, error)
	GetCounter(ctx context.Context, machineID int64, day string) (int64, error)
	ResetCounter(ctx context.Context, machineID int64, day string) error

	// Reconciliation
	GetShiftAggregate(ctx context.Context, machineID int64, shiftStart time.Time) (ShiftAggregate, error)

	// Snapshots
	SaveSnapshot(ctx context.Context, snap *model.ProductionSnapshot) error
	LoadSnapshot(ctx context.Context, machineID int64, shiftStart time.Time) (*model.ProductionSnapshot, error)

	// Popups
	UpsertPopup(ctx context.Context, popup *model.ProductionPopup) error
	ActivePopup(ctx context.Context, machineID int64, day string) (*model.ProductionPopup, error)
	ActivePopups(ctx context.Context, machineID int64) ([]model.ProductionPopup, error)
	AcknowledgePopup(ctx context.Context, machineID, popupID int64) error

	// Alerts
	CreateAlert(ctx context.Context, alert *model.ProductionAlert) error
	UpsertAlert(ctx context.Context, alert *model.ProductionAlert) error
	ActiveAlert(ctx context.Context, machineID int64, day string) (*model.ProductionAlert, error)
	GetAlert(ctx context.Context, id int64) (*model.ProductionAlert, error)
	FindRecentAlert(ctx context.Context, q RecentAlertQuery) (*model.ProductionAlert, error)

	// Dispatch
	UsersByRoles(ctx context.Context, roles []string) ([]model.User, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	GetChannelPreference(ctx context.Context, userID int64) (*model.AlertChannelPreference, error)
	UpsertChannelPreference(ctx context.Context, pref *model.AlertChannelPreference) error
	PushSubscriptions(ctx context.Context, userID int64) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
	AppendNotificationLog(ctx context.Context, entry *model.NotificationLogEntry) error
}

// RecentAlertQuery describes a duplicate-suppression lookup. MessagePrefix
// and Severity are each optional; zero values skip that predicate.
type RecentAlertQuery struct {
	MachineID     int64
	AlertType     string
	Severity      model.Priority
	MessagePrefix string
	Since         time.Time
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// --- Machines ---

func (s *gormStore) ListMachines(ctx context.Context) ([]model.Machine, error) {
	var machines []model.Machine
	if err := s.db.WithContext(ctx).Preload("Config").Find(&machines).Error; err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	return machines, nil
}

func (s *gormStore) GetMachineConfig(ctx context.Context, machineID int64) (*model.MachineConfig, error) {
	var cfg model.MachineConfig
	err := s.db.WithContext(ctx).First(&cfg, "machine_id = ?", machineID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Missing configuration means the accounting features are disabled
		// for this machine, not an error.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config for machine %d: %w", machineID, err)
	}
	return &cfg, nil
}

func (s *gormStore) UpdateMachineStatus(ctx context.Context, machineID int64, status model.MachineStatus, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Machine{}).
		Where("id = ?", machineID).
		Updates(map[string]interface{}{
			"current_status":    status,
			"status_changed_at": at,
		}).Error
}

// --- Counters ---

// IncrementCounter applies an additive single-row update to the daily counter,
// creating the row on first increment. Returns the new count.
func (s *gormStore) IncrementCounter(ctx context.Context, machineID int64, day string, delta int64) (int64, error) {
	counter := model.ProductionCounter{
		MachineID: machineID,
		Day:       day,
		Count:     delta,
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "machine_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count":      gorm.Expr("production_counters.count + excluded.count"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&counter).Error
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter for machine %d: %w", machineID, err)
	}
	return s.GetCounter(ctx, machineID, day)
}

func (s *gormStore) GetCounter(ctx context.Context, machineID int64, day string) (int64, error) {
	var counter model.ProductionCounter
	err := s.db.WithContext(ctx).First(&counter, "machine_id = ? AND day = ?", machineID, day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter for machine %d: %w", machineID, err)
	}
	return counter.Count, nil
}

// ResetCounter zeroes the daily counter and deactivates the machine's popup
// and alert rows unconditionally. This is the only sanctioned downward path
// for the counter.
func (s *gormStore) ResetCounter(ctx context.Context, machineID int64, day string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.ProductionCounter{}).
			Where("machine_id = ? AND day = ?", machineID, day).
			Update("count", 0).Error; err != nil {
			return fmt.Errorf("failed to reset counter for machine %d: %w", machineID, err)
		}
		if err := tx.Model(&model.ProductionPopup{}).
			Where("machine_id = ? AND is_active", machineID).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate popups for machine %d: %w", machineID, err)
		}
		if err := tx.Model(&model.ProductionAlert{}).
			Where("machine_id = ? AND is_active", machineID).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate alerts for machine %d: %w", machineID, err)
		}
		return nil
	})
}

// --- Reconciliation ---

// GetShiftAggregate reads the counter-derived production for the shift and
// the last persisted running minutes. Counter rows are daily, so a shift
// reads the row of its start day.
func (s *gormStore) GetShiftAggregate(ctx context.Context, machineID int64, shiftStart time.Time) (ShiftAggregate, error) {
	var agg ShiftAggregate

	count, err := s.GetCounter(ctx, machineID, shiftStart.Format("2006-01-02"))
	if err != nil {
		return agg, err
	}
	agg.EstimatedProduction = count

	snap, err := s.LoadSnapshot(ctx, machineID, shiftStart)
	if err != nil {
		return agg, err
	}
	if snap != nil {
		agg.RunningMinutes = snap.AccumulatedRunningMinutes
	}
	return agg, nil
}

// --- Snapshots ---

func (s *gormStore) SaveSnapshot(ctx context.Context, snap *model.ProductionSnapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "machine_id"}, {Name: "shift_start"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"accumulated_production", "accumulated_running_minutes", "last_estimate_at", "updated_at",
		}),
	}).Create(snap).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot for machine %d: %w", snap.MachineID, err)
	}
	return nil
}

func (s *gormStore) LoadSnapshot(ctx context.Context, machineID int64, shiftStart time.Time) (*model.ProductionSnapshot, error) {
	var snap model.ProductionSnapshot
	err := s.db.WithContext(ctx).
		First(&snap, "machine_id = ? AND shift_start = ?", machineID, shiftStart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for machine %d: %w", machineID, err)
	}
	return &snap, nil
}

// --- Popups ---

// UpsertPopup inserts the popup, or when an active row for the same machine
// and day already exists, bumps it in place. The count assignment is guarded
// so a racing lower value can never pull an active popup's count down. A popup
// with a known id takes the plain update path; the conflict clause covers two
// concurrent first crossings racing on the partial unique index.
func (s *gormStore) UpsertPopup(ctx context.Context, popup *model.ProductionPopup) error {
	if popup.ID != 0 {
		err := s.db.WithContext(ctx).Model(&model.ProductionPopup{}).
			Where("id = ?", popup.ID).
			Updates(map[string]interface{}{
				"production_count": gorm.Expr("CASE WHEN ? > production_count THEN ? ELSE production_count END",
					popup.ProductionCount, popup.ProductionCount),
				"message":    popup.Message,
				"updated_at": time.Now().UTC(),
			}).Error
		if err != nil {
			return fmt.Errorf("failed to update popup %d: %w", popup.ID, err)
		}
		return nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "machine_id"}, {Name: "day"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{gorm.Expr("is_active")}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"production_count": gorm.Expr("CASE WHEN excluded.production_count > production_popups.production_count THEN excluded.production_count ELSE production_popups.production_count END"),
			"message":          gorm.Expr("excluded.message"),
			"updated_at":       gorm.Expr("excluded.updated_at"),
		}),
	}).Create(popup).Error
	if err != nil {
		return fmt.Errorf("failed to upsert popup for machine %d: %w", popup.MachineID, err)
	}
	return nil
}

func (s *gormStore) ActivePopup(ctx context.Context, machineID int64, day string) (*model.ProductionPopup, error) {
	var popup model.ProductionPopup
	err := s.db.WithContext(ctx).
		First(&popup, "machine_id = ? AND day = ? AND is_active", machineID, day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active popup for machine %d: %w", machineID, err)
	}
	return &popup, nil
}

func (s *gormStore) ActivePopups(ctx context.Context, machineID int64) ([]model.ProductionPopup, error) {
	var popups []model.ProductionPopup
	err := s.db.WithContext(ctx).
		Where("machine_id = ? AND is_active", machineID).
		Order("created_at DESC").
		Find(&popups).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active popups for machine %d: %w", machineID, err)
	}
	return popups, nil
}

// AcknowledgePopup deactivates a popup. The underlying counter is untouched.
func (s *gormStore) AcknowledgePopup(ctx context.Context, machineID, popupID int64) error {
	res := s.db.WithContext(ctx).Model(&model.ProductionPopup{}).
		Where("id = ? AND machine_id = ?", popupID, machineID).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to acknowledge popup %d: %w", popupID, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// --- Alerts ---

func (s *gormStore) CreateAlert(ctx context.Context, alert *model.ProductionAlert) error {
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("failed to create alert for machine %d: %w", alert.MachineID, err)
	}
	return nil
}

// UpsertAlert mirrors UpsertPopup for the manager-facing alert rows.
func (s *gormStore) UpsertAlert(ctx context.Context, alert *model.ProductionAlert) error {
	if alert.ID != 0 {
		err := s.db.WithContext(ctx).Model(&model.ProductionAlert{}).
			Where("id = ?", alert.ID).
			Updates(map[string]interface{}{
				"production_count": gorm.Expr("CASE WHEN ? > production_count THEN ? ELSE production_count END",
					alert.ProductionCount, alert.ProductionCount),
				"message":    alert.Message,
				"metadata":   alert.Metadata,
				"updated_at": time.Now().UTC(),
			}).Error
		if err != nil {
			return fmt.Errorf("failed to update alert %d: %w", alert.ID, err)
		}
		return nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "machine_id"}, {Name: "day"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{gorm.Expr("is_active")}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"production_count": gorm.Expr("CASE WHEN excluded.production_count > production_alerts.production_count THEN excluded.production_count ELSE production_alerts.production_count END"),
			"message":          gorm.Expr("excluded.message"),
			"metadata":         gorm.Expr("excluded.metadata"),
			"updated_at":       gorm.Expr("excluded.updated_at"),
		}),
	}).Create(alert).Error
	if err != nil {
		return fmt.Errorf("failed to upsert alert for machine %d: %w", alert.MachineID, err)
	}
	return nil
}

func (s *gormStore) ActiveAlert(ctx context.Context, machineID int64, day string) (*model.ProductionAlert, error) {
	var alert model.ProductionAlert
	err := s.db.WithContext(ctx).
		First(&alert, "machine_id = ? AND day = ? AND is_active", machineID, day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active alert for machine %d: %w", machineID, err)
	}
	return &alert, nil
}

func (s *gormStore) GetAlert(ctx context.Context, id int64) (*model.ProductionAlert, error) {
	var alert model.ProductionAlert
	if err := s.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		return nil, fmt.Errorf("failed to load alert %d: %w", id, err)
	}
	return &alert, nil
}

// FindRecentAlert looks up a prior alert inside a duplicate-suppression window.
func (s *gormStore) FindRecentAlert(ctx context.Context, q RecentAlertQuery) (*model.ProductionAlert, error) {
	tx := s.db.WithContext(ctx).
		Where("machine_id = ? AND alert_type = ? AND created_at >= ?", q.MachineID, q.AlertType, q.Since)
	if q.Severity != "" {
		tx = tx.Where("severity = ?", q.Severity)
	}
	if q.MessagePrefix != "" {
		tx = tx.Where("message LIKE ?", q.MessagePrefix+"%")
	}

	var alert model.ProductionAlert
	err := tx.Order("created_at DESC").First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed duplicate lookup for machine %d: %w", q.MachineID, err)
	}
	return &alert, nil
}

// --- Dispatch ---

func (s *gormStore) UsersByRoles(ctx context.Context, roles []string) ([]model.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("role IN ?", roles).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve users by roles: %w", err)
	}
	return users, nil
}

func (s *gormStore) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return &user, nil
}

func (s *gormStore) GetChannelPreference(ctx context.Context, userID int64) (*model.AlertChannelPreference, error) {
	var pref model.AlertChannelPreference
	err := s.db.WithContext(ctx).First(&pref, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load channel preference for user %d: %w", userID, err)
	}
	return &pref, nil
}

func (s *gormStore) UpsertChannelPreference(ctx context.Context, pref *model.AlertChannelPreference) error {
	pref.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email_enabled", "sms_enabled", "whatsapp_enabled", "sound_enabled", "min_priority", "updated_at",
		}),
	}).Create(pref).Error
	if err != nil {
		return fmt.Errorf("failed to upsert channel preference for user %d: %w", pref.UserID, err)
	}
	return nil
}

func (s *gormStore) PushSubscriptions(ctx context.Context, userID int64) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to load push subscriptions for user %d: %w", userID, err)
	}
	return subs, nil
}

func (s *gormStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

func (s *gormStore) AppendNotificationLog(ctx context.Context, entry *model.NotificationLogEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append notification log for alert %d: %w", entry.AlertID, err)
	}
	return nil
}
