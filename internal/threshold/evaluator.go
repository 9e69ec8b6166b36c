package threshold

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"floor-monitor-backend/internal/model"
	"floor-monitor-backend/internal/shiftclock"
)

// Store is the slice of the data store the evaluator needs.
type Store interface {
	GetMachineConfig(ctx context.Context, machineID int64) (*model.MachineConfig, error)
	ActivePopup(ctx context.Context, machineID int64, day string) (*model.ProductionPopup, error)
	UpsertPopup(ctx context.Context, popup *model.ProductionPopup) error
	ActiveAlert(ctx context.Context, machineID int64, day string) (*model.ProductionAlert, error)
	UpsertAlert(ctx context.Context, alert *model.ProductionAlert) error
}

// Result reports what a threshold evaluation did. PendingAlert is a built but
// not yet persisted alert the caller should hand to the dispatcher, which
// owns duplicate suppression and persistence for new alerts.
type Result struct {
	Popup        *model.ProductionPopup
	PopupCreated bool
	Alert        *model.ProductionAlert
	PendingAlert bool
}

// AlertType stamped on production threshold crossings.
const AlertTypeProduction = "production_threshold"

// Evaluator compares the daily counter against the machine's popup and alert
// thresholds and decides whether to create, update, or suppress records.
type Evaluator struct {
	store Store
}

// New creates an Evaluator.
func New(store Store) *Evaluator {
	return &Evaluator{store: store}
}

// Evaluate runs both threshold checks for the given counter value. A zero
// threshold or a disabled flag means the check never fires. Once a crossing
// has produced an active row, later increments bump that row in place rather
// than spawning duplicates.
func (e *Evaluator) Evaluate(ctx context.Context, machineID, count int64, now time.Time) (Result, error) {
	var res Result

	cfg, err := e.store.GetMachineConfig(ctx, machineID)
	if err != nil {
		return res, err
	}
	if cfg == nil {
		return res, nil
	}

	day := shiftclock.Day(now)

	if cfg.PopupsEnabled && cfg.PopupThreshold > 0 && count >= cfg.PopupThreshold {
		popup, created, err := e.evaluatePopup(ctx, machineID, day, count, cfg.PopupThreshold)
		if err != nil {
			return res, err
		}
		res.Popup = popup
		res.PopupCreated = created
	}

	if cfg.AlertsEnabled && cfg.AlertThreshold > 0 && count >= cfg.AlertThreshold {
		alert, pending, err := e.evaluateAlert(ctx, machineID, day, count, cfg.AlertThreshold, now)
		if err != nil {
			return res, err
		}
		res.Alert = alert
		res.PendingAlert = pending
	}

	return res, nil
}

func (e *Evaluator) evaluatePopup(ctx context.Context, machineID int64, day string, count, thresh int64) (*model.ProductionPopup, bool, error) {
	existing, err := e.store.ActivePopup(ctx, machineID, day)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		if count <= existing.ProductionCount {
			return nil, false, nil
		}
		existing.ProductionCount = count
		existing.Message = popupMessage(count, thresh)
		existing.UpdatedAt = time.Now().UTC()
		if err := e.store.UpsertPopup(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	popup := &model.ProductionPopup{
		MachineID:       machineID,
		Day:             day,
		ProductionCount: count,
		Threshold:       thresh,
		Message:         popupMessage(count, thresh),
		IsActive:        true,
	}
	if err := e.store.UpsertPopup(ctx, popup); err != nil {
		return nil, false, err
	}
	return popup, true, nil
}

func (e *Evaluator) evaluateAlert(ctx context.Context, machineID int64, day string, count, thresh int64, now time.Time) (*model.ProductionAlert, bool, error) {
	existing, err := e.store.ActiveAlert(ctx, machineID, day)
	if err != nil {
		return nil, false, err
	}

	exceedBy := count - thresh
	metadata, _ := json.Marshal(map[string]int64{"exceed_by": exceedBy})

	if existing != nil {
		if count <= existing.ProductionCount {
			return nil, false, nil
		}
		existing.ProductionCount = count
		existing.Message = alertMessage(machineID, count, thresh)
		existing.Metadata = string(metadata)
		existing.UpdatedAt = time.Now().UTC()
		if err := e.store.UpsertAlert(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	alert := &model.ProductionAlert{
		MachineID:       machineID,
		Day:             day,
		ProductionCount: count,
		Threshold:       thresh,
		AlertType:       AlertTypeProduction,
		Severity:        severityFor(exceedBy, thresh),
		Message:         alertMessage(machineID, count, thresh),
		TargetRoles:     "manager,supervisor",
		IsActive:        true,
		Metadata:        string(metadata),
	}
	return alert, true, nil
}

// severityFor scales with how far past the threshold the count has moved.
func severityFor(exceedBy, thresh int64) model.Priority {
	switch {
	case exceedBy >= thresh:
		return model.PriorityUrgent
	case exceedBy*2 >= thresh:
		return model.PriorityHigh
	default:
		return model.PriorityMedium
	}
}

func popupMessage(count, thresh int64) string {
	return fmt.Sprintf("Production reached %d (threshold %d). Please run a quality test.", count, thresh)
}

func alertMessage(machineID, count, thresh int64) string {
	return fmt.Sprintf("Machine %d production at %d exceeds the alert threshold of %d.", machineID, count, thresh)
}
