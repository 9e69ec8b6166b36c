package estimator

import (
	"context"
	"log"
	"time"

	"floor-monitor-backend/internal/model"
	"floor-monitor-backend/internal/shiftclock"
	"floor-monitor-backend/internal/store"
)

// AggregateStore is the slice of the store the reconciler needs.
type AggregateStore interface {
	ListMachines(ctx context.Context) ([]model.Machine, error)
	GetShiftAggregate(ctx context.Context, machineID int64, shiftStart time.Time) (store.ShiftAggregate, error)
}

// Reconciler periodically folds the server-authoritative counter aggregate
// into each machine's local estimate. It runs on a coarser cadence than the
// estimator's live tick.
type Reconciler struct {
	est      *Estimator
	store    AggregateStore
	interval time.Duration
	timeout  time.Duration
}

// NewReconciler creates a reconciler polling at the given cadence, with a
// bounded timeout per aggregate fetch.
func NewReconciler(est *Estimator, s AggregateStore, interval, timeout time.Duration) *Reconciler {
	return &Reconciler{est: est, store: s, interval: interval, timeout: timeout}
}

// Run starts the reconciliation loop until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	log.Println("Starting reconciliation loop...")

	r.ReconcileOnce(ctx)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciliation loop shutting down.")
			return
		case <-timer.C:
			r.ReconcileOnce(ctx)
			timer.Reset(r.interval)
		}
	}
}

// ReconcileOnce performs a single reconciliation pass over all machines.
// Fetch failures degrade that machine to its local estimate and are never
// fatal to the pass.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	machines, err := r.store.ListMachines(ctx)
	if err != nil {
		log.Printf("Reconciliation pass skipped: could not list machines: %v", err)
		return
	}

	now := time.Now()
	for _, m := range machines {
		r.reconcileMachine(ctx, m.ID, now)
	}
}

func (r *Reconciler) reconcileMachine(ctx context.Context, machineID int64, now time.Time) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	agg, err := r.store.GetShiftAggregate(fetchCtx, machineID, shiftclock.Start(now))
	if err != nil {
		log.Printf("Warning: aggregate fetch failed for machine %d, keeping local estimate: %v", machineID, err)
		return
	}

	r.est.ApplyServerAggregate(ctx, machineID, now, float64(agg.EstimatedProduction), agg.RunningMinutes)
}
