package estimator

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"floor-monitor-backend/internal/model"
	"floor-monitor-backend/internal/shiftclock"
)

// SnapshotStore is the persistence the estimator writes through to, so a
// restart within the same shift resumes from the last known value.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *model.ProductionSnapshot) error
	LoadSnapshot(ctx context.Context, machineID int64, shiftStart time.Time) (*model.ProductionSnapshot, error)
}

// Summary is the current-shift production summary for one machine.
type Summary struct {
	MachineID           int64     `json:"machineId"`
	ShiftStart          time.Time `json:"shiftStart"`
	EstimatedProduction int64     `json:"estimatedProduction"`
	RunningMinutes      float64   `json:"runningMinutes"`
	Efficiency          int       `json:"efficiency"`
	TargetProduction    int64     `json:"targetProduction"`
}

// Estimator derives a monotonically increasing production estimate per
// machine from elapsed running time and configured speed. Snapshots live in
// an in-process cache keyed by (machine, shift start) and are written through
// to the store on every mutation.
type Estimator struct {
	mu       sync.Mutex
	cache    *cache.Cache
	limiters map[int64]*rate.Limiter
	store    SnapshotStore
}

// New creates an Estimator backed by the given snapshot store.
func New(store SnapshotStore) *Estimator {
	return &Estimator{
		// Entries expire one shift after their last touch; a stale key's
		// shift start no longer matches the clock anyway.
		cache:    cache.New(shiftclock.ShiftMinutes*time.Minute, time.Hour),
		limiters: make(map[int64]*rate.Limiter),
		store:    store,
	}
}

func snapshotKey(machineID int64, shiftStart time.Time) string {
	return fmt.Sprintf("%d@%d", machineID, shiftStart.Unix())
}

// snapshot returns the machine's snapshot for the given shift, loading the
// persisted row on a cache miss and starting fresh when none exists.
// Callers must hold e.mu.
func (e *Estimator) snapshot(ctx context.Context, machineID int64, shiftStart time.Time) *model.ProductionSnapshot {
	key := snapshotKey(machineID, shiftStart)
	if v, found := e.cache.Get(key); found {
		return v.(*model.ProductionSnapshot)
	}

	if e.store != nil {
		persisted, err := e.store.LoadSnapshot(ctx, machineID, shiftStart)
		if err != nil {
			log.Printf("Warning: could not load persisted snapshot for machine %d: %v", machineID, err)
		} else if persisted != nil {
			e.cache.SetDefault(key, persisted)
			return persisted
		}
	}

	snap := &model.ProductionSnapshot{MachineID: machineID, ShiftStart: shiftStart}
	e.cache.SetDefault(key, snap)
	return snap
}

// persist writes the snapshot through to the cache and the store. Store
// failures are logged and otherwise ignored; the in-memory value remains the
// source for reads.
func (e *Estimator) persist(ctx context.Context, snap *model.ProductionSnapshot) {
	e.cache.SetDefault(snapshotKey(snap.MachineID, snap.ShiftStart), snap)
	if e.store == nil {
		return
	}
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		log.Printf("Warning: could not persist snapshot for machine %d: %v", snap.MachineID, err)
	}
}

// Accumulate credits the elapsed running interval [from, to) to the machine's
// snapshot for the shift containing to. An interval reaching back past the
// shift start is clipped, so a boundary crossing resets the accumulators
// exactly once and only the new shift's portion is credited. Out-of-order
// intervals clamp to zero elapsed time.
func (e *Estimator) Accumulate(ctx context.Context, machineID int64, from, to time.Time, speedPerMinute float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	shiftStart := shiftclock.Start(to)
	snap := e.snapshot(ctx, machineID, shiftStart)

	if from.Before(shiftStart) {
		from = shiftStart
	}
	// Never re-credit time already covered by a live tick.
	if snap.LastEstimateAt.After(from) {
		from = snap.LastEstimateAt
	}

	elapsed := to.Sub(from).Minutes()
	if elapsed < 0 {
		elapsed = 0
	}

	snap.AccumulatedRunningMinutes += elapsed

	candidate := snap.AccumulatedProduction + elapsed*speedPerMinute
	if candidate < snap.AccumulatedProduction {
		log.Printf("Warning: computed production %.2f below stored %.2f for machine %d; keeping stored value",
			candidate, snap.AccumulatedProduction, machineID)
	} else {
		snap.AccumulatedProduction = candidate
	}

	if to.After(snap.LastEstimateAt) {
		snap.LastEstimateAt = to
	}

	e.persist(ctx, snap)
}

// Tick produces a live estimate between discrete status transitions by
// treating now as an implicit transition boundary. It is bounded to at most
// one re-evaluation per second per machine and never blocks on I/O beyond
// the write-through.
func (e *Estimator) Tick(ctx context.Context, machineID int64, statusChangedAt, now time.Time, speedPerMinute float64) {
	e.mu.Lock()
	limiter, ok := e.limiters[machineID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Second), 1)
		e.limiters[machineID] = limiter
	}
	e.mu.Unlock()

	if !limiter.Allow() {
		return
	}
	e.Accumulate(ctx, machineID, statusChangedAt, now, speedPerMinute)
}

// ApplyServerAggregate folds the server-authoritative aggregate into the
// local snapshot with a max-of merge. The merge is idempotent and
// order-independent, so it may race with local ticks without breaking the
// monotonic invariant.
func (e *Estimator) ApplyServerAggregate(ctx context.Context, machineID int64, now time.Time, production, runningMinutes float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	shiftStart := shiftclock.Start(now)
	snap := e.snapshot(ctx, machineID, shiftStart)
	merged := Merge(*snap, production, runningMinutes)
	*snap = merged

	e.persist(ctx, snap)
}

// Merge is the reconciliation rule: last-writer-wins-by-maximum on both
// accumulators. A stale or reordered server report can never move the
// estimate backwards.
func Merge(local model.ProductionSnapshot, serverProduction, serverRunningMinutes float64) model.ProductionSnapshot {
	if serverProduction > local.AccumulatedProduction {
		local.AccumulatedProduction = serverProduction
	}
	if serverRunningMinutes > local.AccumulatedRunningMinutes {
		local.AccumulatedRunningMinutes = serverRunningMinutes
	}
	return local
}

// Summary reads the machine's current-shift summary without mutating it.
func (e *Estimator) Summary(ctx context.Context, machineID int64, now time.Time, speedPerMinute float64) Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	shiftStart := shiftclock.Start(now)
	snap := e.snapshot(ctx, machineID, shiftStart)

	return Summary{
		MachineID:           machineID,
		ShiftStart:          shiftStart,
		EstimatedProduction: int64(math.Floor(snap.AccumulatedProduction)),
		RunningMinutes:      snap.AccumulatedRunningMinutes,
		Efficiency:          efficiency(snap.AccumulatedRunningMinutes, now.Sub(shiftStart).Minutes()),
		TargetProduction:    int64(speedPerMinute * shiftclock.ShiftMinutes),
	}
}

// Reset zeroes the machine's snapshot for the current shift. This is the
// explicit downward path that bypasses the max-of merge after a counter reset.
func (e *Estimator) Reset(ctx context.Context, machineID int64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	shiftStart := shiftclock.Start(now)
	snap := e.snapshot(ctx, machineID, shiftStart)
	snap.AccumulatedProduction = 0
	snap.AccumulatedRunningMinutes = 0
	snap.LastEstimateAt = now

	e.persist(ctx, snap)
}

func efficiency(runningMinutes, shiftMinutes float64) int {
	if shiftMinutes <= 0 {
		return 0
	}
	eff := int(math.Round(100 * runningMinutes / shiftMinutes))
	if eff < 0 {
		return 0
	}
	if eff > 100 {
		return 100
	}
	return eff
}
