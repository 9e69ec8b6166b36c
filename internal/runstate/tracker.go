package runstate

import (
	"context"
	"log"
	"sync"
	"time"

	"floor-monitor-backend/internal/model"
)

// StatusEvent is one inbound machine status change. Events for a given
// machine must be applied in the order received; the single consumer
// goroutine guarantees that.
type StatusEvent struct {
	MachineID int64
	Status    model.MachineStatus
	Timestamp time.Time
}

// State is a machine's current operating status and when it last changed.
type State struct {
	Status    model.MachineStatus
	ChangedAt time.Time
}

// Accumulator receives elapsed RUNNING intervals for production accounting.
type Accumulator interface {
	Accumulate(ctx context.Context, machineID int64, from, to time.Time, speedPerMinute float64)
	Tick(ctx context.Context, machineID int64, statusChangedAt, now time.Time, speedPerMinute float64)
}

// Store is the slice of the data store the tracker needs.
type Store interface {
	GetMachineConfig(ctx context.Context, machineID int64) (*model.MachineConfig, error)
	UpdateMachineStatus(ctx context.Context, machineID int64, status model.MachineStatus, at time.Time) error
}

// Tracker is the per-machine run-state machine. It consumes a typed event
// queue and hands completed RUNNING intervals to the estimator before moving
// to the new state.
type Tracker struct {
	mu     sync.RWMutex
	states map[int64]State

	events chan StatusEvent
	est    Accumulator
	store  Store
}

// New creates a Tracker with the given event queue capacity.
func New(est Accumulator, store Store, buffer int) *Tracker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Tracker{
		states: make(map[int64]State),
		events: make(chan StatusEvent, buffer),
		est:    est,
		store:  store,
	}
}

// Enqueue queues a status event for processing.
func (t *Tracker) Enqueue(ev StatusEvent) {
	t.events <- ev
}

// Run consumes the event queue until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	log.Println("Run-state tracker started.")
	for {
		select {
		case ev := <-t.events:
			t.Apply(ctx, ev)
		case <-ctx.Done():
			log.Println("Run-state tracker shutting down.")
			return
		}
	}
}

// Apply processes one status transition. No transition is rejected; an
// out-of-order timestamp yields a zero-length interval in the estimator.
func (t *Tracker) Apply(ctx context.Context, ev StatusEvent) {
	t.mu.Lock()
	prev, known := t.states[ev.MachineID]
	t.states[ev.MachineID] = State{Status: ev.Status, ChangedAt: ev.Timestamp}
	t.mu.Unlock()

	if known && prev.Status == model.StatusRunning {
		t.est.Accumulate(ctx, ev.MachineID, prev.ChangedAt, ev.Timestamp, t.speed(ctx, ev.MachineID))
	}

	if t.store != nil {
		if err := t.store.UpdateMachineStatus(ctx, ev.MachineID, ev.Status, ev.Timestamp); err != nil {
			log.Printf("Warning: could not persist status %s for machine %d: %v", ev.Status, ev.MachineID, err)
		}
	}
}

// Tick drives the live estimate for a machine that is currently RUNNING.
func (t *Tracker) Tick(ctx context.Context, machineID int64, now time.Time) {
	t.mu.RLock()
	state, known := t.states[machineID]
	t.mu.RUnlock()

	if !known || state.Status != model.StatusRunning {
		return
	}
	t.est.Tick(ctx, machineID, state.ChangedAt, now, t.speed(ctx, machineID))
}

// Current returns the machine's tracked state.
func (t *Tracker) Current(machineID int64) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, known := t.states[machineID]
	return state, known
}

// speed reads the configured speed. A missing configuration means no
// accounting for this machine, expressed as speed zero.
func (t *Tracker) speed(ctx context.Context, machineID int64) float64 {
	if t.store == nil {
		return 0
	}
	cfg, err := t.store.GetMachineConfig(ctx, machineID)
	if err != nil {
		log.Printf("Warning: could not load config for machine %d: %v", machineID, err)
		return 0
	}
	if cfg == nil {
		return 0
	}
	return cfg.SpeedPerMinute
}
