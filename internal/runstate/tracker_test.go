package runstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"floor-monitor-backend/internal/model"
)

type recordedInterval struct {
	machineID int64
	from, to  time.Time
	speed     float64
}

type fakeAccumulator struct {
	intervals []recordedInterval
	ticks     int
}

func (f *fakeAccumulator) Accumulate(_ context.Context, machineID int64, from, to time.Time, speed float64) {
	f.intervals = append(f.intervals, recordedInterval{machineID, from, to, speed})
}

func (f *fakeAccumulator) Tick(_ context.Context, machineID int64, changedAt, now time.Time, speed float64) {
	f.ticks++
}

type fakeStore struct {
	configs      map[int64]*model.MachineConfig
	statusWrites []model.MachineStatus
}

func (f *fakeStore) GetMachineConfig(_ context.Context, machineID int64) (*model.MachineConfig, error) {
	return f.configs[machineID], nil
}

func (f *fakeStore) UpdateMachineStatus(_ context.Context, _ int64, status model.MachineStatus, _ time.Time) error {
	f.statusWrites = append(f.statusWrites, status)
	return nil
}

func at(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC)
}

func TestApplyHandsRunningIntervalToEstimator(t *testing.T) {
	acc := &fakeAccumulator{}
	st := &fakeStore{configs: map[int64]*model.MachineConfig{
		1: {MachineID: 1, SpeedPerMinute: 10},
	}}
	tr := New(acc, st, 8)
	ctx := context.Background()

	tr.Apply(ctx, StatusEvent{MachineID: 1, Status: model.StatusRunning, Timestamp: at(8, 0)})
	tr.Apply(ctx, StatusEvent{MachineID: 1, Status: model.StatusStopped, Timestamp: at(8, 30)})

	assert.Len(t, acc.intervals, 1)
	iv := acc.intervals[0]
	assert.Equal(t, int64(1), iv.machineID)
	assert.Equal(t, at(8, 0), iv.from)
	assert.Equal(t, at(8, 30), iv.to)
	assert.Equal(t, 10.0, iv.speed)

	state, known := tr.Current(1)
	assert.True(t, known)
	assert.Equal(t, model.StatusStopped, state.Status)
	assert.Equal(t, at(8, 30), state.ChangedAt)

	assert.Equal(t, []model.MachineStatus{model.StatusRunning, model.StatusStopped}, st.statusWrites)
}

func TestApplyNonRunningPreviousStateDoesNotAccumulate(t *testing.T) {
	acc := &fakeAccumulator{}
	tr := New(acc, &fakeStore{}, 8)
	ctx := context.Background()

	tr.Apply(ctx, StatusEvent{MachineID: 1, Status: model.StatusMaintenance, Timestamp: at(8, 0)})
	tr.Apply(ctx, StatusEvent{MachineID: 1, Status: model.StatusRunning, Timestamp: at(9, 0)})

	assert.Empty(t, acc.intervals)
}

func TestApplyOutOfOrderTimestampStillRecorded(t *testing.T) {
	acc := &fakeAccumulator{}
	tr := New(acc, &fakeStore{}, 8)
	ctx := context.Background()

	tr.Apply(ctx, StatusEvent{MachineID: 1, Status: model.StatusRunning, Timestamp: at(9, 0)})
	// Late-arriving stop with an earlier timestamp: the transition is not
	// rejected, and the estimator receives the inverted interval to clamp.
	tr.Apply(ctx, StatusEvent{MachineID: 1, Status: model.StatusStopped, Timestamp: at(8, 0)})

	assert.Len(t, acc.intervals, 1)
	assert.Equal(t, at(9, 0), acc.intervals[0].from)
	assert.Equal(t, at(8, 0), acc.intervals[0].to)

	state, _ := tr.Current(1)
	assert.Equal(t, at(8, 0), state.ChangedAt)
}

func TestTickOnlyWhileRunning(t *testing.T) {
	acc := &fakeAccumulator{}
	tr := New(acc, &fakeStore{}, 8)
	ctx := context.Background()

	tr.Tick(ctx, 1, at(8, 0)) // unknown machine
	assert.Equal(t, 0, acc.ticks)

	tr.Apply(ctx, StatusEvent{MachineID: 1, Status: model.StatusStopped, Timestamp: at(8, 0)})
	tr.Tick(ctx, 1, at(8, 5))
	assert.Equal(t, 0, acc.ticks)

	tr.Apply(ctx, StatusEvent{MachineID: 1, Status: model.StatusRunning, Timestamp: at(8, 10)})
	tr.Tick(ctx, 1, at(8, 15))
	assert.Equal(t, 1, acc.ticks)
}

func TestRunConsumesQueueInOrder(t *testing.T) {
	acc := &fakeAccumulator{}
	tr := New(acc, &fakeStore{}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	tr.Enqueue(StatusEvent{MachineID: 1, Status: model.StatusRunning, Timestamp: at(8, 0)})
	tr.Enqueue(StatusEvent{MachineID: 1, Status: model.StatusStopped, Timestamp: at(8, 30)})

	assert.Eventually(t, func() bool {
		state, known := tr.Current(1)
		return known && state.Status == model.StatusStopped
	}, time.Second, 10*time.Millisecond)

	assert.Len(t, acc.intervals, 1)
}
