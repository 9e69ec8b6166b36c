package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"floor-monitor-backend/config"
	"floor-monitor-backend/internal/api"
	"floor-monitor-backend/internal/db"
	"floor-monitor-backend/internal/estimator"
	"floor-monitor-backend/internal/model"
	"floor-monitor-backend/internal/notification"
	"floor-monitor-backend/internal/runstate"
	"floor-monitor-backend/internal/shiftclock"
	"floor-monitor-backend/internal/store"
	"floor-monitor-backend/internal/threshold"
)

// recordingSender captures channel sends for assertions.
type recordingSender struct {
	mu    sync.Mutex
	sends []string
}

func (r *recordingSender) Send(_ context.Context, recipient, _, _ string, _ model.Priority) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, recipient)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

type testEnv struct {
	db         *gorm.DB
	store      store.Store
	est        *estimator.Estimator
	tracker    *runstate.Tracker
	router     *gin.Engine
	email      *recordingSender
	dispatcher *notification.Dispatcher
}

func newTestEnv(t *testing.T, ctx context.Context) *testEnv {
	gin.SetMode(gin.TestMode)

	// A named shared-cache DB keeps every pooled connection on the same
	// in-memory database while isolating tests from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testDB))

	appStore := store.NewGormStore(testDB)
	est := estimator.New(appStore)
	tracker := runstate.New(est, appStore, 16)
	evaluator := threshold.New(appStore)

	dispatcher := notification.NewDispatcher(1, appStore, &webpush.Options{}, notification.DefaultDedupPolicy())
	email := &recordingSender{}
	dispatcher.SetSender(notification.ChannelEmail, email)
	dispatcher.Start(ctx)

	handler := api.NewHandler(appStore, tracker, est, evaluator, dispatcher)
	router := api.NewRouter(handler, &config.ServerConfig{
		RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 1,
	})

	return &testEnv{
		db: testDB, store: appStore, est: est, tracker: tracker,
		router: router, email: email, dispatcher: dispatcher,
	}
}

func (e *testEnv) post(t *testing.T, path, body string) (int, map[string]any) {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	e.router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w.Code, resp
}

func seedFloor(t *testing.T, testDB *gorm.DB) {
	require.NoError(t, testDB.Create(&model.Machine{ID: 1, Name: "Press 1", Line: "A"}).Error)
	require.NoError(t, testDB.Create(&model.MachineConfig{
		MachineID: 1, SpeedPerMinute: 10,
		PopupThreshold: 100, AlertThreshold: 120,
		PopupsEnabled: true, AlertsEnabled: true,
	}).Error)
	require.NoError(t, testDB.Create(&model.User{ID: 1, Name: "Mira", Email: "mira@plant.local", Role: "manager"}).Error)
	require.NoError(t, testDB.Create(&model.AlertChannelPreference{
		UserID: 1, EmailEnabled: true, MinPriority: model.PriorityLow,
	}).Error)
}

// TestProductionAccountingLifecycle drives the estimator through a run/stop
// cycle with fixed timestamps and reconciles against the durable counter.
func TestProductionAccountingLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t, ctx)
	seedFloor(t, env.db)

	at := func(h, m int) time.Time { return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC) }

	// RUNNING 08:00 -> STOPPED 08:30 at 10/min.
	env.tracker.Apply(ctx, runstate.StatusEvent{MachineID: 1, Status: model.StatusRunning, Timestamp: at(8, 0)})
	env.tracker.Apply(ctx, runstate.StatusEvent{MachineID: 1, Status: model.StatusStopped, Timestamp: at(8, 30)})

	sum := env.est.Summary(ctx, 1, at(8, 30), 10)
	assert.Equal(t, int64(300), sum.EstimatedProduction)
	assert.Equal(t, 33, sum.Efficiency)

	// The persisted machine row follows the tracker.
	var machine model.Machine
	require.NoError(t, env.db.First(&machine, 1).Error)
	assert.Equal(t, model.StatusStopped, machine.CurrentStatus)

	// Server aggregate 500 beats the local 300; a stale 450 cannot regress it.
	_, err := env.store.IncrementCounter(ctx, 1, "2025-03-10", 500)
	require.NoError(t, err)
	agg, err := env.store.GetShiftAggregate(ctx, 1, at(7, 0))
	require.NoError(t, err)
	env.est.ApplyServerAggregate(ctx, 1, at(9, 0), float64(agg.EstimatedProduction), agg.RunningMinutes)

	sum = env.est.Summary(ctx, 1, at(9, 0), 10)
	assert.Equal(t, int64(500), sum.EstimatedProduction)

	env.est.ApplyServerAggregate(ctx, 1, at(9, 5), 450, 20)
	sum = env.est.Summary(ctx, 1, at(9, 5), 10)
	assert.Equal(t, int64(500), sum.EstimatedProduction)
	assert.InDelta(t, 30.0, sum.RunningMinutes, 0.001)

	// A restart within the shift resumes from the persisted snapshot.
	reloaded := estimator.New(env.store)
	sum = reloaded.Summary(ctx, 1, at(9, 10), 10)
	assert.Equal(t, int64(500), sum.EstimatedProduction)
}

// TestThresholdAndNotificationLifecycle walks counter increments through the
// HTTP surface: popup single-fire, alert dispatch, acknowledge, and reset.
func TestThresholdAndNotificationLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t, ctx)
	seedFloor(t, env.db)

	// Below both thresholds: no popup, no alert.
	code, resp := env.post(t, "/api/events/production", `{"machine_id":1,"count":60}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(60), resp["count"])
	assert.NotContains(t, resp, "popupId")
	assert.NotContains(t, resp, "alertId")

	// 120 crosses popup (100) and alert (120) thresholds.
	code, resp = env.post(t, "/api/events/production", `{"machine_id":1,"count":60}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(120), resp["count"])
	require.Contains(t, resp, "popupId")
	require.Contains(t, resp, "alertId")
	popupID := int64(resp["popupId"].(float64))

	// Another increment bumps the same rows instead of spawning new ones.
	code, resp = env.post(t, "/api/events/production", `{"machine_id":1,"count":80}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(200), resp["count"])

	var popups []model.ProductionPopup
	require.NoError(t, env.db.Where("machine_id = ?", 1).Find(&popups).Error)
	require.Len(t, popups, 1)
	assert.Equal(t, popupID, popups[0].ID)
	assert.Equal(t, int64(200), popups[0].ProductionCount)
	assert.True(t, popups[0].IsActive)

	var alerts []model.ProductionAlert
	require.NoError(t, env.db.Where("machine_id = ?", 1).Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(200), alerts[0].ProductionCount)

	// Exactly one dispatch for the single crossing: the manager got one email
	// and one log row, update increments included.
	var logs []model.NotificationLogEntry
	assert.Eventually(t, func() bool {
		logs = nil
		return env.db.Find(&logs).Error == nil && len(logs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, env.email.count())
	assert.Equal(t, "SENT", logs[0].Status)
	assert.Equal(t, int64(1), logs[0].UserID)

	// Acknowledging the popup deactivates it but leaves the counter alone.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", fmt.Sprintf("/api/machines/1/popups/%d/ack", popupID), nil)
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	count, err := env.store.GetCounter(ctx, 1, shiftclock.Day(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(200), count)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/machines/1/popups", nil)
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	// Resetting the counter zeroes it and deactivates the alert too.
	code, resp = env.post(t, "/api/machines/1/counter/reset", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), resp["count"])

	count, err = env.store.GetCounter(ctx, 1, shiftclock.Day(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, env.db.Where("machine_id = ?", 1).Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.False(t, alerts[0].IsActive)
}

// TestChannelPreferenceRoundTrip covers the preference surface the dispatcher
// reads on every fan-out.
func TestChannelPreferenceRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t, ctx)
	seedFloor(t, env.db)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/users/1/alert-channels",
		bytes.NewBufferString(`{"emailEnabled":false,"smsEnabled":true,"minPriority":"HIGH"}`))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var pref model.AlertChannelPreference
	require.NoError(t, env.db.First(&pref, "user_id = ?", 1).Error)
	assert.False(t, pref.EmailEnabled)
	assert.True(t, pref.SMSEnabled)
	assert.Equal(t, model.PriorityHigh, pref.MinPriority)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/users/1/alert-channels", nil)
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
