package api

import (
	"floor-monitor-backend/internal/estimator"
	"floor-monitor-backend/internal/notification"
	"floor-monitor-backend/internal/runstate"
	"floor-monitor-backend/internal/store"
	"floor-monitor-backend/internal/threshold"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	tracker    *runstate.Tracker
	estimator  *estimator.Estimator
	evaluator  *threshold.Evaluator
	dispatcher *notification.Dispatcher
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, tracker *runstate.Tracker, est *estimator.Estimator,
	evaluator *threshold.Evaluator, dispatcher *notification.Dispatcher) *Handler {
	return &Handler{
		store:      s,
		tracker:    tracker,
		estimator:  est,
		evaluator:  evaluator,
		dispatcher: dispatcher,
	}
}
