package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"floor-monitor-backend/internal/model"
	"floor-monitor-backend/internal/runstate"
	"floor-monitor-backend/internal/shiftclock"
)

type statusEventRequest struct {
	MachineID int64      `json:"machine_id" binding:"required"`
	Status    string     `json:"status" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
}

var validStatuses = map[model.MachineStatus]bool{
	model.StatusRunning:     true,
	model.StatusStopped:     true,
	model.StatusMaintenance: true,
	model.StatusOffShift:    true,
}

// PostStatusEvent handles POST /api/events/status, the transport boundary
// feeding the run-state tracker's event queue.
func (h *Handler) PostStatusEvent(c *gin.Context) {
	var req statusEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := model.MachineStatus(req.Status)
	if !validStatuses[status] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown machine status"})
		return
	}

	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	h.tracker.Enqueue(runstate.StatusEvent{MachineID: req.MachineID, Status: status, Timestamp: ts})
	c.Status(http.StatusAccepted)
}

type productionEventRequest struct {
	MachineID int64 `json:"machine_id" binding:"required"`
	Count     int64 `json:"count" binding:"required"`
}

// PostProductionEvent handles POST /api/events/production. The increment is
// additive on the daily counter; the threshold checks run on every increment
// and at most bump the one active popup/alert row per machine per day.
func (h *Handler) PostProductionEvent(c *gin.Context) {
	var req productionEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Count <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be positive"})
		return
	}

	ctx := c.Request.Context()
	now := time.Now()

	newCount, err := h.store.IncrementCounter(ctx, req.MachineID, shiftclock.Day(now), req.Count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to increment production counter"})
		return
	}

	res, err := h.evaluator.Evaluate(ctx, req.MachineID, newCount, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to evaluate production thresholds"})
		return
	}

	resp := gin.H{"machineId": req.MachineID, "count": newCount}
	if res.Popup != nil {
		resp["popupId"] = res.Popup.ID
	}
	if res.Alert != nil {
		if res.PendingAlert {
			alertID, created, err := h.dispatcher.CreateAlert(ctx, res.Alert)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create production alert"})
				return
			}
			resp["alertId"] = alertID
			if !created {
				resp["alertDuplicate"] = true
			}
		} else {
			resp["alertId"] = res.Alert.ID
		}
	}

	c.JSON(http.StatusOK, resp)
}
