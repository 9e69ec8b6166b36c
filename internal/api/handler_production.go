package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"floor-monitor-backend/internal/shiftclock"
)

func machineIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("machine_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid machine ID"})
		return 0, false
	}
	return id, true
}

// GetProductionSummary handles GET /api/machines/:machine_id/production.
// It drives a live tick first so a RUNNING machine's estimate moves between
// discrete status events.
func (h *Handler) GetProductionSummary(c *gin.Context) {
	machineID, ok := machineIDParam(c)
	if !ok {
		return
	}

	now := time.Now()
	h.tracker.Tick(c.Request.Context(), machineID, now)

	var speed float64
	cfg, err := h.store.GetMachineConfig(c.Request.Context(), machineID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load machine configuration"})
		return
	}
	if cfg != nil {
		speed = cfg.SpeedPerMinute
	}

	c.JSON(http.StatusOK, h.estimator.Summary(c.Request.Context(), machineID, now, speed))
}

// ResetProductionCounter handles POST /api/machines/:machine_id/counter/reset.
// It zeroes the durable counter, deactivates the machine's popup and alert,
// and drops the local snapshot so the merge cannot resurrect the old count.
func (h *Handler) ResetProductionCounter(c *gin.Context) {
	machineID, ok := machineIDParam(c)
	if !ok {
		return
	}

	now := time.Now()
	if err := h.store.ResetCounter(c.Request.Context(), machineID, shiftclock.Day(now)); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset production counter"})
		return
	}
	h.estimator.Reset(c.Request.Context(), machineID, now)

	c.JSON(http.StatusOK, gin.H{"machineId": machineID, "count": 0})
}
