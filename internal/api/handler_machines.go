package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"floor-monitor-backend/internal/model"
)

// machineResponse is the flattened machine listing entry. The in-memory
// tracker state wins over the persisted column when present.
type machineResponse struct {
	model.Machine
	Status          model.MachineStatus `json:"status"`
	StatusChangedAt time.Time           `json:"statusChangedAt"`
}

// GetMachines handles GET /api/machines.
func (h *Handler) GetMachines(c *gin.Context) {
	machines, err := h.store.ListMachines(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve machines"})
		return
	}

	response := make([]machineResponse, 0, len(machines))
	for _, m := range machines {
		entry := machineResponse{
			Machine:         m,
			Status:          m.CurrentStatus,
			StatusChangedAt: m.StatusChangedAt,
		}
		if state, known := h.tracker.Current(m.ID); known {
			entry.Status = state.Status
			entry.StatusChangedAt = state.ChangedAt
		}
		response = append(response, entry)
	}
	c.JSON(http.StatusOK, response)
}
