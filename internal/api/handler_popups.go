package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"floor-monitor-backend/internal/model"
)

// GetActivePopups handles GET /api/machines/:machine_id/popups.
func (h *Handler) GetActivePopups(c *gin.Context) {
	machineID, ok := machineIDParam(c)
	if !ok {
		return
	}

	popups, err := h.store.ActivePopups(c.Request.Context(), machineID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve popups"})
		return
	}
	if popups == nil {
		popups = []model.ProductionPopup{}
	}
	c.JSON(http.StatusOK, popups)
}

// AcknowledgePopup handles POST /api/machines/:machine_id/popups/:popup_id/ack.
// Acknowledging deactivates the popup but leaves the counter untouched.
func (h *Handler) AcknowledgePopup(c *gin.Context) {
	machineID, ok := machineIDParam(c)
	if !ok {
		return
	}
	popupID, err := strconv.ParseInt(c.Param("popup_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid popup ID"})
		return
	}

	if err := h.store.AcknowledgePopup(c.Request.Context(), machineID, popupID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "popup not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to acknowledge popup"})
		return
	}
	c.Status(http.StatusNoContent)
}
