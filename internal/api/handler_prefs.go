package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"floor-monitor-backend/internal/model"
)

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return 0, false
	}
	return id, true
}

// GetChannelPreference handles GET /api/users/:user_id/alert-channels.
// A user without a stored row sees the onboarding defaults.
func (h *Handler) GetChannelPreference(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	pref, err := h.store.GetChannelPreference(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load channel preference"})
		return
	}
	if pref == nil {
		pref = &model.AlertChannelPreference{
			UserID: userID, EmailEnabled: true, SoundEnabled: true, MinPriority: model.PriorityLow,
		}
	}
	c.JSON(http.StatusOK, pref)
}

type putChannelPreferenceRequest struct {
	EmailEnabled    bool   `json:"emailEnabled"`
	SMSEnabled      bool   `json:"smsEnabled"`
	WhatsAppEnabled bool   `json:"whatsappEnabled"`
	SoundEnabled    bool   `json:"soundEnabled"`
	MinPriority     string `json:"minPriority" binding:"required"`
}

// PutChannelPreference handles PUT /api/users/:user_id/alert-channels.
func (h *Handler) PutChannelPreference(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	var req putChannelPreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	minPriority := model.Priority(req.MinPriority)
	if minPriority.Level() == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown priority"})
		return
	}

	pref := &model.AlertChannelPreference{
		UserID:          userID,
		EmailEnabled:    req.EmailEnabled,
		SMSEnabled:      req.SMSEnabled,
		WhatsAppEnabled: req.WhatsAppEnabled,
		SoundEnabled:    req.SoundEnabled,
		MinPriority:     minPriority,
	}
	if err := h.store.UpsertChannelPreference(c.Request.Context(), pref); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save channel preference"})
		return
	}
	c.JSON(http.StatusOK, pref)
}
