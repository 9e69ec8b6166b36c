package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"floor-monitor-backend/config"
	"floor-monitor-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg *config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Short-lived cache for the read endpoints the floor dashboards poll.
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 10*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/machines", caching, h.GetMachines)

		// The production summary is intentionally uncached: each read drives
		// a live tick for sub-second feedback on RUNNING machines.
		api.GET("/machines/:machine_id/production", h.GetProductionSummary)
		api.GET("/machines/:machine_id/popups", h.GetActivePopups)
		api.POST("/machines/:machine_id/popups/:popup_id/ack", h.AcknowledgePopup)
		api.POST("/machines/:machine_id/counter/reset", h.ResetProductionCounter)

		api.POST("/events/status", h.PostStatusEvent)
		api.POST("/events/production", h.PostProductionEvent)

		api.GET("/users/:user_id/alert-channels", h.GetChannelPreference)
		api.PUT("/users/:user_id/alert-channels", h.PutChannelPreference)
	}

	return r
}
