package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"meeting-reminder-backend/config"
	"meeting-reminder-backend/internal/live"
	"meeting-reminder-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(handler *Handler, liveHandler *live.Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger())

	// WebSocket connections are long-lived, so they bypass the rate limiter.
	if liveHandler != nil {
		r.GET("/ws/notifications/:device_id/", liveHandler.Serve)
	}

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	api := r.Group("/")
	api.Use(rateLimiter, mw.FlushOnWrite(cacheStore))
	{
		api.GET("/meetings/", caching, handler.ListMeetings)
		api.POST("/meetings/", handler.CreateMeeting)
		api.GET("/meetings/:id/", caching, handler.GetMeeting)
		api.PUT("/meetings/:id/", handler.UpdateMeeting)
		api.PATCH("/meetings/:id/", handler.UpdateMeeting)
		api.DELETE("/meetings/:id/", handler.DeleteMeeting)
		api.POST("/meetings/:id/subscribe/", handler.SubscribeToMeeting)
		api.POST("/meetings/:id/subscribe_to_notifications/", handler.SubscribeToMeeting)

		api.POST("/schedule/", handler.ScheduleMeeting)
		api.POST("/cancel/", handler.CancelMeeting)
		api.POST("/device-tokens/", handler.RegisterDeviceToken)

		api.GET("/test-connection/", handler.TestConnection)
		api.GET("/vapid-public-key/", handler.GetVAPIDPublicKey)
	}

	return r
}
