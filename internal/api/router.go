package api

import (
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"smartqueue-backend/config"
	"smartqueue-backend/internal/dispatch"
	"smartqueue-backend/internal/eventlog"
	"smartqueue-backend/internal/mw"
	"smartqueue-backend/internal/notify"
	"smartqueue-backend/internal/registry"
	"smartqueue-backend/internal/reservation"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(
	cfg *config.Config,
	dispatcher *dispatch.Dispatcher,
	reservations *reservation.Manager,
	reg *registry.Registry,
	events *eventlog.Log,
	hub *notify.Hub,
	db *gorm.DB,
	webpushOptions *webpush.Options,
) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(dispatcher, reservations, reg, events, hub, db, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	// Health check is unauthenticated and unthrottled so orchestrators
	// can always reach it.
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "smartqueue-backend"})
	})

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Live update subscription carries no credential; it is
		// read-only push of state the dashboards already display.
		api.GET("/stream/:place_id", handler.StreamPlace)

		authed := api.Group("")
		authed.Use(mw.RequireAPIKey(cfg.Auth.APIKey))
		{
			// POST /api/event — gate sensors
			authed.POST("/event", handler.PostEvent)

			// POST /api/confirm — reservation confirmation at the gate
			authed.POST("/confirm", handler.PostConfirm)

			// GET /api/reservations — dashboard
			authed.GET("/reservations", handler.GetReservations)

			// GET /api/places/{place_id} and .../events — dashboard reads
			authed.GET("/places/:place_id", handler.GetPlaceStatus)
			authed.GET("/places/:place_id/events", caching, handler.GetPlaceEvents)

			// Push subscription management
			authed.GET("/subscriptions", handler.GetSubscription)
			authed.PUT("/subscriptions", handler.PutSubscription)
			authed.DELETE("/subscriptions", handler.DeleteSubscription)
			authed.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
		}
	}

	return r
}
