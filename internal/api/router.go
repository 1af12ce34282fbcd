package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"shuttle-fleet-backend/config"
	"shuttle-fleet-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(deps Dependencies, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(deps)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	caching := mw.Cache(handler.responseCache, time.Duration(cfg.CacheTTLSeconds)*time.Second)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := r.Group("/api")
	api.Use(mw.Identify())
	{
		// The stream is long-lived and would exhaust a caller's bucket.
		api.GET("/stream", handler.Stream)
	}

	limited := api.Group("")
	limited.Use(rateLimiter)
	{
		limited.GET("/vehicles", handler.GetVehicles)
		limited.GET("/vehicles/:id", handler.GetVehicle)

		mutate := limited.Group("/vehicles/:id", mw.RequireRole(mw.RoleDriver, mw.RoleAdmin))
		mutate.PUT("/status", handler.SetStatus)
		mutate.POST("/passengers", handler.AdjustPassengers)
		mutate.PUT("/location", handler.ReportLocation)
		mutate.PUT("/battery", handler.ReportBattery)

		admin := limited.Group("/admin", mw.RequireRole(mw.RoleAdmin))
		admin.POST("/vehicles", handler.ProvisionVehicle)
		admin.PUT("/vehicles/:id/driver", handler.AssignDriver)

		limited.GET("/trips", caching, handler.ListTrips)
		limited.POST("/trips", mw.RequireRole(mw.RoleStudent), handler.CreateTrip)
		limited.PUT("/trips/:id/status", mw.RequireRole(mw.RoleDriver, mw.RoleAdmin), handler.UpdateTripStatus)
		limited.POST("/trips/:id/feedback", mw.RequireRole(mw.RoleStudent), handler.AddTripFeedback)

		limited.GET("/subscriptions", handler.GetSubscription)
		limited.PUT("/subscriptions", handler.PutSubscription)
		limited.DELETE("/subscriptions", handler.DeleteSubscription)
		limited.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
