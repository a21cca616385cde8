package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"dotori-monitor-backend/config"
	"dotori-monitor-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(handler *Handler, cfg *config.ServerConfig) *gin.Engine {
	r := gin.Default()

	db := handler.store.DB()

	rateLimitPerSec := cfg.RateLimitPerSec
	if rateLimitPerSec <= 0 {
		rateLimitPerSec = 10
	}
	rateLimiter := mw.RateLimiter(rate.Limit(rateLimitPerSec), 5)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Cron endpoints: bearer-token protected, never cached.
		cron := api.Group("/cron", mw.CronAuth(cfg.CronSecret))
		{
			cron.GET("/to-monitor", handler.RunMonitor)
			cron.GET("/sync-isalang", handler.RunSync)
		}

		api.GET("/facilities/:facility_id/status", caching, GetFacilityStatus(db))
		api.GET("/ops/breakers", handler.GetBreakers)

		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
