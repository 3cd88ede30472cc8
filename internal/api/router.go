package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"cu-log-sync/config"
	"cu-log-sync/internal/mw"
	"cu-log-sync/internal/store"
)

// NewRouter creates and configures the status server router.
func NewRouter(runs Runs, s store.Store, registry *prometheus.Registry, cfg config.StatusConfig) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(runs, s)

	// Rate limit: the configured rate per client IP with a burst of twice that.
	burst := max(int(cfg.RateLimitPerSec*2), 1)
	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), burst)

	lastRun := []gin.HandlerFunc{handler.GetLastRun}
	if cfg.CacheTTLSeconds > 0 {
		ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
		lastRun = append([]gin.HandlerFunc{mw.Cache(cache.New(ttl, 2*ttl), ttl)}, lastRun...)
	}

	r.GET("/healthz", handler.GetHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})))

	// API group
	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// GET /api/runs/last
		api.GET("/runs/last", lastRun...)

		// POST /api/runs
		api.POST("/runs", handler.PostRun)
	}

	return r
}
