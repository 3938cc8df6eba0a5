package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/coordinator"
	"github.com/topictrends/cluster-core/internal/dbpool"
	"github.com/topictrends/cluster-core/internal/domain"
	"github.com/topictrends/cluster-core/internal/middleware"
	"github.com/topictrends/cluster-core/internal/ws"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log         *logrus.Logger
	Pool        *dbpool.Pool
	Hub         *ws.Hub
	Ideas       domain.IdeaStore
	Queue       domain.Queue
	Coordinator *coordinator.Coordinator
	CORSOrigins []string
	Version     string
}

// Router-level limits.
const (
	maxBodySize = 10 << 20 // 10 MB
	rateLimit   = 100      // requests per second per IP
	rateBurst   = 200      // token bucket burst size
)

// setupMiddleware configures all middleware on the Gin engine.
func setupMiddleware(ctx context.Context, r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MaxBodySize(maxBodySize))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		MaxAge:           1 * time.Hour,
		AllowCredentials: false,
	}))
	r.Use(middleware.NewRateLimiter(ctx, rateLimit, rateBurst).Handler())
	r.Use(middleware.PrometheusMiddleware())

	// Metrics endpoint (unauthenticated, like health).
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// registerRoutes sets up the operator/admin API and the WebSocket endpoint.
// Idea submission, authentication, and the rest of the request-routing
// surface are external collaborators (spec §1); this is only the admin
// hooks of spec §6 plus health/ready/ws.
func registerRoutes(ctx context.Context, api *gin.RouterGroup, deps *RouterDeps) {
	log := deps.Log

	health := NewHealthHandler(deps.Pool, deps.Hub, log, deps.Version)
	admin := NewAdminHandler(deps.Ideas, deps.Queue, deps.Coordinator, log)

	// Health and readiness are unauthenticated.
	api.GET("/health", health.Liveness)
	api.GET("/ready", health.Readiness)

	// Admin/operator surface (spec §6).
	api.POST("/admin/discussions/:id/recluster", admin.TriggerFullReclustering)
	api.POST("/admin/discussions/:id/clear-lock", admin.ClearLock)
	api.GET("/admin/discussions/:id/counts", admin.StatusCounts)
	api.POST("/admin/ideas/retry", admin.RetryIdeas)

	// Room-scoped WebSocket endpoint (spec §4.8).
	api.GET("/ws/discussions/:id", wsHandler(ctx, log, deps.Hub, deps.CORSOrigins))
}

// NewRouter creates and configures the Gin engine with all middleware and routes.
func NewRouter(ctx context.Context, deps *RouterDeps) http.Handler {
	r := gin.New()
	setupMiddleware(ctx, r, deps)
	registerRoutes(ctx, r.Group("/api/v1"), deps)

	return r
}
