package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/bridge_core/internal/api/handlers"
	"github.com/rail-service/bridge_core/internal/api/middleware"
	"github.com/rail-service/bridge_core/pkg/idempotency"
	"github.com/rail-service/bridge_core/pkg/logger"
)

// Options carries the router-level settings
type Options struct {
	RateLimitPerMin int
	// Idempotency enables Idempotency-Key replay on bridge initiation
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
}

// SetupRoutes configures all application routes
func SetupRoutes(bridgeHandlers *handlers.BridgeHandlers, coreHandlers *handlers.CoreHandlers, log *logger.Logger, opts Options) *gin.Engine {
	router := gin.New()

	// Global middleware - order matters
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RateLimit(opts.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	// Health checks
	router.GET("/health", coreHandlers.Health)
	router.GET("/ready", coreHandlers.Ready)
	router.GET("/live", coreHandlers.Live)
	router.GET("/metrics", handlers.Metrics())

	v1 := router.Group("/api/v1")
	var initiate []gin.HandlerFunc
	if opts.Idempotency != nil {
		initiate = append(initiate, idempotency.Middleware(opts.Idempotency, opts.IdempotencyTTL, log.Zap()))
	}
	SetupBridgeRoutes(v1, bridgeHandlers, initiate...)

	return router
}

// SetupBridgeRoutes registers the bridge API under group. initiate runs
// before the initiation handler only.
func SetupBridgeRoutes(group *gin.RouterGroup, h *handlers.BridgeHandlers, initiate ...gin.HandlerFunc) {
	b := group.Group("/bridge")
	{
		b.POST("", append(initiate, h.Initiate)...)
		b.GET("/chains", h.GetSupportedChains)
		b.GET("/health", h.GetHealth)
		b.GET("/:bridgeId", h.GetStatus)
		b.POST("/:bridgeId/signatures", h.SubmitSignature)
		b.POST("/:bridgeId/lock-confirmations", h.ConfirmLock)
		b.POST("/:bridgeId/destination-confirmations", h.ConfirmDestination)
		b.POST("/:bridgeId/fail", h.Fail)
		b.POST("/:bridgeId/refund", h.Refund)
	}
}
