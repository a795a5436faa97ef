package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/rail-service/bridge_core/internal/api/handlers"
	"github.com/rail-service/bridge_core/internal/api/routes"
	domainrepos "github.com/rail-service/bridge_core/internal/domain/repositories"
	"github.com/rail-service/bridge_core/internal/domain/services/bridge"
	"github.com/rail-service/bridge_core/internal/infrastructure/adapters/chain"
	"github.com/rail-service/bridge_core/internal/infrastructure/cache"
	"github.com/rail-service/bridge_core/internal/infrastructure/config"
	"github.com/rail-service/bridge_core/internal/infrastructure/database"
	"github.com/rail-service/bridge_core/internal/infrastructure/repositories"
	"github.com/rail-service/bridge_core/internal/workers/bridge_timeout"
	"github.com/rail-service/bridge_core/pkg/graceful"
	"github.com/rail-service/bridge_core/pkg/idempotency"
	"github.com/rail-service/bridge_core/pkg/logger"
	"github.com/rail-service/bridge_core/pkg/metrics"
	"github.com/rail-service/bridge_core/pkg/tracing"
)

// @title Bridge Core API
// @version 1.0
// @description Cross-chain bridge: lock, validator quorum, mint or release, refund

// @contact.name Bridge Operations

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	bridgeConfig, err := cfg.Bridge.ToDomain()
	if err != nil {
		log.Fatal("Invalid bridge configuration", "error", err)
	}

	deps := map[string]handlers.Pinger{}
	var closers []namedCloser

	// Storage
	var store domainrepos.BridgeRepository
	switch cfg.Storage {
	case "memory":
		log.Warn("Using in-memory bridge store; transfers are lost on restart")
		store = repositories.NewMemoryBridgeRepository()
	default:
		db, err := database.NewConnection(cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", "error", err)
		}
		if err := database.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
			log.Fatal("Failed to run migrations", "error", err)
		}
		store = repositories.NewBridgeRepository(db)
		deps["database"] = handlers.PingFunc(func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		})
		closers = append(closers, namedCloser{"database", db})
		go collectDBStats(db)
	}

	// Optional status cache
	var idempotencyStore idempotency.Store = idempotency.NewMemoryStore()
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(cfg.Redis, log.Zap())
		if err != nil {
			log.Fatal("Failed to connect to Redis", "error", err)
		}
		store = repositories.NewCachedBridgeRepository(store, redisClient, cfg.Redis.CacheTTL, log.Zap())
		idempotencyStore = idempotency.NewRedisStore(redisClient)
		deps["redis"] = redisClient
		closers = append(closers, namedCloser{"redis", redisClient})
	}

	// Chain gateways
	adapters := make(map[string]bridge.ChainAdapter)
	for id, c := range cfg.Bridge.Chains {
		if !c.Enabled || c.Adapter.BaseURL == "" {
			continue
		}
		adapters[id] = chain.NewClient(chain.Config{
			Chain:             id,
			BaseURL:           c.Adapter.BaseURL,
			Timeout:           c.Adapter.Timeout,
			RateLimit:         c.Adapter.RateLimit,
			Burst:             c.Adapter.Burst,
			MaxRetries:        c.Adapter.MaxRetries,
			ConfirmationDepth: c.ConfirmationDepth,
		}, log.Zap())
		log.Info("Chain gateway configured", "chain", id, "base_url", c.Adapter.BaseURL)
	}

	registry, err := bridge.NewValidatorRegistry(cfg.Bridge.RequiredSignatures, cfg.Bridge.Validators)
	if err != nil {
		log.Fatal("Invalid validator set", "error", err)
	}

	orchestrator, err := bridge.NewOrchestrator(bridgeConfig, store, registry, adapters, log.Zap())
	if err != nil {
		log.Fatal("Failed to create bridge orchestrator", "error", err)
	}

	// Timeout and refund sweeper
	workerConfig := bridge_timeout.DefaultConfig()
	workerConfig.Schedule = cfg.Workers.SweepSchedule
	sweeper, err := bridge_timeout.NewWorker(workerConfig, orchestrator, log)
	if err != nil {
		log.Fatal("Failed to create bridge timeout worker", "error", err)
	}
	if err := sweeper.Start(); err != nil {
		log.Fatal("Failed to start bridge timeout worker", "error", err)
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := routes.SetupRoutes(
		handlers.NewBridgeHandlers(orchestrator, log.Zap()),
		handlers.NewCoreHandlers(deps, log),
		log,
		routes.Options{
			RateLimitPerMin: cfg.Server.RateLimitPerMin,
			Idempotency:     idempotencyStore,
			IdempotencyTTL:  cfg.Server.IdempotencyTTL,
		},
	)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	shutdown := graceful.NewShutdownManager(server, log)
	shutdown.Register(sweeper)
	shutdown.Register(orchestrator)
	for _, c := range closers {
		shutdown.RegisterCloser(c.name, c.closer)
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"storage", cfg.Storage,
			"validators", len(cfg.Bridge.Validators),
			"required_signatures", cfg.Bridge.RequiredSignatures,
		)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	shutdown.WaitForShutdown()
	log.Info("Server exited gracefully")
}

type namedCloser struct {
	name   string
	closer interface{ Close() error }
}

func collectDBStats(db *sqlx.DB) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := db.Stats()
		metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
		metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
		metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
	}
}
