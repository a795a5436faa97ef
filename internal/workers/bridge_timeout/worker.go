// Package bridge_timeout runs the periodic sweep that fails stalled bridge
// transfers and, when enabled, refunds failed ones.
package bridge_timeout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rail-service/bridge_core/internal/domain/services/bridge"
	"github.com/rail-service/bridge_core/pkg/logger"
)

// Sweeper is the orchestrator operation the worker drives
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (bridge.SweepResult, error)
}

// Config holds worker configuration
type Config struct {
	Schedule   string        // cron spec, e.g. "@every 1m"
	RunTimeout time.Duration // upper bound of a single sweep
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Schedule:   "@every 1m",
		RunTimeout: 5 * time.Minute,
	}
}

type Worker struct {
	config  Config
	sweeper Sweeper
	cron    *cron.Cron
	logger  *logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	started bool

	sweepCounter    metric.Int64Counter
	expiredCounter  metric.Int64Counter
	refundedCounter metric.Int64Counter
	sweepDuration   metric.Float64Histogram
}

// NewWorker creates a sweeper worker. Overlapping runs are skipped.
func NewWorker(config Config, sweeper Sweeper, logger *logger.Logger) (*Worker, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultConfig().Schedule
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultConfig().RunTimeout
	}

	meter := otel.Meter("bridge-timeout-worker")

	sweepCounter, err := meter.Int64Counter(
		"bridge.sweep.runs.total",
		metric.WithDescription("Total number of bridge timeout sweeps"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep counter: %w", err)
	}
	expiredCounter, err := meter.Int64Counter(
		"bridge.sweep.expired.total",
		metric.WithDescription("Bridge transfers failed by the timeout sweep"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expired counter: %w", err)
	}
	refundedCounter, err := meter.Int64Counter(
		"bridge.sweep.refunded.total",
		metric.WithDescription("Bridge transfers refunded by the timeout sweep"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refunded counter: %w", err)
	}
	sweepDuration, err := meter.Float64Histogram(
		"bridge.sweep.duration.seconds",
		metric.WithDescription("Bridge timeout sweep duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Worker{
		config:          config,
		sweeper:         sweeper,
		cron:            cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:          logger,
		now:             time.Now,
		sweepCounter:    sweepCounter,
		expiredCounter:  expiredCounter,
		refundedCounter: refundedCounter,
		sweepDuration:   sweepDuration,
	}, nil
}

func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	if _, err := w.cron.AddFunc(w.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.config.RunTimeout)
		defer cancel()
		w.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", w.config.Schedule, err)
	}

	w.cron.Start()
	w.started = true
	w.logger.Info("Bridge timeout worker started", "schedule", w.config.Schedule)
	return nil
}

// RunOnce performs a single sweep
func (w *Worker) RunOnce(ctx context.Context) bridge.SweepResult {
	start := w.now()
	result, err := w.sweeper.SweepExpired(ctx, start)
	elapsed := time.Since(start).Seconds()

	outcome := "success"
	if err != nil {
		outcome = "error"
		w.logger.Error("Bridge timeout sweep failed", "error", err)
	} else if result.Errors > 0 {
		outcome = "partial"
	}

	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	w.sweepCounter.Add(ctx, 1, attrs)
	w.sweepDuration.Record(ctx, elapsed, attrs)
	w.expiredCounter.Add(ctx, int64(result.Expired))
	w.refundedCounter.Add(ctx, int64(result.Refunded))

	if result.Expired > 0 || result.Refunded > 0 || result.Errors > 0 {
		w.logger.Info("Bridge timeout sweep completed",
			"expired", result.Expired,
			"refunded", result.Refunded,
			"errors", result.Errors,
			"duration_seconds", elapsed)
	}
	return result
}

func (w *Worker) Stop() {
	_ = w.Shutdown(30 * time.Second)
}

// Shutdown stops scheduling and waits for a running sweep to finish
func (w *Worker) Shutdown(timeout time.Duration) error {
	w.mu.Lock()
	started := w.started
	w.started = false
	w.mu.Unlock()
	if !started {
		return nil
	}

	stopped := w.cron.Stop()
	select {
	case <-stopped.Done():
		w.logger.Info("Bridge timeout worker stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("bridge timeout worker did not stop within %s", timeout)
	}
}
