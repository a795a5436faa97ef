package graceful

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rail-service/bridge_core/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// Shutdowner is a component that drains its background work within timeout
type Shutdowner interface {
	Shutdown(timeout time.Duration) error
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// ShutdownManager stops components in order: registered shutdowners first
// (workers, confirmation watchers), then the HTTP server, then closers such as
// the database pool and cache client.
type ShutdownManager struct {
	server      *http.Server
	shutdowners []Shutdowner
	closers     []namedCloser
	timeout     time.Duration
	logger      *logger.Logger
}

func NewShutdownManager(server *http.Server, logger *logger.Logger) *ShutdownManager {
	return &ShutdownManager{
		server:      server,
		shutdowners: make([]Shutdowner, 0),
		timeout:     defaultTimeout,
		logger:      logger,
	}
}

// WithTimeout overrides the per-phase shutdown timeout
func (sm *ShutdownManager) WithTimeout(timeout time.Duration) *ShutdownManager {
	sm.timeout = timeout
	return sm
}

func (sm *ShutdownManager) Register(s Shutdowner) {
	sm.shutdowners = append(sm.shutdowners, s)
}

// RegisterCloser adds a resource closed after the server has stopped
func (sm *ShutdownManager) RegisterCloser(name string, c io.Closer) {
	sm.closers = append(sm.closers, namedCloser{name: name, closer: c})
}

// WaitForShutdown blocks until SIGINT or SIGTERM and then shuts down
func (sm *ShutdownManager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sm.Shutdown()
}

// Shutdown runs the shutdown sequence once
func (sm *ShutdownManager) Shutdown() {
	sm.logger.Info("Shutting down gracefully...")

	for _, s := range sm.shutdowners {
		if err := s.Shutdown(sm.timeout); err != nil {
			sm.logger.Warn("Component shutdown error", "error", err)
		}
	}

	if sm.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error("Server forced shutdown", "error", err)
		}
	}

	for _, c := range sm.closers {
		if err := c.closer.Close(); err != nil {
			sm.logger.Warn("Close error", "resource", c.name, "error", err)
		}
	}

	sm.logger.Info("Shutdown complete")
}
