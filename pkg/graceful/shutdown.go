// Package graceful coordinates process shutdown. Components stop in the
// reverse of their registration order, so producers started late stop
// before the queues they feed into finish draining.
package graceful

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/starpay-service/starpay_service/pkg/logger"
)

type component struct {
	name string
	stop func(timeout time.Duration)
}

// Manager owns the shutdown sequence for the HTTP server and every
// registered background component.
type Manager struct {
	server     *http.Server
	components []component
	timeout    time.Duration
	logger     *logger.Logger
}

// NewManager creates a shutdown manager
func NewManager(server *http.Server, timeout time.Duration, logger *logger.Logger) *Manager {
	return &Manager{
		server:  server,
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a component. Register in startup order.
func (m *Manager) Register(name string, stop func(timeout time.Duration)) {
	m.components = append(m.components, component{name: name, stop: stop})
}

// Wait blocks until SIGINT or SIGTERM, then runs the shutdown sequence:
// the HTTP server stops accepting first, then components unwind.
func (m *Manager) Wait() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	m.logger.Info("Shutting down", "timeout", m.timeout)

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Error("HTTP server shutdown failed", "error", err)
	}

	for i := len(m.components) - 1; i >= 0; i-- {
		c := m.components[i]
		m.logger.Debug("Stopping component", "component", c.name)
		c.stop(m.timeout)
	}

	m.logger.Info("Shutdown complete")
}
