// Package liveness evicts half-open sessions without disturbing active ones.
package liveness

import (
	"context"
	"time"

	"github.com/dropwire/coordinator/internal/observability"
	"github.com/dropwire/coordinator/internal/registry"
)

// Monitor periodically sweeps the session registry and evicts sessions
// whose last heartbeat is older than the staleness window. The sweep runs
// on a single goroutine so eviction and concurrent arrivals on the same
// session id serialize through the registry lock.
type Monitor struct {
	registry *registry.Registry
	window   time.Duration
	sweep    time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewMonitor creates a liveness monitor.
func NewMonitor(reg *registry.Registry, window, sweep time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Monitor {
	return &Monitor{
		registry: reg,
		window:   window,
		sweep:    sweep,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run sweeps until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepOnce()
		}
	}
}

// SweepOnce evicts every session that missed the liveness window.
func (m *Monitor) SweepOnce() int {
	stale := m.registry.StaleSessions(m.window)
	for _, id := range stale {
		idle := m.registry.IdleFor(id)
		if err := m.registry.Unregister(id, "liveness eviction"); err != nil {
			// Raced with a disconnect; nothing to do.
			continue
		}
		m.metrics.SessionsEvicted.Inc()
		m.logger.SessionEvicted(id, idle)
	}
	return len(stale)
}
