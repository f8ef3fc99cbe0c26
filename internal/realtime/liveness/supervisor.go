// Package liveness runs the server-side heartbeat sweep. Each sweep pings
// every connection; a connection whose outstanding-ping count reaches the
// configured threshold is presumed dead and removed. Any pong resets the
// count via Registry.Touch (wired in the server's pong handler).
package liveness

import (
	"context"
	"time"

	"transit-fleet/internal/general/logger"
	"transit-fleet/internal/realtime/hub"
)

type Supervisor struct {
	logger    *logger.Logger
	registry  *hub.Registry
	interval  time.Duration
	threshold int // missed pongs before removal
}

func NewSupervisor(log *logger.Logger, registry *hub.Registry, interval time.Duration, threshold int) *Supervisor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if threshold <= 0 {
		threshold = 2
	}
	return &Supervisor{
		logger:    log,
		registry:  registry,
		interval:  interval,
		threshold: threshold,
	}
}

// Run sweeps on a ticker until ctx is cancelled. Independent of message
// traffic: a silent but ponging connection stays alive.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "liveness_started", "Heartbeat supervisor started",
		map[string]any{"interval": s.interval.String(), "missed_pong_threshold": s.threshold})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "liveness_stopped", "Heartbeat supervisor stopped", nil)
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep checks and pings every live connection once.
func (s *Supervisor) Sweep(ctx context.Context) {
	deadline := time.Now().Add(s.interval)
	for _, id := range s.registry.ConnIDs() {
		missed, ok := s.registry.MissedPongs(id)
		if !ok {
			continue // removed between snapshot and check
		}
		if missed >= s.threshold {
			s.logger.Info(ctx, "conn_presumed_dead", "Connection missed heartbeats; removing",
				map[string]any{"connection_id": string(id), "missed_pongs": missed})
			s.registry.Remove(id)
			continue
		}
		if err := s.registry.Ping(id, deadline); err != nil {
			s.logger.Debug(ctx, "conn_ping_failed", "Ping failed; removing connection",
				map[string]any{"connection_id": string(id), "error": err.Error()})
			s.registry.Remove(id)
		}
	}
}
