// ABOUTME: Presence sweeper marking stale-heartbeat agents offline
// ABOUTME: Each swept agent's conversations are redistributed exactly once per cycle

package directory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaywise/supportd/internal/metrics"
	"github.com/relaywise/supportd/internal/store"
)

// SweepStore is the persistence surface the sweeper reads and writes
type SweepStore interface {
	ListAgentsHeartbeatBefore(ctx context.Context, cutoff time.Time) ([]*store.Agent, error)
	UpdateAgentAvailability(ctx context.Context, id, availability string) error
}

// Sweeper periodically marks agents with stale heartbeats offline and
// hands their conversations to the redistributor. Agents already offline
// are never returned by the store query, so a crashed agent is swept
// exactly once.
type Sweeper struct {
	store         SweepStore
	redistributor Redistributor
	metrics       *metrics.Recorder
	timeout       time.Duration
	interval      time.Duration
	logger        *slog.Logger
}

func NewSweeper(s SweepStore, redistributor Redistributor, recorder *metrics.Recorder, timeout, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:         s,
		redistributor: redistributor,
		metrics:       recorder,
		timeout:       timeout,
		interval:      interval,
		logger:        logger.With("component", "sweeper"),
	}
}

// Run sweeps on the configured interval until the context is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("presence sweeper started",
		"heartbeat_timeout", s.timeout,
		"sweep_interval", s.interval)

	for {
		select {
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("presence sweeper stopped")
			return
		}
	}
}

// Sweep runs a single pass: every online or busy agent whose heartbeat is
// older than the timeout goes offline, and its conversations are released
// to other agents. A redistribution failure for one agent does not stop
// the pass for the rest.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.timeout)
	stale, err := s.store.ListAgentsHeartbeatBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("listing stale agents: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	for _, agent := range stale {
		if err := s.store.UpdateAgentAvailability(ctx, agent.ID, store.AvailabilityOffline); err != nil {
			s.logger.Error("failed to mark agent offline",
				"agent_id", agent.ID,
				"error", err)
			continue
		}
		s.metrics.IncOfflineSweep()
		s.logger.Warn("agent heartbeat expired, marked offline",
			"agent_id", agent.ID,
			"last_heartbeat", agent.LastHeartbeat)

		reassigned, err := s.redistributor.RedistributeFromOfflineAgent(ctx, agent)
		if err != nil {
			s.logger.Error("redistribution failed during sweep",
				"agent_id", agent.ID,
				"error", err)
			continue
		}
		s.logger.Info("swept agent's conversations redistributed",
			"agent_id", agent.ID,
			"reassigned", reassigned)
	}
	return nil
}
