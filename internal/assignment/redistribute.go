// ABOUTME: Redistribution of an offline agent's active conversations
// ABOUTME: Releases each one back to the pool and runs it through the engine

package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaywise/supportd/internal/metrics"
	"github.com/relaywise/supportd/internal/store"
)

// RedistributeStore is the persistence surface redistribution needs on top
// of what the engine already uses.
type RedistributeStore interface {
	Store
	ListActiveConversationsByAgent(ctx context.Context, agentID string) ([]*store.Conversation, error)
	ReleaseConversation(ctx context.Context, id string, at time.Time) error
}

// Redistributor moves an offline agent's conversations to other agents,
// one at a time through the assignment engine.
type Redistributor struct {
	store   RedistributeStore
	engine  *Engine
	metrics *metrics.Recorder
	logger  *slog.Logger
}

func NewRedistributor(s RedistributeStore, engine *Engine, recorder *metrics.Recorder, logger *slog.Logger) *Redistributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redistributor{
		store:   s,
		engine:  engine,
		metrics: recorder,
		logger:  logger.With("component", "redistribute"),
	}
}

// RedistributeFromOfflineAgent releases every active conversation held by
// the agent and reassigns each through the engine. Conversations with no
// eligible agent land in the waiting queue marked transferred.
//
// Idempotent: an agent with no active conversations yields (0, nil), so
// calling it again for an already-swept agent is harmless. Returns the
// number of conversations that found a new agent.
func (r *Redistributor) RedistributeFromOfflineAgent(ctx context.Context, agent *store.Agent) (int, error) {
	convs, err := r.store.ListActiveConversationsByAgent(ctx, agent.ID)
	if err != nil {
		return 0, fmt.Errorf("listing conversations for %s: %w", agent.ID, err)
	}
	if len(convs) == 0 {
		return 0, nil
	}

	r.logger.Info("redistributing conversations from offline agent",
		"agent_id", agent.ID,
		"count", len(convs))

	reassigned := 0
	for _, conv := range convs {
		if err := r.store.ReleaseConversation(ctx, conv.ID, time.Now()); err != nil {
			return reassigned, fmt.Errorf("releasing conversation %s: %w", conv.ID, err)
		}

		// Re-read so the engine sees the transfer marking just written
		released, err := r.store.GetConversation(ctx, conv.ID)
		if err != nil {
			return reassigned, fmt.Errorf("reloading conversation %s: %w", conv.ID, err)
		}

		// Reassignment runs at normal priority: an already-interrupted
		// conversation must not be bounced off the high-priority
		// sub-limit when the backup agent has plain capacity left
		newAgent, err := r.engine.AutoAssign(ctx, released, store.PriorityNormal)
		if err != nil {
			return reassigned, fmt.Errorf("reassigning conversation %s: %w", conv.ID, err)
		}
		if newAgent != nil {
			reassigned++
			r.metrics.IncRedistributed()
		}
	}

	r.logger.Info("redistribution complete",
		"agent_id", agent.ID,
		"total", len(convs),
		"reassigned", reassigned,
		"queued", len(convs)-reassigned)
	return reassigned, nil
}
