// ABOUTME: Assignment engine selecting the best eligible agent for a conversation
// ABOUTME: Capacity-bounded, skill-filtered, with a conflict retry and waiting-queue fallback

package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaywise/supportd/internal/matching"
	"github.com/relaywise/supportd/internal/metrics"
	"github.com/relaywise/supportd/internal/notify"
	"github.com/relaywise/supportd/internal/store"
)

// Limits are the capacity bounds enforced during candidate selection
type Limits struct {
	MaxConversationsPerAgent int
	HighPriorityLimit        int
	WaitingPickupBatch       int
}

// Store defines what the engine needs from persistence
type Store interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	ListOnlineAgents(ctx context.Context) ([]*store.Agent, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	AssignConversation(ctx context.Context, params store.AssignParams) error
	MarkConversationWaiting(ctx context.Context, id, priority string) error
	ListWaitingConversations(ctx context.Context, limit int) ([]*store.Conversation, error)
	CountAssignedConversations(ctx context.Context, agentID string) (int, error)
	CountHighPriorityConversations(ctx context.Context, agentID string) (int, error)
	SaveSystemMessage(ctx context.Context, msg *store.SystemMessage) error
}

// Engine is the single entry point for all conversation assignment.
// No other code path may set or clear a conversation's agent.
type Engine struct {
	store   Store
	emitter notify.Emitter
	metrics *metrics.Recorder
	locks   *agentLocks
	limits  Limits
	logger  *slog.Logger
}

// NewEngine creates an assignment engine. Pass nil logger for default,
// nil recorder to disable metrics.
func NewEngine(s Store, emitter notify.Emitter, recorder *metrics.Recorder, limits Limits, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   s,
		emitter: emitter,
		metrics: recorder,
		locks:   newAgentLocks(),
		limits:  limits,
		logger:  logger.With("component", "assignment"),
	}
}

// errHighPriorityLimit reports that the chosen agent reached its
// high-priority sub-limit between selection and assignment
var errHighPriorityLimit = errors.New("agent at high-priority limit")

// candidate pairs an eligible agent with its ranking keys
type candidate struct {
	agent         *store.Agent
	score         int
	languageScore int
	domainScore   int
	load          int
}

// AutoAssign selects the best eligible agent for the conversation, or places
// it in the waiting queue when none qualifies.
//
// Idempotent: a conversation that already has an agent is left untouched and
// (nil, nil) is returned. Finding no eligible agent is a normal outcome, not
// an error - the conversation goes to waiting and (nil, nil) is returned.
//
// A persistence conflict (another assignment won the race for the chosen
// agent's last capacity slot) is retried once with freshly read counts
// before falling back to waiting.
func (e *Engine) AutoAssign(ctx context.Context, conv *store.Conversation, priority string) (*store.Agent, error) {
	if conv.AgentID != "" {
		e.logger.Debug("conversation already assigned, skipping",
			"conversation_id", conv.ID,
			"agent_id", conv.AgentID)
		return nil, nil
	}
	if conv.Status == store.StatusClosed {
		return nil, nil
	}
	if priority == "" {
		priority = store.PriorityNormal
	}

	req := matching.RequirementFor(conv)

	// One retry after a capacity conflict, with counts re-read
	for attempt := range 2 {
		best, err := e.selectCandidate(ctx, req, priority)
		if err != nil {
			return nil, fmt.Errorf("selecting candidate: %w", err)
		}
		if best == nil {
			break
		}

		err = e.tryAssign(ctx, conv, best.agent, priority, best.languageScore, best.domainScore)
		switch {
		case err == nil:
			conv.AgentID = best.agent.ID
			conv.Status = store.StatusActive
			conv.LanguageMatchScore = best.languageScore
			conv.DomainMatchScore = best.domainScore
			e.finishAssignment(ctx, conv, best.agent)
			return best.agent, nil

		case errors.Is(err, store.ErrConversationAssigned):
			// Someone else assigned this conversation concurrently
			e.logger.Debug("conversation assigned concurrently, skipping",
				"conversation_id", conv.ID)
			return nil, nil

		case errors.Is(err, store.ErrConversationClosed):
			e.logger.Debug("conversation closed concurrently, skipping",
				"conversation_id", conv.ID)
			return nil, nil

		case errors.Is(err, store.ErrAgentAtCapacity), errors.Is(err, errHighPriorityLimit):
			e.metrics.IncAssignConflict()
			e.logger.Info("assignment conflict, re-reading counts",
				"conversation_id", conv.ID,
				"agent_id", best.agent.ID,
				"attempt", attempt+1)
			continue

		default:
			return nil, fmt.Errorf("assigning conversation: %w", err)
		}
	}

	// No eligible agent - normal outcome, queue the conversation
	if err := e.store.MarkConversationWaiting(ctx, conv.ID, priority); err != nil {
		if errors.Is(err, store.ErrConversationClosed) {
			return nil, nil
		}
		return nil, fmt.Errorf("queueing conversation: %w", err)
	}
	conv.AgentID = ""
	conv.Status = store.StatusWaiting
	conv.Priority = priority
	e.finishQueued(ctx, conv)
	return nil, nil
}

// selectCandidate builds the eligible set and picks the winner:
// highest skill score, ties broken by lowest current load.
// Returns nil when no agent qualifies.
func (e *Engine) selectCandidate(ctx context.Context, req matching.Requirement, priority string) (*candidate, error) {
	agents, err := e.store.ListOnlineAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing online agents: %w", err)
	}

	var best *candidate
	for _, agent := range agents {
		if !matching.Eligible(agent, req) {
			continue
		}

		// Live load snapshot, re-read on every decision
		load, err := e.store.CountAssignedConversations(ctx, agent.ID)
		if err != nil {
			return nil, fmt.Errorf("counting conversations for %s: %w", agent.ID, err)
		}
		if load >= e.limits.MaxConversationsPerAgent {
			continue
		}

		if priority == store.PriorityHigh {
			highCount, err := e.store.CountHighPriorityConversations(ctx, agent.ID)
			if err != nil {
				return nil, fmt.Errorf("counting high-priority conversations for %s: %w", agent.ID, err)
			}
			if highCount >= e.limits.HighPriorityLimit {
				continue
			}
		}

		score, languageScore, domainScore := matching.Score(agent, req)
		c := &candidate{
			agent:         agent,
			score:         score,
			languageScore: languageScore,
			domainScore:   domainScore,
			load:          load,
		}
		if best == nil || c.score > best.score || (c.score == best.score && c.load < best.load) {
			best = c
		}
	}
	return best, nil
}

// tryAssign runs the read-counts-then-assign sequence for one agent inside
// that agent's critical section, so two in-process attempts cannot both see
// the same free slot. The store transaction re-checks plain capacity for
// writers outside this process; the high-priority sub-limit is only enforced
// here, which is why the counts must be read under the lock.
func (e *Engine) tryAssign(ctx context.Context, conv *store.Conversation, agent *store.Agent, priority string, languageScore, domainScore int) error {
	unlock := e.locks.acquire(agent.ID)
	defer unlock()

	load, err := e.store.CountAssignedConversations(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("counting conversations for %s: %w", agent.ID, err)
	}
	if load >= e.limits.MaxConversationsPerAgent {
		return store.ErrAgentAtCapacity
	}

	if priority == store.PriorityHigh {
		highCount, err := e.store.CountHighPriorityConversations(ctx, agent.ID)
		if err != nil {
			return fmt.Errorf("counting high-priority conversations for %s: %w", agent.ID, err)
		}
		if highCount >= e.limits.HighPriorityLimit {
			return errHighPriorityLimit
		}
	}

	return e.store.AssignConversation(ctx, store.AssignParams{
		ConversationID:     conv.ID,
		AgentID:            agent.ID,
		LanguageMatchScore: languageScore,
		DomainMatchScore:   domainScore,
		MaxConversations:   e.limits.MaxConversationsPerAgent,
		At:                 time.Now(),
	})
}

// ProcessWaitingForAgent drains up to WaitingPickupBatch of the oldest
// waiting conversations onto a single agent that just came online, stopping
// early once the agent reaches capacity. Returns the number assigned.
func (e *Engine) ProcessWaitingForAgent(ctx context.Context, agent *store.Agent) (int, error) {
	waiting, err := e.store.ListWaitingConversations(ctx, e.limits.WaitingPickupBatch)
	if err != nil {
		return 0, fmt.Errorf("listing waiting conversations: %w", err)
	}

	assigned := 0
	for _, conv := range waiting {
		req := matching.RequirementFor(conv)
		if !matching.Eligible(agent, req) {
			continue
		}

		_, languageScore, domainScore := matching.Score(agent, req)

		err := e.tryAssign(ctx, conv, agent, conv.Priority, languageScore, domainScore)
		switch {
		case err == nil:
			conv.AgentID = agent.ID
			conv.Status = store.StatusActive
			conv.LanguageMatchScore = languageScore
			conv.DomainMatchScore = domainScore
			e.finishAssignment(ctx, conv, agent)
			assigned++

		case errors.Is(err, store.ErrConversationAssigned), errors.Is(err, store.ErrConversationClosed):
			// Picked up or closed by a concurrent operation, move on
			continue

		case errors.Is(err, errHighPriorityLimit):
			// A normal-priority conversation later in the batch may still fit
			continue

		case errors.Is(err, store.ErrAgentAtCapacity):
			// The agent is full, stop draining
			return assigned, nil

		default:
			return assigned, fmt.Errorf("assigning waiting conversation: %w", err)
		}
	}

	if assigned > 0 {
		e.logger.Info("drained waiting queue onto agent",
			"agent_id", agent.ID,
			"assigned", assigned)
	}
	return assigned, nil
}

// finishAssignment records the system message, emits the notification, and
// counts the assignment. A transferred conversation gets a transfer-aware
// message acknowledging the prior history; a fresh one gets a greeting.
// Message and notification failures are logged and swallowed - they never
// reverse the assignment.
func (e *Engine) finishAssignment(ctx context.Context, conv *store.Conversation, agent *store.Agent) {
	kind := notify.KindFirstAssignment
	msgKind := store.SystemMessageAssigned
	body := fmt.Sprintf("Agent %s has joined the conversation.", agent.Name)
	metricKind := "first_assignment"
	if conv.IsTransferred {
		kind = notify.KindTransfer
		msgKind = store.SystemMessageTransferred
		body = fmt.Sprintf("You have been transferred to agent %s. They can see your previous messages.", agent.Name)
		metricKind = "transfer"
	}

	e.saveSystemMessage(ctx, conv.ID, msgKind, body)

	if err := e.emitter.EmitAssignment(ctx, conv, agent, kind); err != nil {
		e.logger.Warn("assignment notification failed",
			"conversation_id", conv.ID,
			"agent_id", agent.ID,
			"error", err)
	}

	e.metrics.IncAssignment(metricKind)
	e.logger.Info("conversation assigned",
		"conversation_id", conv.ID,
		"agent_id", agent.ID,
		"transferred", conv.IsTransferred,
		"language_score", conv.LanguageMatchScore,
		"domain_score", conv.DomainMatchScore)
}

// finishQueued records the queued system message and notification.
// A transferred conversation tells the customer their agent became
// unavailable; a fresh one gets the standard queue message.
func (e *Engine) finishQueued(ctx context.Context, conv *store.Conversation) {
	msgKind := store.SystemMessageQueued
	body := "All our agents are currently busy. You are in the queue and will be connected shortly."
	if conv.IsTransferred {
		msgKind = store.SystemMessageAgentOffline
		body = "Your agent became unavailable. You are back in the queue and will be connected to a new agent shortly."
	}

	e.saveSystemMessage(ctx, conv.ID, msgKind, body)

	if err := e.emitter.EmitQueued(ctx, conv); err != nil {
		e.logger.Warn("queued notification failed",
			"conversation_id", conv.ID,
			"error", err)
	}

	e.metrics.IncQueued(conv.Priority)
	e.logger.Info("conversation queued",
		"conversation_id", conv.ID,
		"priority", conv.Priority,
		"transferred", conv.IsTransferred)
}

// saveSystemMessage persists an audit message, logging on failure
func (e *Engine) saveSystemMessage(ctx context.Context, conversationID, kind, body string) {
	msg := &store.SystemMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Kind:           kind,
		Body:           body,
		CreatedAt:      time.Now(),
	}
	if err := e.store.SaveSystemMessage(ctx, msg); err != nil {
		e.logger.Error("failed to save system message",
			"conversation_id", conversationID,
			"kind", kind,
			"error", err)
	}
}
