// ABOUTME: Outbound event model and Emitter interface for the broadcast layer
// ABOUTME: The engine emits exactly one event per successful transition; delivery is fire-and-forget

package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/relaywise/supportd/internal/store"
)

// Kind identifies an outbound event type. Kinds double as routing keys on
// the broker.
type Kind string

const (
	// KindFirstAssignment is emitted when a conversation gets its first agent
	KindFirstAssignment Kind = "conversation.assigned"
	// KindTransfer is emitted when a conversation is handed to a new agent
	// after its previous agent went offline
	KindTransfer Kind = "conversation.transferred"
	// KindQueued is emitted when no eligible agent was found
	KindQueued Kind = "conversation.queued"
)

// TopicAgents is the broadcast topic all agent UIs subscribe to so their
// conversation lists refresh on any assignment outcome.
const TopicAgents = "agents"

// Meta carries event identity and timing
type Meta struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Envelope wraps an event payload with its metadata
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// AssignmentEvent is the payload for assigned and transferred events
type AssignmentEvent struct {
	ConversationID     string    `json:"conversation_id"`
	CustomerID         string    `json:"customer_id"`
	AgentID            string    `json:"agent_id"`
	AgentName          string    `json:"agent_name"`
	Priority           string    `json:"priority"`
	LanguageMatchScore int       `json:"language_match_score"`
	DomainMatchScore   int       `json:"domain_match_score"`
	TransferCount      int       `json:"transfer_count"`
	AssignedAt         time.Time `json:"assigned_at"`
}

// QueuedEvent is the payload for queued events
type QueuedEvent struct {
	ConversationID string    `json:"conversation_id"`
	CustomerID     string    `json:"customer_id"`
	Priority       string    `json:"priority"`
	QueuedAt       time.Time `json:"queued_at"`
}

// Emitter produces outbound events for the external broadcast layer.
// Implementations must not block assignment: the engine treats a failed
// emit as recovered (logged) and never rolls back state because of it.
type Emitter interface {
	EmitAssignment(ctx context.Context, conv *store.Conversation, agent *store.Agent, kind Kind) error
	EmitQueued(ctx context.Context, conv *store.Conversation) error
}

// NewAssignmentEnvelope builds the envelope for an assignment or transfer
func NewAssignmentEnvelope(conv *store.Conversation, agent *store.Agent, kind Kind) Envelope {
	now := time.Now()
	return Envelope{
		Meta: Meta{
			ID:            uuid.New().String(),
			Kind:          kind,
			OccurredAt:    now,
			CorrelationID: conv.ID,
		},
		Data: AssignmentEvent{
			ConversationID:     conv.ID,
			CustomerID:         conv.CustomerID,
			AgentID:            agent.ID,
			AgentName:          agent.Name,
			Priority:           conv.Priority,
			LanguageMatchScore: conv.LanguageMatchScore,
			DomainMatchScore:   conv.DomainMatchScore,
			TransferCount:      conv.TransferCount,
			AssignedAt:         now,
		},
	}
}

// NewQueuedEnvelope builds the envelope for a queued event
func NewQueuedEnvelope(conv *store.Conversation) Envelope {
	now := time.Now()
	return Envelope{
		Meta: Meta{
			ID:            uuid.New().String(),
			Kind:          KindQueued,
			OccurredAt:    now,
			CorrelationID: conv.ID,
		},
		Data: QueuedEvent{
			ConversationID: conv.ID,
			CustomerID:     conv.CustomerID,
			Priority:       conv.Priority,
			QueuedAt:       now,
		},
	}
}

// MultiEmitter fans an event out to several emitters, joining their errors.
// Used to combine the in-process broadcaster with the AMQP publisher.
type MultiEmitter []Emitter

// EmitAssignment sends to all emitters; errors are joined, not short-circuited
func (m MultiEmitter) EmitAssignment(ctx context.Context, conv *store.Conversation, agent *store.Agent, kind Kind) error {
	var errs []error
	for _, e := range m {
		if err := e.EmitAssignment(ctx, conv, agent, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmitQueued sends to all emitters; errors are joined, not short-circuited
func (m MultiEmitter) EmitQueued(ctx context.Context, conv *store.Conversation) error {
	var errs []error
	for _, e := range m {
		if err := e.EmitQueued(ctx, conv); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Emitter = (MultiEmitter)(nil)
