// ABOUTME: Store interface and data types for supportd persistence
// ABOUTME: Defines Agent, Skill, Conversation structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateAgent is returned when trying to create an agent whose email is already registered
var ErrDuplicateAgent = errors.New("agent already exists")

// ErrConversationAssigned is returned when an assignment targets a conversation that already has an agent
var ErrConversationAssigned = errors.New("conversation already assigned")

// ErrConversationClosed is returned when an operation targets a conversation that has been closed
var ErrConversationClosed = errors.New("conversation closed")

// ErrAgentAtCapacity is returned when an assignment would push an agent past its conversation limit
var ErrAgentAtCapacity = errors.New("agent at capacity")

// Availability constants for agents
const (
	AvailabilityOnline  = "online"
	AvailabilityBusy    = "busy"
	AvailabilityOffline = "offline"
)

// Skill type constants
const (
	SkillTypeLanguage = "language"
	SkillTypeDomain   = "domain"
)

// Conversation status constants
const (
	StatusWaiting = "waiting"
	StatusActive  = "active"
	StatusClosed  = "closed"
)

// Priority constants for conversations
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Agent represents a support representative with a skill set and live availability state
type Agent struct {
	ID            string
	Name          string
	Email         string
	Availability  string
	LastHeartbeat time.Time
	Skills        []Skill
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Skill is a (type, code, proficiency) tuple owned by an agent.
// Proficiency ranges 1-5.
type Skill struct {
	Type        string
	Code        string
	Proficiency int
}

// SkillByType returns the agent's skill of the given type and code, if present
func (a *Agent) SkillByType(skillType, code string) (Skill, bool) {
	for _, s := range a.Skills {
		if s.Type == skillType && s.Code == code {
			return s, true
		}
	}
	return Skill{}, false
}

// Conversation represents a customer support session routed to at most one agent.
// AgentID is empty while the conversation is waiting.
type Conversation struct {
	ID                 string
	CustomerID         string
	AgentID            string
	Status             string
	PreferredLanguage  string
	PreferredDomain    string
	Priority           string
	LanguageMatchScore int
	DomainMatchScore   int
	TransferCount      int
	IsTransferred      bool
	LastTransferredAt  *time.Time
	LastActivityAt     time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SystemMessage kinds written by the assignment pipeline
const (
	SystemMessageAssigned     = "assigned"
	SystemMessageQueued       = "queued"
	SystemMessageTransferred  = "transferred"
	SystemMessageAgentOffline = "agent_offline"
)

// SystemMessage is an audit-trail message attached to a conversation by the engine
type SystemMessage struct {
	ID             string
	ConversationID string
	Kind           string
	Body           string
	CreatedAt      time.Time
}

// AssignParams carries everything needed for a transactional assignment.
// MaxConversations is re-checked inside the transaction so two concurrent
// attempts cannot both pass the capacity check.
type AssignParams struct {
	ConversationID     string
	AgentID            string
	LanguageMatchScore int
	DomainMatchScore   int
	MaxConversations   int
	At                 time.Time
}

// Store defines the interface for agent and conversation persistence
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListOnlineAgents(ctx context.Context) ([]*Agent, error)
	UpdateAgentAvailability(ctx context.Context, id, availability string) error
	TouchAgentHeartbeat(ctx context.Context, id string, at time.Time) error
	ListAgentsHeartbeatBefore(ctx context.Context, cutoff time.Time) ([]*Agent, error)

	// Skills (mutated explicitly, never as a side effect of assignment)
	AddAgentSkill(ctx context.Context, agentID string, skill Skill) error
	RemoveAgentSkill(ctx context.Context, agentID, skillType, code string) error

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	AssignConversation(ctx context.Context, params AssignParams) error
	MarkConversationWaiting(ctx context.Context, id, priority string) error
	ReleaseConversation(ctx context.Context, id string, at time.Time) error
	CloseConversation(ctx context.Context, id string) error
	ListActiveConversationsByAgent(ctx context.Context, agentID string) ([]*Conversation, error)
	ListWaitingConversations(ctx context.Context, limit int) ([]*Conversation, error)

	// Load queries - live snapshots, never cached
	CountAssignedConversations(ctx context.Context, agentID string) (int, error)
	CountHighPriorityConversations(ctx context.Context, agentID string) (int, error)

	// System messages (audit trail)
	SaveSystemMessage(ctx context.Context, msg *SystemMessage) error
	ListSystemMessages(ctx context.Context, conversationID string, limit int) ([]*SystemMessage, error)

	// Close releases any resources held by the store
	Close() error
}
