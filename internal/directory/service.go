// ABOUTME: Agent directory service: registration, skills, heartbeats, availability
// ABOUTME: Availability transitions trigger queue draining and redistribution

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaywise/supportd/internal/store"
)

// ErrInvalidAgent indicates a registration request that fails validation
var ErrInvalidAgent = errors.New("invalid agent")

// ErrInvalidSkill indicates a skill outside the accepted types or proficiency range
var ErrInvalidSkill = errors.New("invalid skill")

// ErrInvalidAvailability indicates an availability value outside the known set
var ErrInvalidAvailability = errors.New("invalid availability")

// Store defines what the directory needs from persistence
type Store interface {
	CreateAgent(ctx context.Context, agent *store.Agent) error
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	UpdateAgentAvailability(ctx context.Context, id, availability string) error
	TouchAgentHeartbeat(ctx context.Context, id string, at time.Time) error
	AddAgentSkill(ctx context.Context, agentID string, skill store.Skill) error
	RemoveAgentSkill(ctx context.Context, agentID, skillType, code string) error
}

// Assigner is the slice of the assignment engine the directory drives:
// draining the waiting queue when an agent comes online.
type Assigner interface {
	ProcessWaitingForAgent(ctx context.Context, agent *store.Agent) (int, error)
}

// Redistributor moves an offline agent's conversations elsewhere
type Redistributor interface {
	RedistributeFromOfflineAgent(ctx context.Context, agent *store.Agent) (int, error)
}

// Service manages the agent directory and reacts to availability changes.
// It owns every agent-side mutation; conversation-side mutations stay with
// the assignment engine.
type Service struct {
	store         Store
	assigner      Assigner
	redistributor Redistributor
	logger        *slog.Logger
}

func NewService(s Store, assigner Assigner, redistributor Redistributor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         s,
		assigner:      assigner,
		redistributor: redistributor,
		logger:        logger.With("component", "directory"),
	}
}

// RegisterParams carries a new agent's identity and initial skill set
type RegisterParams struct {
	Name   string
	Email  string
	Skills []store.Skill
}

// Register creates an agent. New agents start offline; they enter the
// eligible pool only after an explicit availability change.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*store.Agent, error) {
	name := strings.TrimSpace(params.Name)
	email := strings.TrimSpace(params.Email)
	if name == "" || email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrInvalidAgent)
	}
	for _, skill := range params.Skills {
		if err := validateSkill(skill); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	agent := &store.Agent{
		ID:            uuid.New().String(),
		Name:          name,
		Email:         email,
		Availability:  store.AvailabilityOffline,
		LastHeartbeat: now,
		Skills:        params.Skills,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("registering agent: %w", err)
	}

	s.logger.Info("agent registered",
		"agent_id", agent.ID,
		"name", agent.Name,
		"skills", len(agent.Skills))
	return agent, nil
}

// GetAgent loads an agent with its skills
func (s *Service) GetAgent(ctx context.Context, id string) (*store.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// AddSkill attaches a skill to an agent. Existing conversations are never
// re-evaluated; the skill affects future assignments only.
func (s *Service) AddSkill(ctx context.Context, agentID string, skill store.Skill) error {
	if err := validateSkill(skill); err != nil {
		return err
	}
	if err := s.store.AddAgentSkill(ctx, agentID, skill); err != nil {
		return fmt.Errorf("adding skill: %w", err)
	}
	s.logger.Debug("skill added",
		"agent_id", agentID,
		"type", skill.Type,
		"code", skill.Code,
		"proficiency", skill.Proficiency)
	return nil
}

// RemoveSkill detaches a skill from an agent
func (s *Service) RemoveSkill(ctx context.Context, agentID, skillType, code string) error {
	if err := s.store.RemoveAgentSkill(ctx, agentID, skillType, code); err != nil {
		return fmt.Errorf("removing skill: %w", err)
	}
	s.logger.Debug("skill removed",
		"agent_id", agentID,
		"type", skillType,
		"code", code)
	return nil
}

// Heartbeat records that an agent is still alive. It does not change
// availability; the sweeper only marks agents offline when heartbeats stop.
func (s *Service) Heartbeat(ctx context.Context, agentID string) error {
	if err := s.store.TouchAgentHeartbeat(ctx, agentID, time.Now()); err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
	}
	return nil
}

// SetAvailability transitions an agent between online, busy, and offline.
//
// Going online drains waiting conversations onto the agent. Going offline
// redistributes everything the agent held. Going busy removes the agent
// from the eligible pool but leaves its current conversations in place.
// Setting the current value again is a no-op.
func (s *Service) SetAvailability(ctx context.Context, agentID, availability string) error {
	switch availability {
	case store.AvailabilityOnline, store.AvailabilityBusy, store.AvailabilityOffline:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAvailability, availability)
	}

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("loading agent: %w", err)
	}
	if agent.Availability == availability {
		return nil
	}

	if err := s.store.UpdateAgentAvailability(ctx, agentID, availability); err != nil {
		return fmt.Errorf("updating availability: %w", err)
	}
	agent.Availability = availability

	s.logger.Info("agent availability changed",
		"agent_id", agentID,
		"availability", availability)

	switch availability {
	case store.AvailabilityOnline:
		assigned, err := s.assigner.ProcessWaitingForAgent(ctx, agent)
		if err != nil {
			// The transition itself succeeded; queue draining retries next time
			s.logger.Error("failed to drain waiting queue",
				"agent_id", agentID,
				"error", err)
			return nil
		}
		if assigned > 0 {
			s.logger.Info("picked up waiting conversations",
				"agent_id", agentID,
				"assigned", assigned)
		}
	case store.AvailabilityOffline:
		reassigned, err := s.redistributor.RedistributeFromOfflineAgent(ctx, agent)
		if err != nil {
			s.logger.Error("redistribution failed",
				"agent_id", agentID,
				"error", err)
			return nil
		}
		s.logger.Info("redistributed offline agent's conversations",
			"agent_id", agentID,
			"reassigned", reassigned)
	}
	return nil
}

func validateSkill(skill store.Skill) error {
	if skill.Type != store.SkillTypeLanguage && skill.Type != store.SkillTypeDomain {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSkill, skill.Type)
	}
	if skill.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidSkill)
	}
	if skill.Proficiency < 1 || skill.Proficiency > 5 {
		return fmt.Errorf("%w: proficiency %d out of range 1-5", ErrInvalidSkill, skill.Proficiency)
	}
	return nil
}
