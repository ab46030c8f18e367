// ABOUTME: Tests for the assignment engine: selection, capacity, queueing
// ABOUTME: Runs against a real SQLite store with a recording emitter

package assignment

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywise/supportd/internal/notify"
	"github.com/relaywise/supportd/internal/store"
)

// recordingEmitter captures emitted events for assertions
type recordingEmitter struct {
	mu          sync.Mutex
	assignments []notify.Kind
	queued      []string
}

func (r *recordingEmitter) EmitAssignment(_ context.Context, _ *store.Conversation, _ *store.Agent, kind notify.Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments = append(r.assignments, kind)
	return nil
}

func (r *recordingEmitter) EmitQueued(_ context.Context, conv *store.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = append(r.queued, conv.ID)
	return nil
}

var _ notify.Emitter = (*recordingEmitter)(nil)

func defaultLimits() Limits {
	return Limits{
		MaxConversationsPerAgent: 5,
		HighPriorityLimit:        3,
		WaitingPickupBatch:       3,
	}
}

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore, *recordingEmitter) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "supportd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	emitter := &recordingEmitter{}
	return NewEngine(s, emitter, nil, defaultLimits(), nil), s, emitter
}

func createAgent(t *testing.T, s *store.SQLiteStore, name string, skills ...store.Skill) *store.Agent {
	t.Helper()
	now := time.Now()
	agent := &store.Agent{
		ID:            uuid.New().String(),
		Name:          name,
		Email:         name + "@example.com",
		Availability:  store.AvailabilityOnline,
		LastHeartbeat: now,
		Skills:        skills,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.CreateAgent(t.Context(), agent))
	return agent
}

func createConversation(t *testing.T, s *store.SQLiteStore, language, domain string) *store.Conversation {
	t.Helper()
	now := time.Now()
	conv := &store.Conversation{
		ID:                uuid.New().String(),
		CustomerID:        "cust-" + uuid.New().String()[:8],
		Status:            store.StatusWaiting,
		PreferredLanguage: language,
		PreferredDomain:   domain,
		Priority:          store.PriorityNormal,
		LastActivityAt:    now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.CreateConversation(t.Context(), conv))
	return conv
}

// fillAgent attaches n fresh active conversations directly through the store
func fillAgent(t *testing.T, s *store.SQLiteStore, agent *store.Agent, n int, priority string) {
	t.Helper()
	for i := range n {
		conv := createConversation(t, s, "", "")
		conv.Priority = priority
		require.NoError(t, s.MarkConversationWaiting(t.Context(), conv.ID, priority))
		require.NoError(t, s.AssignConversation(t.Context(), store.AssignParams{
			ConversationID:   conv.ID,
			AgentID:          agent.ID,
			MaxConversations: 100,
			At:               time.Now(),
		}), "filling conversation %d", i)
	}
}

func langSkill(code string, proficiency int) store.Skill {
	return store.Skill{Type: store.SkillTypeLanguage, Code: code, Proficiency: proficiency}
}

func domainSkill(code string, proficiency int) store.Skill {
	return store.Skill{Type: store.SkillTypeDomain, Code: code, Proficiency: proficiency}
}

func TestAutoAssign_PicksHighestScore(t *testing.T) {
	engine, s, emitter := newTestEngine(t)
	ctx := t.Context()

	createAgent(t, s, "junior", langSkill("EN", 2), domainSkill("BILLING", 2))
	senior := createAgent(t, s, "senior", langSkill("EN", 5), domainSkill("BILLING", 4))

	conv := createConversation(t, s, "EN", "BILLING")
	got, err := engine.AutoAssign(ctx, conv, store.PriorityNormal)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, senior.ID, got.ID)

	stored, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, stored.Status)
	assert.Equal(t, senior.ID, stored.AgentID)
	// 5*20 language, 4*15 domain
	assert.Equal(t, 100, stored.LanguageMatchScore)
	assert.Equal(t, 60, stored.DomainMatchScore)

	assert.Equal(t, []notify.Kind{notify.KindFirstAssignment}, emitter.assignments)
}

func TestAutoAssign_StrictDualSkill(t *testing.T) {
	engine, s, emitter := newTestEngine(t)
	ctx := t.Context()

	// Covers the language but not the domain, so it must not be picked
	createAgent(t, s, "lang-only", langSkill("EN", 5))

	conv := createConversation(t, s, "EN", "BILLING")
	got, err := engine.AutoAssign(ctx, conv, store.PriorityNormal)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusWaiting, stored.Status)
	assert.Empty(t, stored.AgentID)
	assert.Equal(t, []string{conv.ID}, emitter.queued)
}

func TestAutoAssign_SingleSkillRequirement(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	agent := createAgent(t, s, "es-agent", langSkill("ES", 3))

	conv := createConversation(t, s, "ES", "")
	got, err := engine.AutoAssign(ctx, conv, store.PriorityNormal)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, agent.ID, got.ID)

	stored, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, stored.LanguageMatchScore)
	assert.Zero(t, stored.DomainMatchScore)
}

func TestAutoAssign_NoPreferenceAnyAgentEligible(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	agent := createAgent(t, s, "generalist")

	conv := createConversation(t, s, "", "")
	got, err := engine.AutoAssign(ctx, conv, store.PriorityNormal)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, agent.ID, got.ID)
}

func TestAutoAssign_TieBrokenByLoad(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	busy := createAgent(t, s, "busy", langSkill("EN", 4))
	idle := createAgent(t, s, "idle", langSkill("EN", 4))
	fillAgent(t, s, busy, 2, store.PriorityNormal)

	conv := createConversation(t, s, "EN", "")
	got, err := engine.AutoAssign(ctx, conv, store.PriorityNormal)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, idle.ID, got.ID)
}

func TestAutoAssign_SkipsAgentAtCapacity(t *testing.T) {
	engine, s, emitter := newTestEngine(t)
	ctx := t.Context()

	full := createAgent(t, s, "full", langSkill("EN", 5))
	fillAgent(t, s, full, 5, store.PriorityNormal)

	conv := createConversation(t, s, "EN", "")
	got, err := engine.AutoAssign(ctx, conv, store.PriorityNormal)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, []string{conv.ID}, emitter.queued)
}

func TestAutoAssign_HighPrioritySubLimit(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	agent := createAgent(t, s, "escalations", langSkill("EN", 5))
	fillAgent(t, s, agent, 3, store.PriorityHigh)

	// A fourth high-priority conversation must queue despite free capacity
	high := createConversation(t, s, "EN", "")
	got, err := engine.AutoAssign(ctx, high, store.PriorityHigh)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := s.GetConversation(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusWaiting, stored.Status)
	assert.Equal(t, store.PriorityHigh, stored.Priority)

	// Normal priority still fits on the same agent
	normal := createConversation(t, s, "EN", "")
	gotNormal, err := engine.AutoAssign(ctx, normal, store.PriorityNormal)
	require.NoError(t, err)
	require.NotNil(t, gotNormal)
	assert.Equal(t, agent.ID, gotNormal.ID)
}

func TestAutoAssign_IgnoresOfflineAgents(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	offline := createAgent(t, s, "gone", langSkill("EN", 5))
	require.NoError(t, s.UpdateAgentAvailability(ctx, offline.ID, store.AvailabilityOffline))

	conv := createConversation(t, s, "EN", "")
	got, err := engine.AutoAssign(ctx, conv, store.PriorityNormal)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAutoAssign_AlreadyAssignedIsNoop(t *testing.T) {
	engine, s, emitter := newTestEngine(t)
	ctx := t.Context()

	agent := createAgent(t, s, "holder")
	conv := createConversation(t, s, "", "")
	require.NoError(t, s.AssignConversation(ctx, store.AssignParams{
		ConversationID:   conv.ID,
		AgentID:          agent.ID,
		MaxConversations: 5,
		At:               time.Now(),
	}))

	loaded, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)

	got, err := engine.AutoAssign(ctx, loaded, store.PriorityNormal)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, emitter.assignments)
	assert.Empty(t, emitter.queued)
}

func TestAutoAssign_ConcurrentLastSlot(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	// One free slot left on the only eligible agent
	agent := createAgent(t, s, "last-slot", langSkill("EN", 5))
	fillAgent(t, s, agent, 4, store.PriorityNormal)

	convA := createConversation(t, s, "EN", "")
	convB := createConversation(t, s, "EN", "")

	var wg sync.WaitGroup
	results := make([]*store.Agent, 2)
	errs := make([]error, 2)
	for i, conv := range []*store.Conversation{convA, convB} {
		wg.Go(func() {
			results[i], errs[i] = engine.AutoAssign(ctx, conv, store.PriorityNormal)
		})
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assigned := 0
	for _, res := range results {
		if res != nil {
			assigned++
		}
	}
	assert.Equal(t, 1, assigned, "exactly one conversation may take the last slot")

	load, err := s.CountAssignedConversations(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, load)
}

func TestAutoAssign_ConcurrentHighPriorityLastSlot(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	// One high-priority slot left, plenty of plain capacity
	agent := createAgent(t, s, "hp-slot", langSkill("EN", 5))
	fillAgent(t, s, agent, 2, store.PriorityHigh)

	convA := createConversation(t, s, "EN", "")
	convB := createConversation(t, s, "EN", "")
	require.NoError(t, s.MarkConversationWaiting(ctx, convA.ID, store.PriorityHigh))
	require.NoError(t, s.MarkConversationWaiting(ctx, convB.ID, store.PriorityHigh))

	var wg sync.WaitGroup
	results := make([]*store.Agent, 2)
	errs := make([]error, 2)
	for i, conv := range []*store.Conversation{convA, convB} {
		wg.Go(func() {
			results[i], errs[i] = engine.AutoAssign(ctx, conv, store.PriorityHigh)
		})
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assigned := 0
	for _, res := range results {
		if res != nil {
			assigned++
		}
	}
	assert.Equal(t, 1, assigned, "exactly one conversation may take the last high-priority slot")

	highCount, err := s.CountHighPriorityConversations(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, highCount)
}

func TestAutoAssign_ClosedConversationNotResurrected(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	createAgent(t, s, "available", langSkill("EN", 5))
	conv := createConversation(t, s, "EN", "")

	// Closed after our copy was read
	require.NoError(t, s.CloseConversation(ctx, conv.ID))

	got, err := engine.AutoAssign(ctx, conv, store.PriorityNormal)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, stored.Status)
	assert.Empty(t, stored.AgentID)
}

func TestAutoAssign_ClosedConversationNotRequeued(t *testing.T) {
	engine, s, emitter := newTestEngine(t)
	ctx := t.Context()

	// No agents at all, so the queue fallback is the only path left
	conv := createConversation(t, s, "EN", "")
	require.NoError(t, s.CloseConversation(ctx, conv.ID))

	got, err := engine.AutoAssign(ctx, conv, store.PriorityNormal)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, stored.Status)
	assert.Empty(t, emitter.queued, "no queue notification for a closed conversation")
}

func TestProcessWaitingForAgent_DrainsOldestFirst(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := range 4 {
		conv := &store.Conversation{
			ID:                uuid.New().String(),
			CustomerID:        fmt.Sprintf("cust-%d", i),
			Status:            store.StatusWaiting,
			PreferredLanguage: "EN",
			Priority:          store.PriorityNormal,
			LastActivityAt:    base.Add(time.Duration(i) * time.Minute),
			CreatedAt:         base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:         base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateConversation(ctx, conv))
		ids = append(ids, conv.ID)
	}

	agent := createAgent(t, s, "fresh-online", langSkill("EN", 4))
	assigned, err := engine.ProcessWaitingForAgent(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, 3, assigned, "batch size caps the pickup")

	// The three oldest went to the agent, the newest stayed queued
	for _, id := range ids[:3] {
		conv, err := s.GetConversation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, agent.ID, conv.AgentID)
	}
	newest, err := s.GetConversation(ctx, ids[3])
	require.NoError(t, err)
	assert.Equal(t, store.StatusWaiting, newest.Status)
}

func TestProcessWaitingForAgent_SkipsIneligible(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	mismatch := createConversation(t, s, "FR", "")
	match := createConversation(t, s, "EN", "")

	agent := createAgent(t, s, "english-only", langSkill("EN", 3))
	assigned, err := engine.ProcessWaitingForAgent(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, 1, assigned)

	got, err := s.GetConversation(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.AgentID)

	skipped, err := s.GetConversation(ctx, mismatch.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusWaiting, skipped.Status)
}

func TestProcessWaitingForAgent_StopsAtCapacity(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	for range 3 {
		createConversation(t, s, "EN", "")
	}

	agent := createAgent(t, s, "nearly-full", langSkill("EN", 3))
	fillAgent(t, s, agent, 4, store.PriorityNormal)

	assigned, err := engine.ProcessWaitingForAgent(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, 1, assigned, "only one free slot")
}

func TestAutoAssign_SystemMessages(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	agent := createAgent(t, s, "maria", langSkill("EN", 5))
	conv := createConversation(t, s, "EN", "")

	got, err := engine.AutoAssign(ctx, conv, store.PriorityNormal)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, agent.ID, got.ID)

	msgs, err := s.ListSystemMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.SystemMessageAssigned, msgs[0].Kind)
	assert.Contains(t, msgs[0].Body, "maria")
}

func TestAutoAssign_QueuedSystemMessage(t *testing.T) {
	engine, s, _ := newTestEngine(t)
	ctx := t.Context()

	conv := createConversation(t, s, "EN", "")
	_, err := engine.AutoAssign(ctx, conv, store.PriorityNormal)
	require.NoError(t, err)

	msgs, err := s.ListSystemMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.SystemMessageQueued, msgs[0].Kind)
}
