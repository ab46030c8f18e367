// ABOUTME: JSON HTTP API over the directory service and assignment engine
// ABOUTME: Method-pattern ServeMux routes, snake_case payloads, sentinel-to-status mapping

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/relaywise/supportd/internal/assignment"
	"github.com/relaywise/supportd/internal/directory"
	"github.com/relaywise/supportd/internal/store"
)

// Store defines the conversation-side persistence the API needs
type Store interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	CloseConversation(ctx context.Context, id string) error
	ListSystemMessages(ctx context.Context, conversationID string, limit int) ([]*store.SystemMessage, error)
}

// API serves the agent and conversation endpoints
type API struct {
	directory *directory.Service
	engine    *assignment.Engine
	store     Store
	logger    *slog.Logger
}

func New(dir *directory.Service, engine *assignment.Engine, s Store, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		directory: dir,
		engine:    engine,
		store:     s,
		logger:    logger.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)

	mux.HandleFunc("POST /api/agents", a.handleRegisterAgent)
	mux.HandleFunc("GET /api/agents/{id}", a.handleGetAgent)
	mux.HandleFunc("POST /api/agents/{id}/heartbeat", a.handleHeartbeat)
	mux.HandleFunc("PUT /api/agents/{id}/availability", a.handleSetAvailability)
	mux.HandleFunc("POST /api/agents/{id}/skills", a.handleAddSkill)
	mux.HandleFunc("DELETE /api/agents/{id}/skills/{type}/{code}", a.handleRemoveSkill)

	mux.HandleFunc("POST /api/conversations", a.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations/{id}", a.handleGetConversation)
	mux.HandleFunc("POST /api/conversations/{id}/close", a.handleCloseConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", a.handleListMessages)

	a.logger.Info("api routes registered")
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type skillPayload struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Proficiency int    `json:"proficiency"`
}

type agentPayload struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Email         string         `json:"email"`
	Availability  string         `json:"availability"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	Skills        []skillPayload `json:"skills"`
	CreatedAt     time.Time      `json:"created_at"`
}

func agentToPayload(agent *store.Agent) agentPayload {
	skills := make([]skillPayload, len(agent.Skills))
	for i, s := range agent.Skills {
		skills[i] = skillPayload{Type: s.Type, Code: s.Code, Proficiency: s.Proficiency}
	}
	return agentPayload{
		ID:            agent.ID,
		Name:          agent.Name,
		Email:         agent.Email,
		Availability:  agent.Availability,
		LastHeartbeat: agent.LastHeartbeat,
		Skills:        skills,
		CreatedAt:     agent.CreatedAt,
	}
}

func (a *API) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string         `json:"name"`
		Email  string         `json:"email"`
		Skills []skillPayload `json:"skills"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	skills := make([]store.Skill, len(req.Skills))
	for i, s := range req.Skills {
		skills[i] = store.Skill{Type: s.Type, Code: s.Code, Proficiency: s.Proficiency}
	}

	agent, err := a.directory.Register(r.Context(), directory.RegisterParams{
		Name:   req.Name,
		Email:  req.Email,
		Skills: skills,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agentToPayload(agent))
}

func (a *API) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := a.directory.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentToPayload(agent))
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := a.directory.Heartbeat(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Availability string `json:"availability"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.directory.SetAvailability(r.Context(), r.PathValue("id"), req.Availability); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddSkill(w http.ResponseWriter, r *http.Request) {
	var req skillPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := a.directory.AddSkill(r.Context(), r.PathValue("id"), store.Skill{
		Type:        req.Type,
		Code:        req.Code,
		Proficiency: req.Proficiency,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRemoveSkill(w http.ResponseWriter, r *http.Request) {
	err := a.directory.RemoveSkill(r.Context(), r.PathValue("id"), r.PathValue("type"), r.PathValue("code"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type conversationPayload struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	AgentID            string     `json:"agent_id,omitempty"`
	Status             string     `json:"status"`
	PreferredLanguage  string     `json:"preferred_language,omitempty"`
	PreferredDomain    string     `json:"preferred_domain,omitempty"`
	Priority           string     `json:"priority"`
	LanguageMatchScore int        `json:"language_match_score"`
	DomainMatchScore   int        `json:"domain_match_score"`
	TransferCount      int        `json:"transfer_count"`
	IsTransferred      bool       `json:"is_transferred"`
	LastTransferredAt  *time.Time `json:"last_transferred_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func conversationToPayload(conv *store.Conversation) conversationPayload {
	return conversationPayload{
		ID:                 conv.ID,
		CustomerID:         conv.CustomerID,
		AgentID:            conv.AgentID,
		Status:             conv.Status,
		PreferredLanguage:  conv.PreferredLanguage,
		PreferredDomain:    conv.PreferredDomain,
		Priority:           conv.Priority,
		LanguageMatchScore: conv.LanguageMatchScore,
		DomainMatchScore:   conv.DomainMatchScore,
		TransferCount:      conv.TransferCount,
		IsTransferred:      conv.IsTransferred,
		LastTransferredAt:  conv.LastTransferredAt,
		CreatedAt:          conv.CreatedAt,
	}
}

// handleCreateConversation creates the conversation and immediately runs
// it through assignment. The response reflects the outcome: active with
// an agent, or waiting in the queue.
func (a *API) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID        string `json:"customer_id"`
		PreferredLanguage string `json:"preferred_language"`
		PreferredDomain   string `json:"preferred_domain"`
		Priority          string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}
	switch req.Priority {
	case "", store.PriorityNormal, store.PriorityHigh:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown priority %q", req.Priority))
		return
	}

	now := time.Now()
	conv := &store.Conversation{
		ID:                uuid.New().String(),
		CustomerID:        req.CustomerID,
		Status:            store.StatusWaiting,
		PreferredLanguage: req.PreferredLanguage,
		PreferredDomain:   req.PreferredDomain,
		Priority:          req.Priority,
		LastActivityAt:    now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := a.store.CreateConversation(r.Context(), conv); err != nil {
		a.writeServiceError(w, err)
		return
	}

	if _, err := a.engine.AutoAssign(r.Context(), conv, req.Priority); err != nil {
		// The conversation exists and is queued; report it rather than fail
		a.logger.Error("assignment failed for new conversation",
			"conversation_id", conv.ID,
			"error", err)
	}

	stored, err := a.store.GetConversation(r.Context(), conv.ID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversationToPayload(stored))
}

func (a *API) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := a.store.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationToPayload(conv))
}

func (a *API) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	if err := a.store.CloseConversation(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messagePayload struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.store.GetConversation(r.Context(), id); err != nil {
		a.writeServiceError(w, err)
		return
	}

	msgs, err := a.store.ListSystemMessages(r.Context(), id, 100)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	payload := make([]messagePayload, len(msgs))
	for i, m := range msgs {
		payload[i] = messagePayload{ID: m.ID, Kind: m.Kind, Body: m.Body, CreatedAt: m.CreatedAt}
	}
	writeJSON(w, http.StatusOK, payload)
}

// writeServiceError maps sentinel errors onto HTTP statuses
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicateAgent):
		writeError(w, http.StatusConflict, "agent already exists")
	case errors.Is(err, directory.ErrInvalidAgent),
		errors.Is(err, directory.ErrInvalidSkill),
		errors.Is(err, directory.ErrInvalidAvailability):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
