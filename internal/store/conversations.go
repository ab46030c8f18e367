// ABOUTME: Conversation persistence including the transactional assignment update
// ABOUTME: Assignment re-checks capacity inside the transaction to prevent over-commit

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const conversationColumns = `id, customer_id, agent_id, status, preferred_language,
	preferred_domain, priority, language_match_score, domain_match_score,
	transfer_count, is_transferred, last_transferred_at, last_activity_at,
	created_at, updated_at`

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateConversation creates a new conversation.
// A conversation starts unassigned; Status and Priority default to
// waiting/normal when left empty.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	status := conv.Status
	if status == "" {
		status = StatusWaiting
	}
	priority := conv.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.CustomerID,
		nullString(conv.AgentID),
		status,
		nullString(conv.PreferredLanguage),
		nullString(conv.PreferredDomain),
		priority,
		conv.LanguageMatchScore,
		conv.DomainMatchScore,
		conv.TransferCount,
		conv.IsTransferred,
		nullTime(conv.LastTransferredAt),
		conv.LastActivityAt.UTC().Format(time.RFC3339),
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"customer_id", conv.CustomerID,
		"language", conv.PreferredLanguage,
		"domain", conv.PreferredDomain)
	return nil
}

// nullTime returns nil for nil times, otherwise the RFC3339 string
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ?
	`, id)
	return scanConversation(row)
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var agentID, preferredLanguage, preferredDomain, lastTransferredAt sql.NullString
	var lastActivityStr, createdAtStr, updatedAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.CustomerID,
		&agentID,
		&conv.Status,
		&preferredLanguage,
		&preferredDomain,
		&conv.Priority,
		&conv.LanguageMatchScore,
		&conv.DomainMatchScore,
		&conv.TransferCount,
		&conv.IsTransferred,
		&lastTransferredAt,
		&lastActivityStr,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.AgentID = agentID.String
	conv.PreferredLanguage = preferredLanguage.String
	conv.PreferredDomain = preferredDomain.String

	if lastTransferredAt.Valid {
		t, err := time.Parse(time.RFC3339, lastTransferredAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_transferred_at: %w", err)
		}
		conv.LastTransferredAt = &t
	}

	conv.LastActivityAt, err = time.Parse(time.RFC3339, lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}
	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// AssignConversation atomically assigns a conversation to an agent.
//
// The whole read-count-then-write sequence runs in one transaction:
// the conversation must still be open (ErrConversationClosed otherwise)
// and unassigned (ErrConversationAssigned otherwise), and the agent's
// assigned-conversation count must still be below params.MaxConversations
// (ErrAgentAtCapacity otherwise). Closed is terminal, so callers should
// give up on ErrConversationClosed; the other two are retryable.
func (s *SQLiteStore) AssignConversation(ctx context.Context, params AssignParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var currentAgent sql.NullString
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT agent_id, status FROM conversations WHERE id = ?
	`, params.ConversationID).Scan(&currentAgent, &status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	if status == StatusClosed {
		return ErrConversationClosed
	}
	if currentAgent.Valid && currentAgent.String != "" {
		return ErrConversationAssigned
	}

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations
		WHERE agent_id = ? AND status IN (?, ?)
	`, params.AgentID, StatusActive, StatusWaiting).Scan(&count)
	if err != nil {
		return fmt.Errorf("counting agent conversations: %w", err)
	}
	if count >= params.MaxConversations {
		return ErrAgentAtCapacity
	}

	now := params.At.UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET agent_id = ?, status = ?, language_match_score = ?, domain_match_score = ?,
		    last_activity_at = ?, updated_at = ?
		WHERE id = ?
	`,
		params.AgentID,
		StatusActive,
		params.LanguageMatchScore,
		params.DomainMatchScore,
		now,
		now,
		params.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing assignment: %w", err)
	}

	s.logger.Debug("assigned conversation",
		"conversation_id", params.ConversationID,
		"agent_id", params.AgentID,
		"language_score", params.LanguageMatchScore,
		"domain_score", params.DomainMatchScore)
	return nil
}

// MarkConversationWaiting puts an unassigned conversation into the waiting
// queue and stamps its priority. Closed conversations stay closed
// (ErrConversationClosed).
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) MarkConversationWaiting(ctx context.Context, id, priority string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET agent_id = NULL, status = ?, priority = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`, StatusWaiting, priority, now, id, StatusClosed)
	if err != nil {
		return fmt.Errorf("marking conversation waiting: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `
			SELECT status FROM conversations WHERE id = ?
		`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking conversation: %w", err)
		}
		return ErrConversationClosed
	}

	s.logger.Debug("marked conversation waiting", "id", id, "priority", priority)
	return nil
}

// ReleaseConversation detaches a conversation from its agent after the agent
// went offline: back to waiting, transfer_count incremented, transfer marked.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) ReleaseConversation(ctx context.Context, id string, at time.Time) error {
	now := at.UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET agent_id = NULL, status = ?, transfer_count = transfer_count + 1,
		    is_transferred = 1, last_transferred_at = ?, last_activity_at = ?, updated_at = ?
		WHERE id = ?
	`, StatusWaiting, now, now, now, id)
	if err != nil {
		return fmt.Errorf("releasing conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("released conversation", "id", id)
	return nil
}

// CloseConversation marks a conversation closed. Terminal - closed
// conversations never re-enter the assignment pipeline.
func (s *SQLiteStore) CloseConversation(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = ?, last_activity_at = ?, updated_at = ?
		WHERE id = ?
	`, StatusClosed, now, now, id)
	if err != nil {
		return fmt.Errorf("closing conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveConversationsByAgent returns the conversations an agent is
// actively handling, oldest first.
func (s *SQLiteStore) ListActiveConversationsByAgent(ctx context.Context, agentID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE agent_id = ? AND status = ?
		ORDER BY created_at
	`, agentID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("querying active conversations: %w", err)
	}
	defer rows.Close()

	return collectConversations(rows)
}

// ListWaitingConversations returns unassigned waiting conversations in FIFO
// order by creation time. If limit is 0 or negative, a default of 100 is used.
func (s *SQLiteStore) ListWaitingConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE status = ? AND agent_id IS NULL
		ORDER BY created_at
		LIMIT ?
	`, StatusWaiting, limit)
	if err != nil {
		return nil, fmt.Errorf("querying waiting conversations: %w", err)
	}
	defer rows.Close()

	return collectConversations(rows)
}

func collectConversations(rows *sql.Rows) ([]*Conversation, error) {
	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// CountAssignedConversations returns the agent's live count of active and
// waiting conversations. Computed on demand, never cached.
func (s *SQLiteStore) CountAssignedConversations(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations
		WHERE agent_id = ? AND status IN (?, ?)
	`, agentID, StatusActive, StatusWaiting).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting assigned conversations: %w", err)
	}
	return count, nil
}

// CountHighPriorityConversations returns the agent's live count of active
// high-priority conversations.
func (s *SQLiteStore) CountHighPriorityConversations(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations
		WHERE agent_id = ? AND status = ? AND priority = ?
	`, agentID, StatusActive, PriorityHigh).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting high-priority conversations: %w", err)
	}
	return count, nil
}

// SaveSystemMessage records a system message on a conversation
func (s *SQLiteStore) SaveSystemMessage(ctx context.Context, msg *SystemMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_messages (id, conversation_id, kind, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.Kind,
		msg.Body,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting system message: %w", err)
	}

	s.logger.Debug("saved system message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"kind", msg.Kind)
	return nil
}

// ListSystemMessages returns a conversation's system messages in
// chronological order. If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) ListSystemMessages(ctx context.Context, conversationID string, limit int) ([]*SystemMessage, error) {
	query := `
		SELECT id, conversation_id, kind, body, created_at
		FROM system_messages
		WHERE conversation_id = ?
		ORDER BY created_at
	`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying system messages: %w", err)
	}
	defer rows.Close()

	var messages []*SystemMessage
	for rows.Next() {
		var msg SystemMessage
		var createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Kind, &msg.Body, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning system message row: %w", err)
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating system message rows: %w", err)
	}
	return messages, nil
}
