// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent/skill persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single connection so the PRAGMAs below apply everywhere and
	// concurrent write transactions queue instead of returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			email          TEXT NOT NULL UNIQUE,
			availability   TEXT NOT NULL DEFAULT 'offline',
			last_heartbeat TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,

			CHECK (availability IN ('online', 'busy', 'offline'))
		);

		CREATE INDEX IF NOT EXISTS idx_agents_availability ON agents(availability);
		CREATE INDEX IF NOT EXISTS idx_agents_heartbeat ON agents(last_heartbeat);

		CREATE TABLE IF NOT EXISTS agent_skills (
			agent_id    TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			type        TEXT NOT NULL,
			code        TEXT NOT NULL,
			proficiency INTEGER NOT NULL,
			position    INTEGER NOT NULL,

			PRIMARY KEY (agent_id, type, code),
			CHECK (type IN ('language', 'domain')),
			CHECK (proficiency BETWEEN 1 AND 5)
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id                   TEXT PRIMARY KEY,
			customer_id          TEXT NOT NULL,
			agent_id             TEXT,
			status               TEXT NOT NULL DEFAULT 'waiting',
			preferred_language   TEXT,
			preferred_domain     TEXT,
			priority             TEXT NOT NULL DEFAULT 'normal',
			language_match_score INTEGER NOT NULL DEFAULT 0,
			domain_match_score   INTEGER NOT NULL DEFAULT 0,
			transfer_count       INTEGER NOT NULL DEFAULT 0,
			is_transferred       INTEGER NOT NULL DEFAULT 0,
			last_transferred_at  TEXT,
			last_activity_at     TEXT NOT NULL,
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL,

			CHECK (status IN ('waiting', 'active', 'closed')),
			CHECK (priority IN ('normal', 'high')),
			CHECK (status != 'active' OR agent_id IS NOT NULL),
			CHECK (status != 'waiting' OR agent_id IS NULL)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_agent_status ON conversations(agent_id, status);
		CREATE INDEX IF NOT EXISTS idx_conversations_waiting ON conversations(status, created_at);

		CREATE TABLE IF NOT EXISTS system_messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			kind            TEXT NOT NULL,
			body            TEXT NOT NULL,
			created_at      TEXT NOT NULL,

			CHECK (kind IN ('assigned', 'queued', 'transferred', 'agent_offline'))
		);

		CREATE INDEX IF NOT EXISTS idx_system_messages_conversation
			ON system_messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateAgent creates a new agent with its skills.
// Returns ErrDuplicateAgent if an agent with the same email already exists.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (id, name, email, availability, last_heartbeat, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		agent.ID,
		agent.Name,
		agent.Email,
		agent.Availability,
		agent.LastHeartbeat.UTC().Format(time.RFC3339),
		agent.CreatedAt.UTC().Format(time.RFC3339),
		agent.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAgent
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	for i, skill := range agent.Skills {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_skills (agent_id, type, code, proficiency, position)
			VALUES (?, ?, ?, ?, ?)
		`, agent.ID, skill.Type, skill.Code, skill.Proficiency, i); err != nil {
			return fmt.Errorf("inserting agent skill: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing agent: %w", err)
	}

	s.logger.Debug("created agent", "id", agent.ID, "email", agent.Email, "skills", len(agent.Skills))
	return nil
}

// GetAgent retrieves an agent by ID with its skill set loaded.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, availability, last_heartbeat, created_at, updated_at
		FROM agents
		WHERE id = ?
	`, id)

	agent, err := scanAgent(row)
	if err != nil {
		return nil, err
	}

	agent.Skills, err = s.loadSkills(ctx, agent.ID)
	if err != nil {
		return nil, err
	}

	return agent, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var agent Agent
	var heartbeatStr, createdAtStr, updatedAtStr string

	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.Email,
		&agent.Availability,
		&heartbeatStr,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	agent.LastHeartbeat, err = time.Parse(time.RFC3339, heartbeatStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_heartbeat: %w", err)
	}
	agent.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	agent.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &agent, nil
}

// loadSkills returns an agent's skills in their stored order
func (s *SQLiteStore) loadSkills(ctx context.Context, agentID string) ([]Skill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, code, proficiency
		FROM agent_skills
		WHERE agent_id = ?
		ORDER BY position
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying agent skills: %w", err)
	}
	defer rows.Close()

	var skills []Skill
	for rows.Next() {
		var skill Skill
		if err := rows.Scan(&skill.Type, &skill.Code, &skill.Proficiency); err != nil {
			return nil, fmt.Errorf("scanning skill row: %w", err)
		}
		skills = append(skills, skill)
	}
	return skills, rows.Err()
}

// ListOnlineAgents returns all agents with availability = online, skills loaded.
func (s *SQLiteStore) ListOnlineAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, availability, last_heartbeat, created_at, updated_at
		FROM agents
		WHERE availability = ?
		ORDER BY id
	`, AvailabilityOnline)
	if err != nil {
		return nil, fmt.Errorf("querying online agents: %w", err)
	}
	defer rows.Close()

	agents, err := collectAgents(rows)
	if err != nil {
		return nil, err
	}

	for _, agent := range agents {
		agent.Skills, err = s.loadSkills(ctx, agent.ID)
		if err != nil {
			return nil, err
		}
	}
	return agents, nil
}

// ListAgentsHeartbeatBefore returns non-offline agents whose last heartbeat
// is older than the cutoff. Used by the presence sweep.
func (s *SQLiteStore) ListAgentsHeartbeatBefore(ctx context.Context, cutoff time.Time) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, availability, last_heartbeat, created_at, updated_at
		FROM agents
		WHERE availability != ? AND last_heartbeat < ?
		ORDER BY last_heartbeat
	`, AvailabilityOffline, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying stale agents: %w", err)
	}
	defer rows.Close()

	return collectAgents(rows)
}

func collectAgents(rows *sql.Rows) ([]*Agent, error) {
	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// UpdateAgentAvailability sets an agent's availability.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) UpdateAgentAvailability(ctx context.Context, id, availability string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET availability = ?, updated_at = ?
		WHERE id = ?
	`, availability, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating agent availability: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated agent availability", "id", id, "availability", availability)
	return nil
}

// TouchAgentHeartbeat records a heartbeat timestamp for an agent.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) TouchAgentHeartbeat(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET last_heartbeat = ?, updated_at = ?
		WHERE id = ?
	`, at.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
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

// AddAgentSkill appends a skill to an agent's skill set.
// The skill is placed after any existing skills.
func (s *SQLiteStore) AddAgentSkill(ctx context.Context, agentID string, skill Skill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_skills (agent_id, type, code, proficiency, position)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM agent_skills WHERE agent_id = ?))
	`, agentID, skill.Type, skill.Code, skill.Proficiency, agentID)
	if err != nil {
		return fmt.Errorf("adding agent skill: %w", err)
	}

	s.logger.Debug("added agent skill", "agent_id", agentID, "type", skill.Type, "code", skill.Code)
	return nil
}

// RemoveAgentSkill removes a skill from an agent's skill set.
// Returns ErrNotFound if the agent doesn't have the skill.
func (s *SQLiteStore) RemoveAgentSkill(ctx context.Context, agentID, skillType, code string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM agent_skills WHERE agent_id = ? AND type = ? AND code = ?
	`, agentID, skillType, code)
	if err != nil {
		return fmt.Errorf("removing agent skill: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("removed agent skill", "agent_id", agentID, "type", skillType, "code", code)
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
