// Package store provides persistence for agents, skills, and conversations.
//
// The Store interface defines all database operations. SQLiteStore is the
// production implementation backed by modernc.org/sqlite with WAL mode.
//
// # Assignment atomicity
//
// AssignConversation is the only write path that attaches a conversation to
// an agent. It runs as a single transaction that re-verifies both the
// "conversation still unassigned" and "agent still under capacity" conditions
// before committing, returning ErrConversationAssigned or ErrAgentAtCapacity
// when a concurrent assignment got there first. Load counts are computed on
// demand and never cached.
//
// # Timestamps
//
// All timestamps are stored as RFC3339 UTC strings in TEXT columns.
package store
