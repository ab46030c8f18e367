// Package assignment routes conversations to agents.
//
// Engine.AutoAssign is the single entry point for assigning a conversation.
// It filters online agents by skill match against the conversation's
// language and domain requirements, drops anyone at capacity, ranks the
// rest by weighted proficiency score with ties broken by lowest current
// load, and commits the assignment transactionally. When no agent
// qualifies the conversation is queued, never rejected.
//
// A per-agent mutex serializes the read-counts-then-assign sequence, so
// two in-process attempts against the same agent cannot both observe the
// same free slot. The store's transactional capacity re-check catches
// anything the mutex cannot see. On a capacity conflict the engine retries
// selection once with fresh counts before queueing.
//
// Redistributor handles agents going offline: every active conversation
// they held is released back to the pool, marked transferred, and run
// through AutoAssign again at normal priority.
package assignment
