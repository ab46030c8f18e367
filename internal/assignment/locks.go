// ABOUTME: Per-agent keyed mutexes serializing the read-count-then-assign sequence
// ABOUTME: Prevents two in-process assignment attempts from racing the same agent

package assignment

import "sync"

// agentLocks hands out one mutex per agent ID. Lock entries are never
// reclaimed; the set of agents is small and long-lived.
type agentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAgentLocks() *agentLocks {
	return &agentLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for the given agent and returns its unlock func
func (l *agentLocks) acquire(agentID string) func() {
	l.mu.Lock()
	m, ok := l.locks[agentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[agentID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
