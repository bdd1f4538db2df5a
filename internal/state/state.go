// Package state tracks the host daemon's readiness and drain status so the
// HTTP surface can report it and refuse new sessions while draining.
package state

import "sync/atomic"

// State holds the host status, draining flag and active session count. All
// fields are updated together so callers always observe a consistent
// snapshot.
type State struct {
	Status         string `json:"status"`
	Draining       bool   `json:"draining"`
	ActiveSessions int    `json:"active_sessions"`
}

// Store defines how the host state is persisted. Implementations may store
// state in memory or in an external service such as Redis.
type Store interface {
	Load() State
	Store(State)
}

// active is the currently configured Store. It defaults to an in-memory
// implementation but can be swapped for other strategies.
var active Store = NewMemoryStore()

// UseStore replaces the active Store. It is safe for concurrent use.
func UseStore(s Store) {
	if s != nil {
		active = s
	}
}

// memoryStore implements Store using an atomic.Value. It is the default
// strategy and is safe for concurrent use within a single process.
type memoryStore struct {
	v atomic.Value
}

// NewMemoryStore returns a memory-backed Store initialized to "not_ready".
func NewMemoryStore() *memoryStore {
	ms := &memoryStore{}
	ms.v.Store(State{Status: "not_ready"})
	return ms
}

func (m *memoryStore) Load() State {
	if st, ok := m.v.Load().(State); ok {
		return st
	}
	return State{Status: "unknown"}
}

func (m *memoryStore) Store(s State) {
	m.v.Store(s)
}

// SetStatus updates the host status string.
func SetStatus(status string) {
	st := active.Load()
	st.Status = status
	active.Store(st)
}

// GetStatus returns the current host status.
func GetStatus() string {
	return active.Load().Status
}

// Snapshot returns the full current state.
func Snapshot() State {
	return active.Load()
}

// SessionStarted bumps the active session count.
func SessionStarted() {
	st := active.Load()
	st.ActiveSessions++
	active.Store(st)
}

// SessionEnded decrements the active session count, never below zero.
func SessionEnded() {
	st := active.Load()
	if st.ActiveSessions > 0 {
		st.ActiveSessions--
	}
	active.Store(st)
}

// StartDrain marks the host as draining. New sessions are refused while
// existing ones run to completion.
func StartDrain() {
	st := active.Load()
	st.Draining = true
	st.Status = "draining"
	active.Store(st)
}

// IsDraining reports whether the host is draining.
func IsDraining() bool {
	return active.Load().Draining
}
