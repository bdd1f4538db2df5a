package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/surfacekit/uibridge/internal/bridge"
	"github.com/surfacekit/uibridge/internal/uires"
)

// tokenTTL bounds how long a minted session token stays claimable.
const tokenTTL = 60 * time.Second

type pendingSession struct {
	content uires.Content
	minted  time.Time
}

// Sessions tracks minted-but-unclaimed tokens and live sessions. Tokens are
// single use; claiming one consumes it.
type Sessions struct {
	mu      sync.Mutex
	pending map[string]pendingSession
	active  map[string]*bridge.Session
}

// NewSessions returns an empty registry.
func NewSessions() *Sessions {
	return &Sessions{
		pending: map[string]pendingSession{},
		active:  map[string]*bridge.Session{},
	}
}

// Mint issues a fresh token bound to the given mount content.
func (s *Sessions) Mint(content uires.Content) string {
	token := uuid.NewString()
	s.mu.Lock()
	now := time.Now()
	for t, p := range s.pending {
		if now.Sub(p.minted) > tokenTTL {
			delete(s.pending, t)
		}
	}
	s.pending[token] = pendingSession{content: content, minted: now}
	s.mu.Unlock()
	return token
}

// Claim consumes a token and returns the content it was minted for. A
// second claim, or a claim past the TTL, fails.
func (s *Sessions) Claim(token string) (uires.Content, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[token]
	if !ok {
		return uires.Content{}, false
	}
	delete(s.pending, token)
	if time.Since(p.minted) > tokenTTL {
		return uires.Content{}, false
	}
	return p.content, true
}

// Track records a mounted session.
func (s *Sessions) Track(sess *bridge.Session) {
	s.mu.Lock()
	s.active[sess.ID()] = sess
	s.mu.Unlock()
}

// Untrack forgets a session by id.
func (s *Sessions) Untrack(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Get returns a live session by id.
func (s *Sessions) Get(id string) (*bridge.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.active[id]
	return sess, ok
}

// Len reports the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// TeardownAll tears every live session down. Used on shutdown.
func (s *Sessions) TeardownAll(ctx context.Context) {
	s.mu.Lock()
	all := make([]*bridge.Session, 0, len(s.active))
	for _, sess := range s.active {
		all = append(all, sess)
	}
	s.active = map[string]*bridge.Session{}
	s.mu.Unlock()
	for _, sess := range all {
		sess.Teardown(ctx)
	}
}
