package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionTable is the in-process live-session table. Each principal may hold
// several sessions; once MaxPerPrincipal is reached a new login expires the
// least recently used session instead of being refused.
type SessionTable struct {
	mu          sync.RWMutex
	sessions    map[string]*SessionInformation
	byPrincipal map[string]map[string]struct{}

	maxPerPrincipal int
	now             func() time.Time
	newID           func() string
}

// NewSessionTable creates an empty table. maxPerPrincipal <= 0 disables the cap.
func NewSessionTable(maxPerPrincipal int) *SessionTable {
	return &SessionTable{
		sessions:        make(map[string]*SessionInformation),
		byPrincipal:     make(map[string]map[string]struct{}),
		maxPerPrincipal: maxPerPrincipal,
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

// Create starts a new session for principal
func (t *SessionTable) Create(_ context.Context, principal string) (SessionInformation, error) {
	if strings.TrimSpace(principal) == "" {
		return SessionInformation{}, ErrMissingPrincipal
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxPerPrincipal > 0 {
		t.expireOverflowLocked(principal)
	}

	now := t.now()
	info := &SessionInformation{
		SessionID:   t.newID(),
		Principal:   principal,
		CreatedAt:   now,
		LastRequest: now,
	}
	t.sessions[info.SessionID] = info

	ids, ok := t.byPrincipal[principal]
	if !ok {
		ids = make(map[string]struct{})
		t.byPrincipal[principal] = ids
	}
	ids[info.SessionID] = struct{}{}

	return *info, nil
}

// expireOverflowLocked expires the least recently used live sessions so the
// principal has room for one more.
func (t *SessionTable) expireOverflowLocked(principal string) {
	var live []*SessionInformation
	for id := range t.byPrincipal[principal] {
		if s := t.sessions[id]; !s.Expired {
			live = append(live, s)
		}
	}
	if len(live) < t.maxPerPrincipal {
		return
	}
	sort.Slice(live, func(i, j int) bool { return live[i].LastRequest.Before(live[j].LastRequest) })
	for _, s := range live[:len(live)-t.maxPerPrincipal+1] {
		s.Expired = true
	}
}

// Get returns a copy of the session record
func (t *SessionTable) Get(_ context.Context, sessionID string) (SessionInformation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return SessionInformation{}, false
	}
	return *s, true
}

// Touch records activity on a session
func (t *SessionTable) Touch(_ context.Context, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[sessionID]; ok {
		s.LastRequest = t.now()
	}
}

// AllPrincipals lists every principal holding at least one session record
func (t *SessionTable) AllPrincipals(_ context.Context) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.byPrincipal))
	for p := range t.byPrincipal {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// AllSessions returns the principal's sessions ordered by creation time
func (t *SessionTable) AllSessions(_ context.Context, principal string, includeExpired bool) ([]SessionInformation, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]SessionInformation, 0, len(t.byPrincipal[principal]))
	for id := range t.byPrincipal[principal] {
		s := t.sessions[id]
		if s.Expired && !includeExpired {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ExpireSession marks a session expired. The record stays until the owning
// client's next request invalidates it.
func (t *SessionTable) ExpireSession(_ context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Expired = true
	return nil
}

// Invalidate removes a session entirely. Missing sessions are ignored.
func (t *SessionTable) Invalidate(_ context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(t.sessions, sessionID)
	if ids := t.byPrincipal[s.Principal]; ids != nil {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(t.byPrincipal, s.Principal)
		}
	}
	return nil
}

// Len returns the number of session records, expired ones included
func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
