package sso

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

var errExpireFailed = errors.New("session table unavailable")

type fakeSessions struct {
	mu        sync.Mutex
	live      map[string]bool
	failOn    map[string]bool
	panicOn   map[string]bool
	expired   []string
	onExpired func(sessionID string)
}

func newFakeSessions(ids ...string) *fakeSessions {
	f := &fakeSessions{
		live:    make(map[string]bool),
		failOn:  make(map[string]bool),
		panicOn: make(map[string]bool),
	}
	for _, id := range ids {
		f.live[id] = true
	}
	return f
}

func (f *fakeSessions) ExpireNow(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn[sessionID] {
		panic("session table corrupted")
	}
	if f.failOn[sessionID] {
		return errExpireFailed
	}
	delete(f.live, sessionID)
	f.expired = append(f.expired, sessionID)
	return nil
}

func (f *fakeSessions) IsExpired(_ context.Context, sessionID string) bool {
	f.mu.Lock()
	expired := !f.live[sessionID]
	hook := f.onExpired
	f.mu.Unlock()

	if expired && hook != nil {
		hook(sessionID)
	}
	return expired
}

func (f *fakeSessions) setLive(sessionID string, live bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[sessionID] = live
}

type sentNotification struct {
	sessionID string
	username  string
}

type fakeNotifier struct {
	mu         sync.Mutex
	sent       []sentNotification
	broadcasts []string
}

func (f *fakeNotifier) SendTo(sessionID, username, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{sessionID, username})
}

func (f *fakeNotifier) Broadcast(username, reason string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, username+": "+reason)
	return 1
}

func (f *fakeNotifier) notifiedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.sessionID)
	}
	return out
}

type fakeRevoker struct {
	mu          sync.Mutex
	revokeOK    bool
	directOK    bool
	revoked     []string
	directCalls []string
}

func (f *fakeRevoker) Revoke(_ context.Context, token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	return f.revokeOK
}

func (f *fakeRevoker) RevokeDirect(_ context.Context, token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directCalls = append(f.directCalls, token)
	return f.directOK
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.DebugLevel, &bytes.Buffer{})
}
