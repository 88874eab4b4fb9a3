package sso

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/revocation"
)

// SessionRegistry is the view of the framework session table the
// coordinator needs. *session.Registry implements it.
type SessionRegistry interface {
	ExpireNow(ctx context.Context, sessionID string) error
	IsExpired(ctx context.Context, sessionID string) bool
}

// Notifier delivers FORCE_LOGOUT to a session's push connection
type Notifier interface {
	SendTo(sessionID, username, reason string)
}

// TokenRevoker revokes a provider token
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) bool
}

const (
	shardCount = 32

	forceLogoutReason = "Your session was ended by a logout from another session"
)

type userShard struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

type metaEntry struct {
	SessionMetadata
	gen uint64
}

// Coordinator owns the user to session index and the per-session metadata.
// User sets are sharded by username so unrelated users never contend, and
// no collaborator call is made while a lock is held.
type Coordinator struct {
	shards [shardCount]*userShard

	metaMu sync.RWMutex
	meta   map[string]metaEntry
	gen    uint64

	sessions SessionRegistry
	notifier Notifier
	revoker  TokenRevoker
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewCoordinator creates an empty coordinator. notifier and revoker may be nil.
func NewCoordinator(sessions SessionRegistry, notifier Notifier, revoker TokenRevoker, logger *observability.Logger, metrics *observability.Metrics) *Coordinator {
	c := &Coordinator{
		meta:     make(map[string]metaEntry),
		sessions: sessions,
		notifier: notifier,
		revoker:  revoker,
		logger:   logger.WithField("component", "session_coordinator"),
		metrics:  metrics,
		now:      time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &userShard{sets: make(map[string]map[string]struct{})}
	}
	return c
}

func (c *Coordinator) shard(username string) *userShard {
	h := fnv.New32a()
	h.Write([]byte(username))
	return c.shards[h.Sum32()%shardCount]
}

// RegisterSession tracks sessionID for username. Registering an id again
// overwrites its metadata; the latest registration wins, including its owner.
func (c *Coordinator) RegisterSession(username, sessionID, accessToken string) error {
	if strings.TrimSpace(username) == "" {
		return ErrMissingUsername
	}
	if strings.TrimSpace(sessionID) == "" {
		return ErrMissingSessionID
	}

	// metaMu is held across the owner change so a session id is only ever
	// in one user's set. Lock order is metaMu then shard.
	c.metaMu.Lock()
	prev, existed := c.meta[sessionID]
	c.gen++
	c.meta[sessionID] = metaEntry{
		SessionMetadata: SessionMetadata{
			Username:    username,
			SessionID:   sessionID,
			AccessToken: accessToken,
			CreatedAt:   c.now(),
		},
		gen: c.gen,
	}
	if existed && prev.Username != username {
		c.unlink(prev.Username, sessionID)
	}
	c.link(username, sessionID)
	c.metaMu.Unlock()

	c.metrics.RecordSessionRegistered()
	c.logger.WithFields(map[string]interface{}{
		"username":   username,
		"session_id": sessionID,
		"has_token":  accessToken != "",
	}).Info("Session registered")
	return nil
}

func (c *Coordinator) link(username, sessionID string) {
	sh := c.shard(username)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ids, ok := sh.sets[username]
	if !ok {
		ids = make(map[string]struct{})
		sh.sets[username] = ids
	}
	ids[sessionID] = struct{}{}
}

// unlink removes sessionID from username's set, dropping the set when empty
func (c *Coordinator) unlink(username, sessionID string) {
	sh := c.shard(username)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ids := sh.sets[username]
	delete(ids, sessionID)
	if len(ids) == 0 {
		delete(sh.sets, username)
	}
}

// detach atomically takes the user's whole set out of the index
func (c *Coordinator) detach(username string) []string {
	sh := c.shard(username)
	sh.mu.Lock()
	set := sh.sets[username]
	delete(sh.sets, username)
	sh.mu.Unlock()

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveSessionCount returns the number of tracked sessions for username
func (c *Coordinator) ActiveSessionCount(username string) int {
	sh := c.shard(username)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.sets[username])
}

// TrackedSessions returns the total number of tracked sessions
func (c *Coordinator) TrackedSessions() int {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	return len(c.meta)
}

// Metadata returns the tracked metadata for sessionID
func (c *Coordinator) Metadata(sessionID string) (SessionMetadata, bool) {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	e, ok := c.meta[sessionID]
	return e.SessionMetadata, ok
}

type logoutOptions struct {
	revoke        bool
	fallbackToken string
}

// LogoutOption adjusts PerformSingleSignOut
type LogoutOption func(*logoutOptions)

// WithoutTokenRevocation skips the provider token step
func WithoutTokenRevocation() LogoutOption {
	return func(o *logoutOptions) { o.revoke = false }
}

// WithFallbackToken revokes token when no tracked session carried one
func WithFallbackToken(token string) LogoutOption {
	return func(o *logoutOptions) { o.fallbackToken = token }
}

// PerformSingleSignOut expires every tracked session of username except
// currentSessionID, notifies their push connections and revokes the
// provider token. Per-session failures are recorded in the result; only a
// blank username is an error.
//
// The sweep always runs to completion. Callers that must not be cancelled
// by a client disconnect should pass a context detached from the request.
func (c *Coordinator) PerformSingleSignOut(ctx context.Context, username, currentSessionID string, opts ...LogoutOption) (LogoutResult, error) {
	if strings.TrimSpace(username) == "" {
		return LogoutResult{}, ErrMissingUsername
	}
	o := logoutOptions{revoke: true}
	for _, opt := range opts {
		opt(&o)
	}

	result := LogoutResult{
		Username:        username,
		ExpiredSessions: []string{},
		FailedSessions:  []string{},
		TokenRevocation: TokenNotAttempted,
		StartTime:       c.now(),
	}
	logger := c.logger.WithFields(map[string]interface{}{
		"username":           username,
		"current_session_id": currentSessionID,
	})

	ids := c.detach(username)
	tracked := 0
	var token string
	for _, id := range ids {
		md, owner := c.takeMetadata(username, id)
		if owner != "" && owner != username {
			logger.WithFields(map[string]interface{}{
				"session_id": id,
				"owner":      owner,
			}).Debug("Session was re-registered to another user, skipped")
			continue
		}
		tracked++
		if token == "" && md.AccessToken != "" {
			token = md.AccessToken
		}
		if id == currentSessionID {
			continue
		}

		if err := c.expire(ctx, id); err != nil {
			logger.WithError(err).WithField("session_id", id).Warn("Failed to expire session")
			result.FailedSessions = append(result.FailedSessions, id)
			continue
		}
		result.ExpiredSessions = append(result.ExpiredSessions, id)
		c.notify(id, username)
	}

	var tokenNote string
	switch {
	case !o.revoke:
	case token == "" && o.fallbackToken == "":
		tokenNote = "no token available for revocation"
	default:
		if token == "" {
			token = o.fallbackToken
		}
		result.token = token
		if c.revoke(ctx, token) {
			result.TokenRevocation = TokenRevoked
			tokenNote = "provider token revoked"
		} else {
			result.TokenRevocation = TokenRevocationFailed
			tokenNote = "provider token revocation failed"
		}
	}

	result.Success = len(result.FailedSessions) == 0
	result.Message = summarize(username, tracked, result, tokenNote)
	result.EndTime = c.now()

	logger.WithFields(map[string]interface{}{
		"expired":          len(result.ExpiredSessions),
		"failed":           len(result.FailedSessions),
		"token_revocation": result.TokenRevocation,
		"token":            revocation.MaskToken(result.token),
		"duration_ms":      result.Duration().Milliseconds(),
	}).Info("Single sign-out finished")
	return result, nil
}

func summarize(username string, tracked int, r LogoutResult, tokenNote string) string {
	var b strings.Builder
	if tracked == 0 {
		fmt.Fprintf(&b, "No active sessions found for user %s", username)
	} else {
		peers := len(r.ExpiredSessions) + len(r.FailedSessions)
		fmt.Fprintf(&b, "Logged out %d of %d other sessions for user %s", len(r.ExpiredSessions), peers, username)
		if len(r.FailedSessions) > 0 {
			fmt.Fprintf(&b, "; %d could not be expired", len(r.FailedSessions))
		}
	}
	if tokenNote != "" {
		b.WriteString("; ")
		b.WriteString(tokenNote)
	}
	return b.String()
}

// takeMetadata removes and returns the metadata of sessionID when username
// owns it. owner is the current owner, or empty when nothing is tracked.
func (c *Coordinator) takeMetadata(username, sessionID string) (md SessionMetadata, owner string) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	e, ok := c.meta[sessionID]
	if !ok {
		return SessionMetadata{}, ""
	}
	if e.Username != username {
		return SessionMetadata{}, e.Username
	}
	delete(c.meta, sessionID)
	return e.SessionMetadata, username
}

func (c *Coordinator) expire(ctx context.Context, sessionID string) (err error) {
	defer func() {
		if p := observability.MustRecover(recover()); p != nil {
			err = fmt.Errorf("expire session %s: %w", sessionID, p)
		}
	}()
	return c.sessions.ExpireNow(ctx, sessionID)
}

func (c *Coordinator) notify(sessionID, username string) {
	if c.notifier == nil {
		return
	}
	defer observability.RecoverPanic(c.logger, "force logout notification")
	c.notifier.SendTo(sessionID, username, forceLogoutReason)
}

func (c *Coordinator) revoke(ctx context.Context, token string) (ok bool) {
	if c.revoker == nil {
		return false
	}
	defer observability.RecoverPanicWithCallback(c.logger, "token revocation", func() { ok = false })
	return c.revoker.Revoke(ctx, token)
}

// CleanupExpiredSessions drops tracked sessions the framework no longer
// considers live. An entry re-registered while the sweep ran is kept.
func (c *Coordinator) CleanupExpiredSessions(ctx context.Context) (int, error) {
	c.metaMu.RLock()
	snapshot := make([]metaEntry, 0, len(c.meta))
	for _, e := range c.meta {
		snapshot = append(snapshot, e)
	}
	c.metaMu.RUnlock()

	removed := 0
	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			c.metrics.RecordCleanup("session", removed)
			return removed, fmt.Errorf("cleanup interrupted: %w", err)
		}
		if !c.isExpired(ctx, e.SessionID) {
			continue
		}
		if c.removeIfUnchanged(e) {
			removed++
		}
	}

	c.metrics.RecordCleanup("session", removed)
	if removed > 0 {
		c.logger.WithFields(map[string]interface{}{
			"removed":   removed,
			"remaining": c.TrackedSessions(),
		}).Info("Expired sessions cleaned up")
	}
	return removed, nil
}

func (c *Coordinator) isExpired(ctx context.Context, sessionID string) (expired bool) {
	defer observability.RecoverPanicWithCallback(c.logger, "session expiry check", func() { expired = false })
	return c.sessions.IsExpired(ctx, sessionID)
}

// removeIfUnchanged holds metaMu across the unlink so a registration of the
// same id cannot slip in between. Lock order is metaMu then shard.
func (c *Coordinator) removeIfUnchanged(e metaEntry) bool {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	cur, ok := c.meta[e.SessionID]
	if !ok || cur.gen != e.gen {
		return false
	}
	delete(c.meta, e.SessionID)
	c.unlink(e.Username, e.SessionID)
	return true
}
