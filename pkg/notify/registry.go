package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

type entry struct {
	conn     Conn
	username string
}

// Registry tracks one live connection per session and fans notifications
// out to them. Delivery is best effort: failures are logged and counted but
// never returned to callers.
type Registry struct {
	mu      sync.RWMutex
	bySess  map[string]entry
	byUser  map[string]map[string]struct{}
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(logger *observability.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		bySess:  make(map[string]entry),
		byUser:  make(map[string]map[string]struct{}),
		logger:  logger.WithField("component", "connection_registry"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Register stores conn under sessionID, replacing any previous connection,
// and greets it with CONNECTION_ESTABLISHED.
func (r *Registry) Register(sessionID, username string, conn Conn) {
	r.mu.Lock()
	if old, ok := r.bySess[sessionID]; ok {
		r.unlinkLocked(sessionID, old.username)
	}
	r.bySess[sessionID] = entry{conn: conn, username: username}
	ids, ok := r.byUser[username]
	if !ok {
		ids = make(map[string]struct{})
		r.byUser[username] = ids
	}
	ids[sessionID] = struct{}{}
	size := len(r.bySess)
	r.mu.Unlock()

	r.metrics.SetLiveConnections(size)
	r.logger.WithFields(map[string]interface{}{
		"session_id":    sessionID,
		"username":      username,
		"connection_id": conn.ID(),
	}).Info("Push connection registered")

	r.deliver(conn, Notification{
		Type:      ConnectionEstablished,
		Username:  username,
		Message:   "logout notification channel established",
		Timestamp: r.now(),
	})
}

// Unregister removes the connection for sessionID, if any
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	e, ok := r.bySess[sessionID]
	if ok {
		delete(r.bySess, sessionID)
		r.unlinkLocked(sessionID, e.username)
	}
	size := len(r.bySess)
	r.mu.Unlock()

	if ok {
		r.metrics.SetLiveConnections(size)
		r.logger.WithField("session_id", sessionID).Debug("Push connection unregistered")
	}
}

func (r *Registry) unlinkLocked(sessionID, username string) {
	ids := r.byUser[username]
	delete(ids, sessionID)
	if len(ids) == 0 {
		delete(r.byUser, username)
	}
}

// SendTo pushes FORCE_LOGOUT to the session's connection when one is open
// and registered for username
func (r *Registry) SendTo(sessionID, username, reason string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.bySess[sessionID]
	if !ok || !e.conn.IsOpen() {
		r.logger.WithField("session_id", sessionID).Debug("No open push connection for session")
		return
	}
	if e.username != username {
		r.logger.WithFields(map[string]interface{}{
			"session_id": sessionID,
			"username":   username,
			"owner":      e.username,
		}).Warn("Push connection belongs to another user, not notified")
		return
	}
	r.deliver(e.conn, Notification{
		Type:      ForceLogout,
		Username:  username,
		Message:   reason,
		Timestamp: r.now(),
	})
}

// Broadcast pushes BROADCAST_LOGOUT to every open connection of username.
// Sends happen under the read lock so a concurrent Unregister never races
// with delivery to the entry it removes.
func (r *Registry) Broadcast(username, reason string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := Notification{
		Type:      BroadcastLogout,
		Username:  username,
		Message:   reason,
		Timestamp: r.now(),
	}
	sent := 0
	for sessionID := range r.byUser[username] {
		e := r.bySess[sessionID]
		if !e.conn.IsOpen() {
			continue
		}
		if r.deliver(e.conn, n) {
			sent++
		}
	}
	r.logger.WithFields(map[string]interface{}{
		"username":  username,
		"delivered": sent,
	}).Info("Logout broadcast sent")
	return sent
}

// SendHeartbeat pushes HEARTBEAT to every open connection
func (r *Registry) SendHeartbeat() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := Notification{
		Type:      Heartbeat,
		Username:  SystemUsername,
		Message:   "heartbeat",
		Timestamp: r.now(),
	}
	sent := 0
	for _, e := range r.bySess {
		if e.conn.IsOpen() && r.deliver(e.conn, n) {
			sent++
		}
	}
	return sent
}

// CleanupClosed drops entries whose connection is no longer open
func (r *Registry) CleanupClosed() int {
	r.mu.Lock()
	removed := 0
	for sessionID, e := range r.bySess {
		if e.conn.IsOpen() {
			continue
		}
		delete(r.bySess, sessionID)
		r.unlinkLocked(sessionID, e.username)
		removed++
	}
	size := len(r.bySess)
	r.mu.Unlock()

	r.metrics.SetLiveConnections(size)
	r.metrics.RecordCleanup("connection", removed)
	if removed > 0 {
		r.logger.WithField("removed", removed).Info("Closed push connections cleaned up")
	}
	return removed
}

// ActiveCount counts registered connections that report open
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.bySess {
		if e.conn.IsOpen() {
			n++
		}
	}
	return n
}

// Sessions lists the session ids with a registered connection for username
func (r *Registry) Sessions(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byUser[username]))
	for id := range r.byUser[username] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OnTransportClosed removes the entry owned by conn. An entry that has
// since been replaced by a newer connection is left alone.
func (r *Registry) OnTransportClosed(conn Conn) {
	if sessionID, ok := r.removeConn(conn); ok {
		r.logger.WithFields(map[string]interface{}{
			"session_id":    sessionID,
			"connection_id": conn.ID(),
		}).Debug("Push connection closed")
	}
}

// OnTransportError removes the entry owned by conn and closes the transport
// if it is still open.
func (r *Registry) OnTransportError(conn Conn, err error) {
	sessionID, _ := r.removeConn(conn)
	r.logger.WithError(err).WithFields(map[string]interface{}{
		"session_id":    sessionID,
		"connection_id": conn.ID(),
	}).Warn("Push connection transport error")

	if conn.IsOpen() {
		if cerr := conn.Close(CloseServerError, "transport error"); cerr != nil {
			r.logger.WithError(cerr).Debug("Failed to close push connection")
		}
	}
}

func (r *Registry) removeConn(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sessionID, e := range r.bySess {
		if e.conn.ID() != conn.ID() {
			continue
		}
		delete(r.bySess, sessionID)
		r.unlinkLocked(sessionID, e.username)
		r.metrics.SetLiveConnections(len(r.bySess))
		return sessionID, true
	}
	return "", false
}

// deliver encodes and queues n on conn
func (r *Registry) deliver(conn Conn, n Notification) bool {
	payload, err := n.Encode()
	if err != nil {
		r.logger.WithError(err).Error("Failed to encode notification")
		return false
	}
	if err := conn.Send(payload); err != nil {
		r.metrics.RecordNotification(string(n.Type), "dropped")
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"connection_id": conn.ID(),
			"type":          n.Type,
		}).Warn("Failed to send notification")
		return false
	}
	r.metrics.RecordNotification(string(n.Type), "sent")
	return true
}
