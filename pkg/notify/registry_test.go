package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

type fakeConn struct {
	id string

	mu       sync.Mutex
	open     bool
	sent     [][]byte
	sendErr  error
	closed   bool
	closedAs CloseCode
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, open: true}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) Close(code CloseCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed = true
	c.closedAs = code
	return nil
}

func (c *fakeConn) setOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
}

func (c *fakeConn) notifications(t *testing.T) []Notification {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, 0, len(c.sent))
	for _, raw := range c.sent {
		var n Notification
		require.NoError(t, json.Unmarshal(raw, &n))
		out = append(out, n)
	}
	return out
}

func (c *fakeConn) lastType(t *testing.T) Type {
	t.Helper()
	ns := c.notifications(t)
	require.NotEmpty(t, ns)
	return ns[len(ns)-1].Type
}

func newTestRegistry() (*Registry, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.DebugLevel, &bytes.Buffer{})
	return NewRegistry(logger, metrics), metrics
}

func TestRegistry_RegisterSendsConnectionEstablished(t *testing.T) {
	reg, metrics := newTestRegistry()
	conn := newFakeConn("c1")

	reg.Register("s1", "alice", conn)

	ns := conn.notifications(t)
	require.Len(t, ns, 1)
	assert.Equal(t, ConnectionEstablished, ns[0].Type)
	assert.Equal(t, "alice", ns[0].Username)
	assert.False(t, ns[0].Timestamp.IsZero())
	assert.Equal(t, 1, reg.ActiveCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LiveConnections))
}

func TestRegistry_RegisterReplacesExistingConnection(t *testing.T) {
	reg, _ := newTestRegistry()
	first := newFakeConn("c1")
	second := newFakeConn("c2")

	reg.Register("s1", "alice", first)
	reg.Register("s1", "alice", second)
	reg.SendTo("s1", "alice", "bye")

	assert.Equal(t, 1, reg.ActiveCount())
	assert.Len(t, first.notifications(t), 1)
	assert.Equal(t, ForceLogout, second.lastType(t))
}

func TestRegistry_RegisterMovesSessionBetweenUsers(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Register("s1", "alice", newFakeConn("c1"))
	reg.Register("s1", "bob", newFakeConn("c2"))

	assert.Empty(t, reg.Sessions("alice"))
	assert.Equal(t, []string{"s1"}, reg.Sessions("bob"))
}

func TestRegistry_Unregister(t *testing.T) {
	reg, _ := newTestRegistry()
	conn := newFakeConn("c1")
	reg.Register("s1", "alice", conn)

	reg.Unregister("s1")
	reg.Unregister("s1")
	reg.Unregister("unknown")

	assert.Zero(t, reg.ActiveCount())
	assert.Empty(t, reg.Sessions("alice"))

	reg.SendTo("s1", "alice", "bye")
	assert.Len(t, conn.notifications(t), 1, "no delivery after unregister")
}

func TestRegistry_SendTo(t *testing.T) {
	t.Run("delivers force logout", func(t *testing.T) {
		reg, metrics := newTestRegistry()
		conn := newFakeConn("c1")
		reg.Register("s1", "alice", conn)

		reg.SendTo("s1", "alice", "signed out elsewhere")

		ns := conn.notifications(t)
		require.Len(t, ns, 2)
		assert.Equal(t, ForceLogout, ns[1].Type)
		assert.Equal(t, "alice", ns[1].Username)
		assert.Equal(t, "signed out elsewhere", ns[1].Message)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues(string(ForceLogout), "sent")))
	})

	t.Run("missing session is a no-op", func(t *testing.T) {
		reg, _ := newTestRegistry()
		assert.NotPanics(t, func() { reg.SendTo("nope", "alice", "bye") })
	})

	t.Run("closed connection is skipped", func(t *testing.T) {
		reg, _ := newTestRegistry()
		conn := newFakeConn("c1")
		reg.Register("s1", "alice", conn)
		conn.setOpen(false)

		reg.SendTo("s1", "alice", "bye")
		assert.Len(t, conn.notifications(t), 1)
	})

	t.Run("connection of another user is skipped", func(t *testing.T) {
		reg, _ := newTestRegistry()
		conn := newFakeConn("c1")
		reg.Register("s1", "bob", conn)

		reg.SendTo("s1", "alice", "bye")

		ns := conn.notifications(t)
		require.Len(t, ns, 1)
		assert.Equal(t, ConnectionEstablished, ns[0].Type)
	})

	t.Run("send failure is swallowed", func(t *testing.T) {
		reg, metrics := newTestRegistry()
		conn := newFakeConn("c1")
		reg.Register("s1", "alice", conn)
		conn.sendErr = ErrSendQueueFull

		assert.NotPanics(t, func() { reg.SendTo("s1", "alice", "bye") })
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues(string(ForceLogout), "dropped")))
	})
}

func TestRegistry_BroadcastIsScopedToUser(t *testing.T) {
	reg, _ := newTestRegistry()
	a1 := newFakeConn("a1")
	a2 := newFakeConn("a2")
	closed := newFakeConn("a3")
	b1 := newFakeConn("b1")

	reg.Register("s1", "alice", a1)
	reg.Register("s2", "alice", a2)
	reg.Register("s3", "alice", closed)
	reg.Register("s4", "bob", b1)
	closed.setOpen(false)

	sent := reg.Broadcast("alice", "global logout")

	assert.Equal(t, 2, sent)
	assert.Equal(t, BroadcastLogout, a1.lastType(t))
	assert.Equal(t, BroadcastLogout, a2.lastType(t))
	assert.Len(t, closed.notifications(t), 1)
	assert.Len(t, b1.notifications(t), 1, "other users receive nothing")
}

func TestRegistry_SendHeartbeat(t *testing.T) {
	reg, _ := newTestRegistry()
	a := newFakeConn("a")
	b := newFakeConn("b")
	reg.Register("s1", "alice", a)
	reg.Register("s2", "bob", b)
	b.setOpen(false)

	assert.Equal(t, 1, reg.SendHeartbeat())

	ns := a.notifications(t)
	require.Len(t, ns, 2)
	assert.Equal(t, Heartbeat, ns[1].Type)
	assert.Equal(t, SystemUsername, ns[1].Username)
}

func TestRegistry_CleanupClosed(t *testing.T) {
	reg, metrics := newTestRegistry()
	open := newFakeConn("open")
	closed := newFakeConn("closed")
	reg.Register("s1", "alice", open)
	reg.Register("s2", "alice", closed)
	closed.setOpen(false)

	assert.Equal(t, 1, reg.CleanupClosed())
	assert.Zero(t, reg.CleanupClosed())
	assert.Equal(t, []string{"s1"}, reg.Sessions("alice"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CleanupRemovedTotal.WithLabelValues("connection")))
}

func TestRegistry_ActiveCountIgnoresClosed(t *testing.T) {
	reg, _ := newTestRegistry()
	conn := newFakeConn("c1")
	reg.Register("s1", "alice", conn)
	reg.Register("s2", "alice", newFakeConn("c2"))
	conn.setOpen(false)

	assert.Equal(t, 1, reg.ActiveCount())
}

func TestRegistry_TransportEvents(t *testing.T) {
	t.Run("close removes owning entry", func(t *testing.T) {
		reg, _ := newTestRegistry()
		conn := newFakeConn("c1")
		reg.Register("s1", "alice", conn)

		reg.OnTransportClosed(conn)
		assert.Empty(t, reg.Sessions("alice"))
		assert.False(t, conn.closed)
	})

	t.Run("close of replaced connection keeps newer entry", func(t *testing.T) {
		reg, _ := newTestRegistry()
		old := newFakeConn("old")
		current := newFakeConn("new")
		reg.Register("s1", "alice", old)
		reg.Register("s1", "alice", current)

		reg.OnTransportClosed(old)
		assert.Equal(t, []string{"s1"}, reg.Sessions("alice"))
	})

	t.Run("error removes entry and closes transport", func(t *testing.T) {
		reg, _ := newTestRegistry()
		conn := newFakeConn("c1")
		reg.Register("s1", "alice", conn)

		reg.OnTransportError(conn, errors.New("reset by peer"))
		assert.Empty(t, reg.Sessions("alice"))
		assert.True(t, conn.closed)
		assert.Equal(t, CloseServerError, conn.closedAs)
	})

	t.Run("unknown connection is ignored", func(t *testing.T) {
		reg, _ := newTestRegistry()
		assert.NotPanics(t, func() { reg.OnTransportClosed(newFakeConn("x")) })
	})
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg, _ := newTestRegistry()
	bobConns := make([]*fakeConn, 20)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("s%d", i)
			conn := newFakeConn(sessionID)
			reg.Register(sessionID, "alice", conn)
			bobSession := fmt.Sprintf("b%d", i)
			bobConns[i] = newFakeConn(bobSession)
			reg.Register(bobSession, "bob", bobConns[i])
			reg.Broadcast("alice", "bye")
			reg.SendTo(sessionID, "alice", "bye")
			reg.SendHeartbeat()
			if i%2 == 0 {
				reg.Unregister(sessionID)
			}
			reg.CleanupClosed()
			_ = reg.ActiveCount()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 30, reg.ActiveCount())
	assert.Len(t, reg.Sessions("bob"), 20)
	for _, conn := range bobConns {
		for _, n := range conn.notifications(t) {
			assert.NotEqual(t, BroadcastLogout, n.Type, "alice's broadcast reached %s", conn.ID())
			assert.NotEqual(t, ForceLogout, n.Type, "alice's force logout reached %s", conn.ID())
		}
	}
}

func TestNotification_EncodeUsesRFC3339Timestamp(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := Notification{Type: ForceLogout, Username: "alice", Message: "bye", Timestamp: ts}.Encode()
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"FORCE_LOGOUT","username":"alice","message":"bye","timestamp":"2026-01-02T03:04:05Z"}`, string(raw))
}
