package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// wsConn adapts a *websocket.Conn to Conn. Outbound frames go through a
// bounded queue drained by writePump, so Send never blocks on the network.
type wsConn struct {
	id           string
	ws           *websocket.Conn
	out          chan []byte
	done         chan struct{}
	open         atomic.Bool
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newWSConn(ws *websocket.Conn, queueSize int, writeTimeout time.Duration) *wsConn {
	if queueSize <= 0 {
		queueSize = 16
	}
	c := &wsConn{
		id:           uuid.NewString(),
		ws:           ws,
		out:          make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	c.open.Store(true)
	return c
}

func (c *wsConn) ID() string   { return c.id }
func (c *wsConn) IsOpen() bool { return c.open.Load() }

func (c *wsConn) Send(payload []byte) error {
	if !c.open.Load() {
		return ErrConnectionClosed
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	case c.out <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *wsConn) Close(code CloseCode, reason string) error {
	var err error
	c.shutdown(func() {
		err = c.ws.Close(statusFor(code), reason)
	})
	return err
}

// markClosed stops the pump without a closing handshake, used once the
// peer has already gone away.
func (c *wsConn) markClosed() {
	c.shutdown(func() {
		_ = c.ws.CloseNow()
	})
}

func (c *wsConn) shutdown(closeTransport func()) {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
		closeTransport()
	})
}

// writePump delivers queued frames in order until the connection closes
func (c *wsConn) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case payload := <-c.out:
			if err := c.write(ctx, payload); err != nil {
				c.markClosed()
				return err
			}
		}
	}
}

func (c *wsConn) write(ctx context.Context, payload []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, websocket.MessageText, payload)
}

func statusFor(code CloseCode) websocket.StatusCode {
	switch code {
	case CloseServerError:
		return websocket.StatusInternalError
	case ClosePolicyViolation:
		return websocket.StatusPolicyViolation
	default:
		return websocket.StatusNormalClosure
	}
}
