package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/platinummonkey/ssosync/pkg/async"
	"github.com/platinummonkey/ssosync/pkg/observability"
)

const (
	HeaderSessionID = "X-Session-ID"
	HeaderUsername  = "X-Username"

	// inbound frames are short commands
	readLimit = 4096
)

// IdentityFunc resolves the session id and username of an upgrade request
type IdentityFunc func(r *http.Request) (sessionID, username string)

// HeaderIdentity reads the identity from the X-Session-ID and X-Username headers
func HeaderIdentity(r *http.Request) (string, string) {
	return strings.TrimSpace(r.Header.Get(HeaderSessionID)), strings.TrimSpace(r.Header.Get(HeaderUsername))
}

// HandlerOptions configures the push endpoint
type HandlerOptions struct {
	// AllowedOrigins are host patterns accepted besides the request host
	AllowedOrigins []string
	QueueSize      int
	WriteTimeout   time.Duration
	// Identify defaults to HeaderIdentity
	Identify IdentityFunc
}

// Handler serves the /ws/logout push endpoint
type Handler struct {
	registry *Registry
	logger   *observability.Logger
	opts     HandlerOptions
}

// NewHandler creates the push endpoint handler
func NewHandler(registry *Registry, logger *observability.Logger, opts HandlerOptions) *Handler {
	if opts.Identify == nil {
		opts.Identify = HeaderIdentity
	}
	return &Handler{
		registry: registry,
		logger:   logger.WithField("component", "push_handler"),
		opts:     opts,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID, username := h.opts.Identify(r)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.opts.AllowedOrigins,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	ws.SetReadLimit(readLimit)

	if sessionID == "" || username == "" {
		h.logger.WithField("remote_addr", r.RemoteAddr).Warn("Push connection without identity rejected")
		ws.Close(websocket.StatusPolicyViolation, "session id and username required")
		return
	}

	conn := newWSConn(ws, h.opts.QueueSize, h.opts.WriteTimeout)

	ctx := r.Context()
	pumpDone := async.Go(ctx, h.logger, "push write pump", conn.writePump)

	h.registry.Register(sessionID, username, conn)

	err = h.readLoop(ctx, conn, username)
	if isNormalClose(err) {
		conn.markClosed()
		h.registry.OnTransportClosed(conn)
	} else {
		h.registry.OnTransportError(conn, err)
		conn.markClosed()
	}
	<-pumpDone
}

func (h *Handler) readLoop(ctx context.Context, conn *wsConn, username string) error {
	for {
		typ, data, err := conn.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		h.handleMessage(conn, username, strings.TrimSpace(string(data)))
	}
}

// handleMessage answers the client commands "ping" and "status"
func (h *Handler) handleMessage(conn Conn, username, msg string) {
	var reply []byte
	switch msg {
	case "ping":
		reply = []byte("pong")
	case "status":
		b, err := json.Marshal(statusReply{Type: "status", Username: username, Status: "online"})
		if err != nil {
			h.logger.WithError(err).Error("Failed to encode status reply")
			return
		}
		reply = b
	default:
		h.logger.WithFields(map[string]interface{}{
			"username":      username,
			"connection_id": conn.ID(),
		}).Debug("Ignoring unknown push message")
		return
	}

	if err := conn.Send(reply); err != nil {
		h.logger.WithError(err).WithField("connection_id", conn.ID()).Debug("Failed to queue reply")
	}
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}
