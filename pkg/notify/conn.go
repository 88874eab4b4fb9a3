package notify

import "errors"

var (
	// ErrConnectionClosed is returned when sending on a closed connection
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when a slow client has not drained its queue
	ErrSendQueueFull = errors.New("send queue full")
)

// CloseCode is the reason a server closes a connection
type CloseCode int

const (
	CloseNormal CloseCode = iota
	CloseServerError
	ClosePolicyViolation
)

// Conn is a push connection as seen by the Registry. Send must not block:
// implementations queue the payload and deliver it asynchronously, in order.
type Conn interface {
	ID() string
	IsOpen() bool
	Send(payload []byte) error
	Close(code CloseCode, reason string) error
}
