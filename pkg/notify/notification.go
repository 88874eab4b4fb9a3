package notify

import (
	"encoding/json"
	"time"
)

// Type identifies a push notification
type Type string

const (
	ConnectionEstablished Type = "CONNECTION_ESTABLISHED"
	ForceLogout           Type = "FORCE_LOGOUT"
	BroadcastLogout       Type = "BROADCAST_LOGOUT"
	Heartbeat             Type = "HEARTBEAT"
)

// SystemUsername is the username carried by heartbeat notifications
const SystemUsername = "system"

// Notification is the JSON message pushed to clients
type Notification struct {
	Type      Type      `json:"type"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode serializes the notification with an RFC 3339 timestamp
func (n Notification) Encode() ([]byte, error) {
	return json.Marshal(n)
}

// statusReply answers the inbound "status" message
type statusReply struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Status   string `json:"status"`
}
