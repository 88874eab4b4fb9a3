package auth

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session id is not in the table
	ErrSessionNotFound = errors.New("session not found")
	// ErrMissingPrincipal is returned when a session is created without a principal
	ErrMissingPrincipal = errors.New("principal is required")
)

// SessionInformation is the framework's record of one login session
type SessionInformation struct {
	SessionID   string    `json:"session_id"`
	Principal   string    `json:"principal"`
	CreatedAt   time.Time `json:"created_at"`
	LastRequest time.Time `json:"last_request"`
	Expired     bool      `json:"expired"`
}

// AuthContext contains authentication information for a request
type AuthContext struct {
	Username       string
	SessionID      string
	RegistrationID string
}

// IsAuthenticated reports whether the context carries a principal
func (a *AuthContext) IsAuthenticated() bool {
	return a != nil && a.Username != ""
}
