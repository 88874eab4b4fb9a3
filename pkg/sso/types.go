package sso

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMissingUsername rejects operations without an owner
	ErrMissingUsername = errors.New("username is required")
	// ErrMissingSessionID rejects registrations without a session id
	ErrMissingSessionID = errors.New("session id is required")
	// ErrUnauthenticated is returned by the orchestrator for anonymous callers
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrInvalidLogoutScope is returned for an unknown logout type
	ErrInvalidLogoutScope = errors.New("invalid logout type")
)

// SessionMetadata is what the coordinator knows about one tracked session
type SessionMetadata struct {
	Username    string
	SessionID   string
	AccessToken string
	CreatedAt   time.Time
}

// TokenRevocation is the outcome of the provider token step of a logout
type TokenRevocation string

const (
	TokenRevoked          TokenRevocation = "revoked"
	TokenNotAttempted     TokenRevocation = "not_attempted"
	TokenRevocationFailed TokenRevocation = "failed"
)

// LogoutResult reports what a single sign-out did. Session id lists are
// sorted; Success is true iff FailedSessions is empty.
type LogoutResult struct {
	Username        string          `json:"username"`
	ExpiredSessions []string        `json:"expiredSessions"`
	FailedSessions  []string        `json:"failedSessions"`
	TokenRevocation TokenRevocation `json:"tokenRevocation"`
	Success         bool            `json:"success"`
	Message         string          `json:"message"`
	StartTime       time.Time       `json:"startTime"`
	EndTime         time.Time       `json:"endTime"`

	// token is the provider token the revocation step used, if any
	token string
}

// TokenRevoked reports whether the provider token is known to be invalid
func (r LogoutResult) TokenRevoked() bool {
	return r.TokenRevocation == TokenRevoked
}

func (r LogoutResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// LogoutScope selects how far a logout reaches
type LogoutScope string

const (
	// ScopeLocal logs out the requesting session only
	ScopeLocal LogoutScope = "local"
	// ScopeComplete logs out every session of the user
	ScopeComplete LogoutScope = "complete"
	// ScopeGlobal additionally revokes the provider token
	ScopeGlobal LogoutScope = "global"
)

// ParseLogoutScope parses a logoutType value; blank selects def
func ParseLogoutScope(value string, def LogoutScope) (LogoutScope, error) {
	switch LogoutScope(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return def, nil
	case ScopeLocal:
		return ScopeLocal, nil
	case ScopeComplete:
		return ScopeComplete, nil
	case ScopeGlobal:
		return ScopeGlobal, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLogoutScope, value)
}

// LogoutResponse is the body returned by the logout API
type LogoutResponse struct {
	Success         bool            `json:"success"`
	Message         string          `json:"message"`
	LogoutType      LogoutScope     `json:"logoutType"`
	ExpiredSessions int             `json:"expiredSessions"`
	FailedSessions  int             `json:"failedSessions"`
	TokenRevoked    bool            `json:"tokenRevoked"`
	TokenRevocation TokenRevocation `json:"tokenRevocation"`
}
