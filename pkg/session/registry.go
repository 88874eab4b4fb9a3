// Package session adapts the authentication framework's live-session table
// to the narrow read/expire view the single sign-out coordinator needs.
package session

import (
	"context"
	"fmt"

	"github.com/platinummonkey/ssosync/pkg/auth"
	"github.com/platinummonkey/ssosync/pkg/observability"
)

// Framework is the part of the host session table the registry consumes.
// *auth.SessionTable implements it.
type Framework interface {
	AllPrincipals(ctx context.Context) ([]string, error)
	AllSessions(ctx context.Context, principal string, includeExpired bool) ([]auth.SessionInformation, error)
	ExpireSession(ctx context.Context, sessionID string) error
}

// Registry looks sessions up across all principals of a Framework
type Registry struct {
	framework Framework
	logger    *observability.Logger
}

// NewRegistry creates a registry over framework
func NewRegistry(framework Framework, logger *observability.Logger) *Registry {
	return &Registry{
		framework: framework,
		logger:    logger.WithField("component", "session_registry"),
	}
}

// SessionsForUser returns the user's live sessions
func (r *Registry) SessionsForUser(ctx context.Context, username string) ([]auth.SessionInformation, error) {
	sessions, err := r.framework.AllSessions(ctx, username, false)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", username, err)
	}
	return sessions, nil
}

// find scans every principal for a live session with the given id
func (r *Registry) find(ctx context.Context, sessionID string) (auth.SessionInformation, bool, error) {
	principals, err := r.framework.AllPrincipals(ctx)
	if err != nil {
		return auth.SessionInformation{}, false, fmt.Errorf("list principals: %w", err)
	}
	for _, principal := range principals {
		sessions, err := r.framework.AllSessions(ctx, principal, false)
		if err != nil {
			return auth.SessionInformation{}, false, fmt.Errorf("list sessions for %s: %w", principal, err)
		}
		for _, s := range sessions {
			if s.SessionID == sessionID {
				return s, true, nil
			}
		}
	}
	return auth.SessionInformation{}, false, nil
}

// ExpireNow marks the matching live session expired. A session that cannot
// be found is treated as already gone and only logged; errors come from the
// framework itself.
func (r *Registry) ExpireNow(ctx context.Context, sessionID string) error {
	s, found, err := r.find(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		r.logger.WithField("session_id", sessionID).Debug("No live session to expire")
		return nil
	}

	if err := r.framework.ExpireSession(ctx, s.SessionID); err != nil {
		return fmt.Errorf("expire session %s: %w", sessionID, err)
	}
	r.logger.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"username":   s.Principal,
	}).Debug("Session expired")
	return nil
}

// IsExpired reports true when no live session has the id. Lookup failures
// also count as expired so the cleanup sweep can drop the entry.
func (r *Registry) IsExpired(ctx context.Context, sessionID string) bool {
	_, found, err := r.find(ctx, sessionID)
	if err != nil {
		r.logger.WithError(err).WithField("session_id", sessionID).Warn("Session lookup failed, treating as expired")
		return true
	}
	return !found
}
