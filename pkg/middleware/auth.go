package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/ssosync/pkg/auth"
	"github.com/platinummonkey/ssosync/pkg/contextkeys"
	"github.com/platinummonkey/ssosync/pkg/httputil"
	"github.com/platinummonkey/ssosync/pkg/observability"
)

// SessionStore is the framework session table as seen by the middleware.
// *auth.SessionTable implements it.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (auth.SessionInformation, bool)
	Touch(ctx context.Context, sessionID string)
	Invalidate(ctx context.Context, sessionID string) error
}

// SessionMiddleware authenticates requests by session cookie
type SessionMiddleware struct {
	sessions       SessionStore
	cookieName     string
	registrationID string
	optional       bool // If true, allow requests without a session
	logger         *observability.Logger
}

// NewSessionMiddleware creates a new session authentication middleware
func NewSessionMiddleware(sessions SessionStore, cookieName, registrationID string, optional bool, logger *observability.Logger) *SessionMiddleware {
	return &SessionMiddleware{
		sessions:       sessions,
		cookieName:     cookieName,
		registrationID: registrationID,
		optional:       optional,
		logger:         logger.WithField("component", "session_middleware"),
	}
}

// Handler wraps an HTTP handler with session authentication. A session
// expired by a logout elsewhere is invalidated on its next request.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.cookieName)
		if err != nil || cookie.Value == "" {
			m.reject(w, r, next, "missing session")
			return
		}

		ctx := r.Context()
		session, ok := m.sessions.Get(ctx, cookie.Value)
		if !ok {
			m.reject(w, r, next, "unknown session")
			return
		}
		if session.Expired {
			if err := m.sessions.Invalidate(ctx, session.SessionID); err != nil {
				m.logger.WithError(err).WithField("session_id", session.SessionID).Debug("Failed to invalidate expired session")
			}
			http.SetCookie(w, &http.Cookie{Name: m.cookieName, Path: "/", MaxAge: -1})
			m.reject(w, r, next, "session expired")
			return
		}
		m.sessions.Touch(ctx, session.SessionID)

		authCtx := &auth.AuthContext{
			Username:       session.Principal,
			SessionID:      session.SessionID,
			RegistrationID: m.registrationID,
		}
		ctx = contextkeys.WithAuth(ctx, authCtx)
		ctx = contextkeys.WithSession(ctx, session.Principal, session.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *SessionMiddleware) reject(w http.ResponseWriter, r *http.Request, next http.Handler, reason string) {
	if m.optional {
		next.ServeHTTP(w, r)
		return
	}
	httputil.WriteUnauthorized(w, reason)
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, ok := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}
