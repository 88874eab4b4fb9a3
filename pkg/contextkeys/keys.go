// Package contextkeys defines every request-scoped context key the service
// uses. Keeping them in one place avoids collisions between packages that
// cannot import each other.
//
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys
type Key string

const (
	// AuthKey holds the *auth.AuthContext resolved from the session cookie.
	// Set by middleware.SessionMiddleware.
	AuthKey Key = "auth_context"

	// RequestIDKey holds the request id. Set by httputil.LoggingMiddleware.
	RequestIDKey Key = "request_id"

	// UsernameKey holds the authenticated username
	UsernameKey Key = "username"

	// SessionIDKey holds the framework session id of the caller
	SessionIDKey Key = "session_id"

	// LoggerKey holds the request-scoped *observability.Logger
	LoggerKey Key = "logger"
)

// WithAuth stores the auth context. The value is untyped so this package
// stays free of imports.
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithSession records who the caller is for log correlation
func WithSession(ctx context.Context, username, sessionID string) context.Context {
	ctx = context.WithValue(ctx, UsernameKey, username)
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func GetUsername(ctx context.Context) string {
	return stringValue(ctx, UsernameKey)
}

func GetSessionID(ctx context.Context) string {
	return stringValue(ctx, SessionIDKey)
}

func stringValue(ctx context.Context, key Key) string {
	v, _ := ctx.Value(key).(string)
	return v
}
