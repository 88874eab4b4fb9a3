// Package auth is the host authentication framework the single sign-out
// service runs on.
//
// # Key Components
//
// SessionTable: the live-session table. Login creates a session per browser,
// logout invalidates it, and single sign-out marks peer sessions expired so
// their next request is rejected.
//
//	info, err := sessions.Create(ctx, "alice")
//	_ = sessions.ExpireSession(ctx, info.SessionID)
//
// ClientStore: OAuth2 tokens obtained at login, keyed by provider
// registration id and principal name.
//
//	clients.Save("github", "alice", token)
//	tok := clients.AccessToken("github", "alice")
//
// AuthContext: the authenticated principal and session of a request, placed
// in the request context by middleware.SessionMiddleware.
//
// # Related Packages
//
//   - pkg/session: adapter the single sign-out coordinator uses to read and expire sessions
//   - pkg/middleware: session cookie authentication
package auth
