// Package notify pushes logout notifications to browser sessions over
// WebSocket. The Registry keeps at most one live connection per session
// and is safe for concurrent use; delivery is best effort.
package notify
