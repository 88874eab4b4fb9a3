// Package sso coordinates single sign-out across every session a user holds.
//
// # Overview
//
// A login through the OAuth2 flow creates a framework session and registers
// it with the Coordinator, together with the provider access token. When the
// user later logs out, the Orchestrator picks one of three modes:
//
//	local     end only the requesting session
//	complete  end every session of the user and notify their browsers
//	global    complete, plus revoke the provider token
//
// Expired sessions receive a FORCE_LOGOUT push over /ws/logout. A failure to
// expire one session never stops the others; the LogoutResult lists what was
// expired and what failed.
//
// # Usage Example
//
//	coordinator := sso.NewCoordinator(sessionRegistry, connections, revoker, logger, metrics)
//	orchestrator := sso.NewOrchestrator(coordinator, sessionTable, clientStore,
//		revoker, connections, sso.OrchestratorConfig{RegistrationID: "github"}, logger, metrics)
//
//	resp, err := orchestrator.Logout(ctx, authCtx, sso.ScopeGlobal)
//
// # HTTP Routes
//
//	GET  /sso/logout            logout options for the caller
//	POST /sso/logout            perform logout (form field logoutType)
//	POST /sso/api/logout        same, behind the API middleware
//	GET  /sso/api/status        authentication and connection status
//	GET  /sso/api/token         stored provider token status
//	GET  /login/oauth2          start the OAuth2 handshake
//	GET  /login/oauth2/callback finish the handshake
//	GET  /ws/logout             logout notification socket
package sso
