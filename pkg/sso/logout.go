package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/ssosync/pkg/auth"
	"github.com/platinummonkey/ssosync/pkg/observability"
)

// LocalLogout ends one framework session. *auth.SessionTable implements it.
type LocalLogout interface {
	Invalidate(ctx context.Context, sessionID string) error
}

// TokenStore is the authorized-client store. *auth.ClientStore implements it.
type TokenStore interface {
	AccessToken(registrationID, principal string) string
	Remove(registrationID, principal string)
}

// DirectRevoker is the last resort when the revocation chain fails
type DirectRevoker interface {
	RevokeDirect(ctx context.Context, token string) bool
}

// Broadcaster pushes BROADCAST_LOGOUT to every connection of a user
type Broadcaster interface {
	Broadcast(username, reason string) int
}

// OrchestratorConfig holds the settings the orchestrator needs
type OrchestratorConfig struct {
	RegistrationID      string
	ManualRevocationURL string
}

// Orchestrator implements the local, complete and global logout modes on
// top of the Coordinator.
type Orchestrator struct {
	coordinator *Coordinator
	local       LocalLogout
	tokens      TokenStore
	direct      DirectRevoker
	broadcaster Broadcaster
	cfg         OrchestratorConfig
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewOrchestrator wires the logout modes. direct and broadcaster may be nil.
func NewOrchestrator(coordinator *Coordinator, local LocalLogout, tokens TokenStore, direct DirectRevoker, broadcaster Broadcaster, cfg OrchestratorConfig, logger *observability.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		coordinator: coordinator,
		local:       local,
		tokens:      tokens,
		direct:      direct,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger.WithField("component", "logout_orchestrator"),
		metrics:     metrics,
	}
}

// Logout runs scope for the authenticated caller. The requesting session is
// always logged out locally; the response reports what else succeeded.
// Work continues even if ctx is cancelled by a client disconnect.
func (o *Orchestrator) Logout(ctx context.Context, authCtx *auth.AuthContext, scope LogoutScope) (LogoutResponse, error) {
	if !authCtx.IsAuthenticated() {
		return LogoutResponse{}, ErrUnauthenticated
	}
	ctx = context.WithoutCancel(ctx)

	var (
		resp LogoutResponse
		err  error
	)
	switch scope {
	case ScopeLocal:
		resp = o.logoutLocal(ctx, authCtx)
	case ScopeComplete:
		resp, err = o.logoutComplete(ctx, authCtx)
	case ScopeGlobal:
		resp, err = o.logoutGlobal(ctx, authCtx)
	default:
		return LogoutResponse{}, fmt.Errorf("%w: %q", ErrInvalidLogoutScope, scope)
	}
	if err != nil {
		return LogoutResponse{}, err
	}

	resp.LogoutType = scope
	o.metrics.RecordLogout(string(scope), resp.Success, resp.ExpiredSessions, resp.FailedSessions)
	return resp, nil
}

func (o *Orchestrator) logoutLocal(ctx context.Context, authCtx *auth.AuthContext) LogoutResponse {
	o.invalidateCurrent(ctx, authCtx)
	return LogoutResponse{
		Success:         true,
		Message:         "Logged out of the current session",
		TokenRevocation: TokenNotAttempted,
	}
}

func (o *Orchestrator) logoutComplete(ctx context.Context, authCtx *auth.AuthContext) (LogoutResponse, error) {
	result, err := o.coordinator.PerformSingleSignOut(ctx, authCtx.Username, authCtx.SessionID, WithoutTokenRevocation())
	if err != nil {
		return LogoutResponse{}, err
	}

	o.invalidateCurrent(ctx, authCtx)
	o.forgetToken(authCtx)
	o.broadcast(authCtx.Username, "You have been logged out of all sessions")
	return responseFrom(result, result.Message), nil
}

func (o *Orchestrator) logoutGlobal(ctx context.Context, authCtx *auth.AuthContext) (LogoutResponse, error) {
	var stored string
	if o.tokens != nil {
		stored = o.tokens.AccessToken(o.registrationID(authCtx), authCtx.Username)
	}

	result, err := o.coordinator.PerformSingleSignOut(ctx, authCtx.Username, authCtx.SessionID, WithFallbackToken(stored))
	if err != nil {
		return LogoutResponse{}, err
	}

	message := result.Message
	if result.TokenRevocation == TokenRevocationFailed {
		if o.revokeDirect(ctx, result.token) {
			result.TokenRevocation = TokenRevoked
			message += "; provider token confirmed invalid"
		} else {
			message += fmt.Sprintf("; your provider access may still be active, revoke it manually at %s", o.cfg.ManualRevocationURL)
		}
	}

	o.invalidateCurrent(ctx, authCtx)
	o.forgetToken(authCtx)
	if result.TokenRevoked() {
		o.broadcast(authCtx.Username, "You have been logged out everywhere and provider access was revoked")
	} else {
		o.broadcast(authCtx.Username, "You have been logged out everywhere; provider access could not be revoked")
	}
	return responseFrom(result, message), nil
}

func responseFrom(result LogoutResult, message string) LogoutResponse {
	return LogoutResponse{
		Success:         result.Success,
		Message:         message,
		ExpiredSessions: len(result.ExpiredSessions),
		FailedSessions:  len(result.FailedSessions),
		TokenRevoked:    result.TokenRevoked(),
		TokenRevocation: result.TokenRevocation,
	}
}

func (o *Orchestrator) registrationID(authCtx *auth.AuthContext) string {
	if authCtx.RegistrationID != "" {
		return authCtx.RegistrationID
	}
	return o.cfg.RegistrationID
}

func (o *Orchestrator) invalidateCurrent(ctx context.Context, authCtx *auth.AuthContext) {
	if authCtx.SessionID == "" || o.local == nil {
		return
	}
	err := o.local.Invalidate(ctx, authCtx.SessionID)
	if err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
		o.logger.WithError(err).WithField("session_id", authCtx.SessionID).Warn("Local logout failed")
	}
}

func (o *Orchestrator) forgetToken(authCtx *auth.AuthContext) {
	if o.tokens != nil {
		o.tokens.Remove(o.registrationID(authCtx), authCtx.Username)
	}
}

func (o *Orchestrator) revokeDirect(ctx context.Context, token string) (ok bool) {
	if o.direct == nil || token == "" {
		return false
	}
	defer observability.RecoverPanicWithCallback(o.logger, "direct token revocation", func() { ok = false })
	return o.direct.RevokeDirect(ctx, token)
}

func (o *Orchestrator) broadcast(username, reason string) {
	if o.broadcaster == nil {
		return
	}
	defer observability.RecoverPanic(o.logger, "logout broadcast")
	o.broadcaster.Broadcast(username, reason)
}
