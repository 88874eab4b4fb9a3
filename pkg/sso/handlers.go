package sso

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ssosync/pkg/httputil"
	"github.com/platinummonkey/ssosync/pkg/middleware"
	"github.com/platinummonkey/ssosync/pkg/notify"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/revocation"
)

// ConnectionCounter reports live push connections. *notify.Registry implements it.
type ConnectionCounter interface {
	ActiveCount() int
}

// TokenInspector checks a provider token. *revocation.Client implements it.
type TokenInspector interface {
	Validate(ctx context.Context, token string) bool
	TokenInfo(ctx context.Context, token string) (*revocation.TokenInfo, bool)
}

// HandlersConfig holds HTTP-level settings
type HandlersConfig struct {
	CookieName     string
	SecureCookies  bool
	DefaultScope   LogoutScope
	RegistrationID string
}

// Dependencies are the components the HTTP handlers serve
type Dependencies struct {
	Orchestrator *Orchestrator
	Coordinator  *Coordinator
	Connections  ConnectionCounter
	Tokens       TokenStore
	Inspector    TokenInspector
	Login        *LoginFlow
	Push         http.Handler
}

// Handlers handles logout, status and login HTTP requests
type Handlers struct {
	deps   Dependencies
	cfg    HandlersConfig
	logger *observability.Logger
}

// NewHandlers creates the HTTP handlers
func NewHandlers(deps Dependencies, cfg HandlersConfig, logger *observability.Logger) *Handlers {
	if cfg.DefaultScope == "" {
		cfg.DefaultScope = ScopeComplete
	}
	return &Handlers{
		deps:   deps,
		cfg:    cfg,
		logger: logger.WithField("component", "sso_handlers"),
	}
}

// RegisterRoutes registers the SSO routes. apiMiddleware wraps /sso/api only.
func (h *Handlers) RegisterRoutes(router *mux.Router, apiMiddleware ...mux.MiddlewareFunc) {
	router.HandleFunc("/sso/logout", h.logoutInfo).Methods(http.MethodGet)
	router.HandleFunc("/sso/logout", h.logout).Methods(http.MethodPost)

	api := router.PathPrefix("/sso/api").Subrouter()
	api.Use(apiMiddleware...)
	api.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	api.HandleFunc("/status", h.status).Methods(http.MethodGet)
	api.HandleFunc("/token", h.tokenStatus).Methods(http.MethodGet)

	if h.deps.Login != nil {
		router.HandleFunc("/login/oauth2", h.deps.Login.InitiateLogin).Methods(http.MethodGet)
		router.HandleFunc("/login/oauth2/callback", h.deps.Login.HandleCallback).Methods(http.MethodGet)
	}
	if h.deps.Push != nil {
		router.Handle("/ws/logout", h.deps.Push).Methods(http.MethodGet)
	}
}

// PushIdentity identifies a /ws/logout upgrade from the authenticated
// session, falling back to the X-Session-ID and X-Username headers.
func PushIdentity(r *http.Request) (string, string) {
	if authCtx := middleware.GetAuthContext(r); authCtx.IsAuthenticated() {
		return authCtx.SessionID, authCtx.Username
	}
	return notify.HeaderIdentity(r)
}

// logoutInfo handles GET /sso/logout
func (h *Handlers) logoutInfo(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if !authCtx.IsAuthenticated() {
		writeNotAuthenticated(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"username":           authCtx.Username,
		"activeSessionCount": h.deps.Coordinator.ActiveSessionCount(authCtx.Username),
		"logoutTypes":        []LogoutScope{ScopeLocal, ScopeComplete, ScopeGlobal},
		"defaultLogoutType":  h.cfg.DefaultScope,
	})
}

// logout handles POST /sso/logout and POST /sso/api/logout
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContextOr(r.Context(), h.logger)

	authCtx := middleware.GetAuthContext(r)
	if !authCtx.IsAuthenticated() {
		writeNotAuthenticated(w)
		return
	}

	scope, err := ParseLogoutScope(httputil.ParseFormString(r, "logoutType", ""), h.cfg.DefaultScope)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.deps.Orchestrator.Logout(r.Context(), authCtx, scope)
	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrMissingUsername):
		writeNotAuthenticated(w)
		return
	case err != nil:
		logger.WithError(err).Error("Logout failed")
		httputil.WriteInternalError(w, "logout failed")
		return
	}

	h.clearSessionCookie(w)
	logger.WithFields(map[string]interface{}{
		"username":    authCtx.Username,
		"logout_type": scope,
		"expired":     resp.ExpiredSessions,
		"success":     resp.Success,
	}).Info("Logout completed")
	httputil.WriteSuccess(w, resp)
}

// status handles GET /sso/api/status
func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"authenticated":        false,
		"activeWebSocketCount": h.activeConnections(),
	}

	if authCtx := middleware.GetAuthContext(r); authCtx.IsAuthenticated() {
		body["authenticated"] = true
		body["username"] = authCtx.Username
		body["activeSessionCount"] = h.deps.Coordinator.ActiveSessionCount(authCtx.Username)
	}
	httputil.WriteSuccess(w, body)
}

// tokenStatus handles GET /sso/api/token
func (h *Handlers) tokenStatus(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if !authCtx.IsAuthenticated() {
		writeNotAuthenticated(w)
		return
	}

	var token string
	if h.deps.Tokens != nil {
		registrationID := authCtx.RegistrationID
		if registrationID == "" {
			registrationID = h.cfg.RegistrationID
		}
		token = h.deps.Tokens.AccessToken(registrationID, authCtx.Username)
	}

	body := map[string]interface{}{
		"username": authCtx.Username,
		"hasToken": token != "",
	}
	if token != "" && h.deps.Inspector != nil {
		body["maskedToken"] = revocation.MaskToken(token)
		body["valid"] = h.deps.Inspector.Validate(r.Context(), token)
		if info, ok := h.deps.Inspector.TokenInfo(r.Context(), token); ok {
			body["tokenInfo"] = info
		}
	}
	httputil.WriteSuccess(w, body)
}

func (h *Handlers) activeConnections() int {
	if h.deps.Connections == nil {
		return 0
	}
	return h.deps.Connections.ActiveCount()
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
	})
}

func writeNotAuthenticated(w http.ResponseWriter) {
	httputil.WriteUnauthorized(w, "Not authenticated")
}
