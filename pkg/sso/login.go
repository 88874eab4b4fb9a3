package sso

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/ssosync/pkg/auth"
	"github.com/platinummonkey/ssosync/pkg/httputil"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/revocation"
)

const (
	stateCookieName = "sso_state"
	stateCookieTTL  = 10 * time.Minute
)

// SessionCreator creates framework sessions. *auth.SessionTable implements it.
type SessionCreator interface {
	Create(ctx context.Context, principal string) (auth.SessionInformation, error)
}

// TokenSaver stores the authorized client. *auth.ClientStore implements it.
type TokenSaver interface {
	Save(registrationID, principal string, token *oauth2.Token)
}

// Identifier resolves the user behind an access token
type Identifier interface {
	TokenInfo(ctx context.Context, token string) (*revocation.TokenInfo, bool)
}

// LoginSuccessFunc runs after a session was created for username
type LoginSuccessFunc func(ctx context.Context, username, sessionID, accessToken string) error

// LoginConfig configures the OAuth2 login handshake
type LoginConfig struct {
	OAuth2         *oauth2.Config
	RegistrationID string
	CookieName     string
	SecureCookies  bool
	RedirectTo     string
}

// LoginFlow runs the OAuth2 authorization code flow and turns a successful
// handshake into a framework session.
type LoginFlow struct {
	cfg       LoginConfig
	sessions  SessionCreator
	tokens    TokenSaver
	identify  Identifier
	onSuccess LoginSuccessFunc
	logger    *observability.Logger
}

// NewLoginFlow creates the login flow. onSuccess may be nil.
func NewLoginFlow(cfg LoginConfig, sessions SessionCreator, tokens TokenSaver, identify Identifier, onSuccess LoginSuccessFunc, logger *observability.Logger) *LoginFlow {
	return &LoginFlow{
		cfg:       cfg,
		sessions:  sessions,
		tokens:    tokens,
		identify:  identify,
		onSuccess: onSuccess,
		logger:    logger.WithField("component", "login_flow"),
	}
}

// RegisterOnLogin returns a LoginSuccessFunc that tracks the new session in c
func RegisterOnLogin(c *Coordinator) LoginSuccessFunc {
	return func(_ context.Context, username, sessionID, accessToken string) error {
		return c.RegisterSession(username, sessionID, accessToken)
	}
}

// InitiateLogin redirects to the provider's authorization endpoint
func (f *LoginFlow) InitiateLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   f.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, f.cfg.OAuth2.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback completes the handshake, creates the session and issues
// the session cookie.
func (f *LoginFlow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContextOr(ctx, f.logger)

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		httputil.WriteBadRequest(w, "invalid login state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/", MaxAge: -1})

	if providerErr := r.URL.Query().Get("error"); providerErr != "" {
		logger.WithField("provider_error", providerErr).Warn("Provider rejected login")
		httputil.WriteUnauthorized(w, "login was not authorized")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteBadRequest(w, "missing authorization code")
		return
	}

	token, err := f.cfg.OAuth2.Exchange(ctx, code)
	if err != nil {
		logger.WithError(err).Warn("Authorization code exchange failed")
		httputil.WriteBadGateway(w, "failed to complete login with the identity provider")
		return
	}

	username, err := f.username(ctx, token.AccessToken)
	if err != nil {
		logger.WithError(err).Warn("Could not identify user")
		httputil.WriteBadGateway(w, "failed to identify user")
		return
	}

	session, err := f.sessions.Create(ctx, username)
	if err != nil {
		logger.WithError(err).Error("Failed to create session")
		httputil.WriteInternalError(w, "failed to create session")
		return
	}
	f.tokens.Save(f.cfg.RegistrationID, username, token)

	if f.onSuccess != nil {
		if err := f.onSuccess(ctx, username, session.SessionID, token.AccessToken); err != nil {
			logger.WithError(err).WithField("username", username).Warn("Login success hook failed")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     f.cfg.CookieName,
		Value:    session.SessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   f.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	logger.WithFields(map[string]interface{}{
		"username":   username,
		"session_id": session.SessionID,
		"token":      revocation.MaskToken(token.AccessToken),
	}).Info("Login succeeded")

	http.Redirect(w, r, f.cfg.RedirectTo, http.StatusFound)
}

func (f *LoginFlow) username(ctx context.Context, accessToken string) (string, error) {
	info, ok := f.identify.TokenInfo(ctx, accessToken)
	if !ok {
		return "", errors.New("provider did not accept the new token")
	}
	if info.Login != "" {
		return info.Login, nil
	}
	if info.Subject != "" {
		return info.Subject, nil
	}
	return "", errors.New("provider returned no user identity")
}
