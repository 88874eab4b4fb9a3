package revocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

// errNoRevocationEndpoint is returned when discovery did not advertise an
// RFC 7009 endpoint; the chain then falls back to validation.
var errNoRevocationEndpoint = errors.New("provider does not advertise a revocation endpoint")

// OIDCProvider revokes through the RFC 7009 endpoint found by discovery and
// validates through the UserInfo endpoint.
type OIDCProvider struct {
	provider      *oidc.Provider
	revocationURL string
	clientID      string
	clientSecret  string
	userAgent     string
	httpClient    *http.Client
	metrics       *observability.Metrics
}

// NewOIDCProvider runs discovery against issuerURL
func NewOIDCProvider(ctx context.Context, issuerURL, clientID, clientSecret, userAgent string, httpClient *http.Client, metrics *observability.Metrics) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	var claims struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to read discovery document: %w", err)
	}

	return &OIDCProvider{
		provider:      provider,
		revocationURL: claims.RevocationEndpoint,
		clientID:      clientID,
		clientSecret:  clientSecret,
		userAgent:     userAgent,
		httpClient:    httpClient,
		metrics:       metrics,
	}, nil
}

func (p *OIDCProvider) Name() string { return "oidc" }

// Endpoint exposes the discovered OAuth2 endpoints for the login flow
func (p *OIDCProvider) Endpoint() oauth2.Endpoint {
	return p.provider.Endpoint()
}

// RevokeGrant posts the token to the revocation endpoint
func (p *OIDCProvider) RevokeGrant(ctx context.Context, token string) error {
	if p.revocationURL == "" {
		return errNoRevocationEndpoint
	}

	form := url.Values{
		"token":           {token},
		"token_type_hint": {"access_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create revoke request: %w", err)
	}
	req.SetBasicAuth(url.QueryEscape(p.clientID), url.QueryEscape(p.clientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", p.userAgent)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	p.metrics.ObserveProviderRequest("revoke_grant", time.Since(start))
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError("revoke token", resp.StatusCode)
	}
	return nil
}

// UserInfo fetches claims from the UserInfo endpoint
func (p *OIDCProvider) UserInfo(ctx context.Context, token string) (map[string]interface{}, error) {
	start := time.Now()
	info, err := p.provider.UserInfo(
		oidc.ClientContext(ctx, p.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
	)
	p.metrics.ObserveProviderRequest("user_info", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}

	claims := map[string]interface{}{}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	return claims, nil
}
