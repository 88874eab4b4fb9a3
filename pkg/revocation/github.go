package revocation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

const githubAcceptHeader = "application/vnd.github.v3+json"

// GitHubProvider talks to the GitHub REST API. Grants are revoked with the
// OAuth app's own credentials; user info uses the token itself.
type GitHubProvider struct {
	baseURL      string
	clientID     string
	clientSecret string
	userAgent    string
	httpClient   *http.Client
	metrics      *observability.Metrics
}

// NewGitHubProvider creates a provider rooted at baseURL (https://api.github.com)
func NewGitHubProvider(baseURL, clientID, clientSecret, userAgent string, httpClient *http.Client, metrics *observability.Metrics) *GitHubProvider {
	return &GitHubProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		userAgent:    userAgent,
		httpClient:   httpClient,
		metrics:      metrics,
	}
}

func (p *GitHubProvider) Name() string { return "github" }

// RevokeGrant deletes the user's authorization of the OAuth app
func (p *GitHubProvider) RevokeGrant(ctx context.Context, token string) error {
	body, err := json.Marshal(map[string]string{"access_token": token})
	if err != nil {
		return fmt.Errorf("encode revoke request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/applications/%s/grant", p.baseURL, url.PathEscape(p.clientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create revoke request: %w", err)
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Accept", githubAcceptHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", p.userAgent)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	p.metrics.ObserveProviderRequest("revoke_grant", time.Since(start))
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent {
		return statusError("revoke grant", resp.StatusCode)
	}
	return nil
}

// UserInfo calls GET /user with the token as bearer credentials
func (p *GitHubProvider) UserInfo(ctx context.Context, token string) (map[string]interface{}, error) {
	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, p.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("create user info request: %w", err)
	}
	req.Header.Set("Accept", githubAcceptHeader)
	req.Header.Set("User-Agent", p.userAgent)

	start := time.Now()
	resp, err := client.Do(req)
	p.metrics.ObserveProviderRequest("user_info", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, statusError("user info", resp.StatusCode)
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	return claims, nil
}
