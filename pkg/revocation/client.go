package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

// Config configures the provider used for revocation
type Config struct {
	// Kind is "github" or "oidc"
	Kind           string
	ClientID       string
	ClientSecret   string
	APIBaseURL     string
	IssuerURL      string
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Client revokes and inspects provider access tokens. Every call is bounded
// by the connect and read timeouts and never returns an error: failures are
// folded into the boolean results.
type Client struct {
	provider Provider
	timeout  time.Duration
	logger   *observability.Logger

	revokeChain *Chain
	directChain *Chain
}

// New creates a client for cfg. OIDC providers are discovered immediately.
func New(ctx context.Context, cfg Config, logger *observability.Logger, metrics *observability.Metrics) (*Client, error) {
	httpClient := NewHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout)

	var provider Provider
	switch cfg.Kind {
	case "", "github":
		provider = NewGitHubProvider(cfg.APIBaseURL, cfg.ClientID, cfg.ClientSecret, cfg.UserAgent, httpClient, metrics)
	case "oidc":
		p, err := NewOIDCProvider(ctx, cfg.IssuerURL, cfg.ClientID, cfg.ClientSecret, cfg.UserAgent, httpClient, metrics)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", cfg.Kind)
	}

	return NewWithProvider(provider, cfg.ConnectTimeout+cfg.ReadTimeout, logger, metrics), nil
}

// NewWithProvider wires the revocation chains around an existing provider.
// timeout bounds each provider call; zero means no extra bound.
func NewWithProvider(provider Provider, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Client {
	c := &Client{
		provider: provider,
		timeout:  timeout,
		logger:   logger.WithFields(map[string]interface{}{"component": "token_revocation", "provider": provider.Name()}),
	}

	c.revokeChain = NewChain(c.logger, metrics,
		StrategyFunc{StrategyName: "grant_deletion", Fn: c.grantDeletion},
		StrategyFunc{StrategyName: "validation_check", Fn: c.validationCheck},
	)
	c.directChain = NewChain(c.logger, metrics,
		StrategyFunc{StrategyName: "user_info_probe", Fn: c.validationCheck},
	)
	return c
}

// Provider returns the underlying provider
func (c *Client) Provider() Provider { return c.provider }

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// grantDeletion is conclusive only on confirmed revocation
func (c *Client) grantDeletion(ctx context.Context, token string) Outcome {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.provider.RevokeGrant(ctx, token); err != nil {
		c.logger.WithError(err).WithField("token", MaskToken(token)).Warn("Grant revocation failed, checking token validity")
		return Inconclusive
	}
	return Revoked
}

// validationCheck treats a token the provider no longer accepts as revoked
func (c *Client) validationCheck(ctx context.Context, token string) Outcome {
	if c.Validate(ctx, token) {
		return Failed
	}
	return Revoked
}

// Revoke revokes token at the provider. It returns true when the grant was
// deleted or when the provider no longer accepts the token.
func (c *Client) Revoke(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	outcome, strategy := c.revokeChain.Run(ctx, token)
	log := c.logger.WithFields(map[string]interface{}{
		"token":    MaskToken(token),
		"strategy": strategy,
	})
	if outcome == Revoked {
		log.Info("Access token revoked")
		return true
	}
	log.Warn("Access token is still valid after revocation attempt")
	return false
}

// RevokeDirect is the last resort after Revoke failed: it probes the token
// once more and returns true only if the provider now rejects it. A false
// result means the user has to revoke the grant manually.
func (c *Client) RevokeDirect(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	outcome, _ := c.directChain.Run(ctx, token)
	if outcome == Revoked {
		c.logger.WithField("token", MaskToken(token)).Info("Access token no longer accepted by provider")
		return true
	}
	c.logger.WithField("token", MaskToken(token)).Warn("Access token still accepted, manual revocation required")
	return false
}

// Validate reports whether the provider still accepts token. Any failure
// counts as invalid.
func (c *Client) Validate(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.provider.UserInfo(ctx, token); err != nil {
		c.logger.WithError(err).WithField("token", MaskToken(token)).Debug("Token validation failed")
		return false
	}
	return true
}

// TokenInfo returns profile data for token, or false when the provider does
// not accept it.
func (c *Client) TokenInfo(ctx context.Context, token string) (*TokenInfo, bool) {
	if token == "" {
		return nil, false
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	claims, err := c.provider.UserInfo(ctx, token)
	if err != nil {
		c.logger.WithError(err).WithField("token", MaskToken(token)).Debug("Token info unavailable")
		return nil, false
	}
	return newTokenInfo(claims), true
}
