package revocation

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the identity provider surface revocation needs
type Provider interface {
	// Name identifies the provider kind in logs
	Name() string
	// RevokeGrant asks the provider to revoke token. A nil error means the
	// provider confirmed revocation.
	RevokeGrant(ctx context.Context, token string) error
	// UserInfo fetches the profile the token grants access to. Any error
	// means the token was not accepted.
	UserInfo(ctx context.Context, token string) (map[string]interface{}, error)
}

// ErrUnexpectedStatus wraps non-success provider responses
var ErrUnexpectedStatus = errors.New("unexpected provider status")

func statusError(op string, code int) error {
	return fmt.Errorf("%s: %w %d", op, ErrUnexpectedStatus, code)
}

// TokenInfo is diagnostic profile data for a token
type TokenInfo struct {
	Subject string                 `json:"subject,omitempty"`
	Login   string                 `json:"login,omitempty"`
	Name    string                 `json:"name,omitempty"`
	Email   string                 `json:"email,omitempty"`
	Claims  map[string]interface{} `json:"claims,omitempty"`
}

func newTokenInfo(claims map[string]interface{}) *TokenInfo {
	info := &TokenInfo{
		Subject: getStringValue(claims, "sub"),
		Login:   getStringValue(claims, "login"),
		Name:    getStringValue(claims, "name"),
		Email:   getStringValue(claims, "email"),
		Claims:  claims,
	}
	if info.Subject == "" {
		info.Subject = getStringValue(claims, "id")
	}
	if info.Login == "" {
		info.Login = getStringValue(claims, "preferred_username")
	}
	return info
}

// getStringValue reads a claim as a string; numeric ids are formatted
func getStringValue(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
