package revocation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIssuer struct {
	srv             *httptest.Server
	advertiseRevoke bool
	revokeStatus    int
	userInfoStatus  atomic.Int32

	mu               sync.Mutex
	revokedToken     string
	revokeClientUser string
}

func (f *fakeIssuer) revoked() (token, clientUser string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedToken, f.revokeClientUser
}

func newFakeIssuer(t *testing.T, advertiseRevoke bool) *fakeIssuer {
	f := &fakeIssuer{advertiseRevoke: advertiseRevoke, revokeStatus: http.StatusOK}
	f.userInfoStatus.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]interface{}{
			"issuer":                 f.srv.URL,
			"authorization_endpoint": f.srv.URL + "/authorize",
			"token_endpoint":         f.srv.URL + "/token",
			"jwks_uri":               f.srv.URL + "/keys",
			"userinfo_endpoint":      f.srv.URL + "/userinfo",
		}
		if f.advertiseRevoke {
			doc["revocation_endpoint"] = f.srv.URL + "/revoke"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "access_token", r.PostForm.Get("token_type_hint"))
		f.mu.Lock()
		f.revokedToken = r.PostForm.Get("token")
		f.revokeClientUser, _, _ = r.BasicAuth()
		f.mu.Unlock()
		w.WriteHeader(f.revokeStatus)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if status := int(f.userInfoStatus.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":                "user-1",
			"preferred_username": "alice",
			"email":              "alice@example.com",
		})
	})

	f.srv = httptest.NewUnstartedServer(mux)
	f.srv.Start()
	t.Cleanup(f.srv.Close)
	return f
}

func newOIDCClient(t *testing.T, issuer *fakeIssuer) *Client {
	t.Helper()
	client, err := New(context.Background(), Config{
		Kind:           "oidc",
		ClientID:       testClientID,
		ClientSecret:   testClientSecret,
		IssuerURL:      issuer.srv.URL,
		UserAgent:      "ssosync-test",
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	}, testLogger(), nil)
	require.NoError(t, err)
	return client
}

func TestOIDC_RevokeThroughEndpoint(t *testing.T) {
	issuer := newFakeIssuer(t, true)
	client := newOIDCClient(t, issuer)

	assert.Equal(t, "oidc", client.Provider().Name())
	assert.True(t, client.Revoke(context.Background(), testToken))
	token, clientUser := issuer.revoked()
	assert.Equal(t, testToken, token)
	assert.Equal(t, testClientID, clientUser)
}

func TestOIDC_FallsBackToValidationWithoutEndpoint(t *testing.T) {
	issuer := newFakeIssuer(t, false)
	client := newOIDCClient(t, issuer)

	assert.False(t, client.Revoke(context.Background(), testToken), "token still valid")

	issuer.userInfoStatus.Store(http.StatusUnauthorized)
	assert.True(t, client.Revoke(context.Background(), testToken), "token rejected")
	token, _ := issuer.revoked()
	assert.Empty(t, token)
}

func TestOIDC_TokenInfo(t *testing.T) {
	client := newOIDCClient(t, newFakeIssuer(t, true))

	info, ok := client.TokenInfo(context.Background(), testToken)
	require.True(t, ok)
	assert.Equal(t, "user-1", info.Subject)
	assert.Equal(t, "alice", info.Login)
	assert.Equal(t, "alice@example.com", info.Email)
}

func TestOIDC_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(context.Background(), Config{
		Kind:           "oidc",
		IssuerURL:      srv.URL,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	}, testLogger(), nil)
	assert.ErrorContains(t, err, "failed to discover OIDC provider")
}
