package revocation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

const (
	testClientID     = "client-id"
	testClientSecret = "client-secret"
	testToken        = "gho_abcdefghijklmnop"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
}

// fakeGitHub serves the two GitHub endpoints the client uses
type fakeGitHub struct {
	grantStatus int
	userStatus  int
	userDelay   time.Duration

	grantCalls atomic.Int32
	userCalls  atomic.Int32
}

func (f *fakeGitHub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/applications/"+testClientID+"/grant", func(w http.ResponseWriter, r *http.Request) {
		f.grantCalls.Add(1)
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, githubAcceptHeader, r.Header.Get("Accept"))
		assert.Equal(t, "ssosync-test", r.Header.Get("User-Agent"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, testClientID, user)
		assert.Equal(t, testClientSecret, pass)

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testToken, body["access_token"])

		w.WriteHeader(f.grantStatus)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		f.userCalls.Add(1)
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
		if f.userDelay > 0 {
			time.Sleep(f.userDelay)
		}
		if f.userStatus != http.StatusOK {
			w.WriteHeader(f.userStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"login": "alice",
			"id":    12345,
			"name":  "Alice",
		})
	})
	return mux
}

func newGitHubClient(t *testing.T, fake *fakeGitHub, timeout time.Duration, metrics *observability.Metrics) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	provider := NewGitHubProvider(srv.URL+"/", testClientID, testClientSecret, "ssosync-test", NewHTTPClient(time.Second, time.Second), metrics)
	return NewWithProvider(provider, timeout, testLogger(), metrics)
}

func TestClient_Revoke(t *testing.T) {
	tests := []struct {
		name          string
		grantStatus   int
		userStatus    int
		expected      bool
		expectedUsers int32
	}{
		{"grant deleted", http.StatusNoContent, http.StatusOK, true, 0},
		{"grant fails, token now invalid", http.StatusInternalServerError, http.StatusUnauthorized, true, 1},
		{"grant fails, token still valid", http.StatusNotFound, http.StatusOK, false, 1},
		{"unexpected success status is not confirmation", http.StatusOK, http.StatusOK, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeGitHub{grantStatus: tt.grantStatus, userStatus: tt.userStatus}
			client := newGitHubClient(t, fake, 5*time.Second, nil)

			assert.Equal(t, tt.expected, client.Revoke(context.Background(), testToken))
			assert.Equal(t, int32(1), fake.grantCalls.Load())
			assert.Equal(t, tt.expectedUsers, fake.userCalls.Load())
		})
	}
}

func TestClient_RevokeRecordsStrategyMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	fake := &fakeGitHub{grantStatus: http.StatusBadGateway, userStatus: http.StatusUnauthorized}
	client := newGitHubClient(t, fake, 5*time.Second, metrics)

	require.True(t, client.Revoke(context.Background(), testToken))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenRevocationsTotal.WithLabelValues("grant_deletion", "inconclusive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenRevocationsTotal.WithLabelValues("validation_check", "revoked")))
}

func TestClient_RevokeUnreachableProvider(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	provider := NewGitHubProvider(url, testClientID, testClientSecret, "ssosync-test", NewHTTPClient(200*time.Millisecond, 200*time.Millisecond), nil)
	client := NewWithProvider(provider, time.Second, testLogger(), nil)

	// both calls fail; a token the provider cannot confirm counts as invalid
	assert.True(t, client.Revoke(context.Background(), testToken))
	assert.False(t, client.Validate(context.Background(), testToken))
}

func TestClient_RevokeDirect(t *testing.T) {
	t.Run("token still accepted", func(t *testing.T) {
		fake := &fakeGitHub{userStatus: http.StatusOK}
		assert.False(t, newGitHubClient(t, fake, time.Second, nil).RevokeDirect(context.Background(), testToken))
		assert.Zero(t, fake.grantCalls.Load())
	})

	t.Run("token rejected", func(t *testing.T) {
		fake := &fakeGitHub{userStatus: http.StatusUnauthorized}
		assert.True(t, newGitHubClient(t, fake, time.Second, nil).RevokeDirect(context.Background(), testToken))
	})
}

func TestClient_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		fake := &fakeGitHub{userStatus: http.StatusOK}
		assert.True(t, newGitHubClient(t, fake, time.Second, nil).Validate(context.Background(), testToken))
	})

	t.Run("invalid", func(t *testing.T) {
		fake := &fakeGitHub{userStatus: http.StatusUnauthorized}
		assert.False(t, newGitHubClient(t, fake, time.Second, nil).Validate(context.Background(), testToken))
	})

	t.Run("timeout counts as invalid", func(t *testing.T) {
		fake := &fakeGitHub{userStatus: http.StatusOK, userDelay: 300 * time.Millisecond}
		client := newGitHubClient(t, fake, 50*time.Millisecond, nil)

		start := time.Now()
		assert.False(t, client.Validate(context.Background(), testToken))
		assert.Less(t, time.Since(start), 250*time.Millisecond)
	})
}

func TestClient_TokenInfo(t *testing.T) {
	client := newGitHubClient(t, &fakeGitHub{userStatus: http.StatusOK}, time.Second, nil)

	info, ok := client.TokenInfo(context.Background(), testToken)
	require.True(t, ok)
	assert.Equal(t, "alice", info.Login)
	assert.Equal(t, "12345", info.Subject)
	assert.Equal(t, "Alice", info.Name)

	rejecting := newGitHubClient(t, &fakeGitHub{userStatus: http.StatusUnauthorized}, time.Second, nil)
	info, ok = rejecting.TokenInfo(context.Background(), testToken)
	assert.False(t, ok)
	assert.Nil(t, info)
}

func TestClient_EmptyToken(t *testing.T) {
	fake := &fakeGitHub{grantStatus: http.StatusNoContent, userStatus: http.StatusOK}
	client := newGitHubClient(t, fake, time.Second, nil)
	ctx := context.Background()

	assert.False(t, client.Revoke(ctx, ""))
	assert.False(t, client.RevokeDirect(ctx, ""))
	assert.False(t, client.Validate(ctx, ""))
	_, ok := client.TokenInfo(ctx, "")
	assert.False(t, ok)

	assert.Zero(t, fake.grantCalls.Load())
	assert.Zero(t, fake.userCalls.Load())
}

func TestNew_UnsupportedKind(t *testing.T) {
	_, err := New(context.Background(), Config{Kind: "saml", ConnectTimeout: time.Second, ReadTimeout: time.Second}, testLogger(), nil)
	assert.ErrorContains(t, err, "unsupported provider kind")
}

func TestNew_GitHubDefault(t *testing.T) {
	client, err := New(context.Background(), Config{APIBaseURL: "https://api.github.com", ConnectTimeout: time.Second, ReadTimeout: time.Second}, testLogger(), nil)
	require.NoError(t, err)
	assert.Equal(t, "github", client.Provider().Name())
}
