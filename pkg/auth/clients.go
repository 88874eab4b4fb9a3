package auth

import (
	"sync"

	"golang.org/x/oauth2"
)

type clientKey struct {
	registrationID string
	principal      string
}

// ClientStore keeps the OAuth2 token obtained at login, keyed by provider
// registration and principal name.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[clientKey]*oauth2.Token
}

// NewClientStore creates an empty store
func NewClientStore() *ClientStore {
	return &ClientStore{clients: make(map[clientKey]*oauth2.Token)}
}

// Save stores or replaces the token for (registrationID, principal)
func (s *ClientStore) Save(registrationID, principal string, token *oauth2.Token) {
	if token == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientKey{registrationID, principal}] = token
}

// Load returns the stored token, if any
func (s *ClientStore) Load(registrationID, principal string) (*oauth2.Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.clients[clientKey{registrationID, principal}]
	return token, ok
}

// AccessToken returns the stored access token string or "" when absent
func (s *ClientStore) AccessToken(registrationID, principal string) string {
	if token, ok := s.Load(registrationID, principal); ok {
		return token.AccessToken
	}
	return ""
}

// Remove forgets the token for (registrationID, principal)
func (s *ClientStore) Remove(registrationID, principal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientKey{registrationID, principal})
}
