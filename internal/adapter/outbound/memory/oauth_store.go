package memory

import (
	"context"
	"sync"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/oauth"
)

// OAuthClientStore implements oauth.ClientStore as a process-local map.
// Client registrations do not survive a restart; a redeployed gateway
// simply forgets every dynamically registered client.
type OAuthClientStore struct {
	mu      sync.RWMutex
	clients map[string]*oauth.ClientRegistration
}

// NewOAuthClientStore constructs an empty client store.
func NewOAuthClientStore() *OAuthClientStore {
	return &OAuthClientStore{clients: make(map[string]*oauth.ClientRegistration)}
}

// Create registers a new client.
func (s *OAuthClientStore) Create(ctx context.Context, c *oauth.ClientRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.clients[c.ClientID] = &cp
	return nil
}

// Get looks up a client by id.
func (s *OAuthClientStore) Get(ctx context.Context, clientID string) (*oauth.ClientRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, oauth.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

var _ oauth.ClientStore = (*OAuthClientStore)(nil)

// OAuthCodeStore implements oauth.CodeStore as a process-local map guarded
// by a single mutex, so Consume's get-and-mark-consumed step is atomic.
type OAuthCodeStore struct {
	mu    sync.Mutex
	codes map[string]*oauth.AuthCodeGrant
}

// NewOAuthCodeStore constructs an empty code store.
func NewOAuthCodeStore() *OAuthCodeStore {
	return &OAuthCodeStore{codes: make(map[string]*oauth.AuthCodeGrant)}
}

// Create stores a freshly issued authorization code grant.
func (s *OAuthCodeStore) Create(ctx context.Context, g *oauth.AuthCodeGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.codes[g.Code] = &cp
	return nil
}

// Consume retrieves the grant for code and marks it consumed in the same
// locked step, so a concurrent second redemption observes Consumed=true.
func (s *OAuthCodeStore) Consume(ctx context.Context, code string) (*oauth.AuthCodeGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.codes[code]
	if !ok {
		return nil, oauth.ErrInvalidGrant
	}
	cp := *g
	g.Consumed = true
	return &cp, nil
}

var _ oauth.CodeStore = (*OAuthCodeStore)(nil)
