package client

import (
	"context"
	"sync"

	"bizledger/internal/api"
)

// Session ties the change feed to the signed-in identity: signing in starts
// it, signing out stops it and drops the owner's cache.
type Session struct {
	client *Client

	mu   sync.Mutex
	sub  *Subscription
	user api.User
}

func NewSession(c *Client) *Session {
	return &Session{client: c}
}

func (s *Session) Client() *Client { return s.client }

func (s *Session) User() api.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) SignIn(ctx context.Context, email, password string) (api.User, error) {
	resp, err := s.client.Login(ctx, email, password)
	if err != nil {
		return api.User{}, err
	}
	return resp.User, s.begin(resp.User)
}

func (s *Session) SignUp(ctx context.Context, email, password, displayName string) (api.User, error) {
	resp, err := s.client.Register(ctx, email, password, displayName)
	if err != nil {
		return api.User{}, err
	}
	return resp.User, s.begin(resp.User)
}

// Resume restores a session from a stored token.
func (s *Session) Resume(ctx context.Context, token string) (api.User, error) {
	user, err := s.client.Authenticate(ctx, token)
	if err != nil {
		return api.User{}, err
	}
	return user, s.begin(user)
}

func (s *Session) begin(user api.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.Stop()
	}
	s.user = user
	s.sub = s.client.Subscribe()
	// The feed outlives the sign-in call's context; SignOut ends it.
	return s.sub.Start(context.Background(), user.ID)
}

// Subscription exposes the live feed, nil when signed out.
func (s *Session) Subscription() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

func (s *Session) SignOut() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.user = api.User{}
	s.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
	s.client.ClearSession()
}
