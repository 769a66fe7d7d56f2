// Package handshake keeps the server side of an in-flight OAuth redirect:
// the anti-forgery state token, the PKCE verifier and the return URL.
package handshake

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

const DefaultTTL = 10 * time.Minute

var (
	ErrStateNotFound    = errors.New("oauth state not found")
	ErrStateExpired     = errors.New("oauth state expired")
	ErrProviderMismatch = errors.New("oauth state issued for another provider")
)

// State is one pending challenge.
type State struct {
	Token        string    `json:"token"`
	Provider     string    `json:"provider"`
	ReturnURL    string    `json:"returnUrl,omitempty"`
	CodeVerifier string    `json:"codeVerifier"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Repository stores states. Take returns the state and removes it, so a state
// can be redeemed once; (nil, nil) when absent.
type Repository interface {
	Save(ctx context.Context, s *State) error
	Take(ctx context.Context, token string) (*State, error)
}

type Service struct {
	repo Repository
	ttl  time.Duration
}

func NewService(r Repository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{repo: r, ttl: ttl}
}

// Begin creates and stores a fresh state for provider.
func (s *Service) Begin(ctx context.Context, provider, returnURL string) (*State, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	st := &State{
		Token:        base64.RawURLEncoding.EncodeToString(b),
		Provider:     provider,
		ReturnURL:    returnURL,
		CodeVerifier: oauth2.GenerateVerifier(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.repo.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Consume redeems token for provider. The state is gone afterwards whatever
// the outcome.
func (s *Service) Consume(ctx context.Context, token, provider string) (*State, error) {
	if token == "" {
		return nil, ErrStateNotFound
	}
	st, err := s.repo.Take(ctx, token)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrStateNotFound
	}
	if time.Now().UTC().After(st.ExpiresAt) {
		return nil, ErrStateExpired
	}
	if st.Provider != provider {
		return nil, ErrProviderMismatch
	}
	return st, nil
}
