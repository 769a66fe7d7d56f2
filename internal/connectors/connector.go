// Package connectors talks to the external identity providers: it builds the
// consent redirect and turns an authorization code into a claim set.
package connectors

import (
	"context"
	"errors"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/providers"
)

var ErrNoIDToken = errors.New("token response carries no id_token")

// Connector is one configured identity provider.
type Connector interface {
	Provider() providers.ID
	// AuthCodeURL is the consent URL; verifier is the PKCE code verifier.
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (claims.Claims, error)
}

// Set holds the configured connectors by provider.
type Set map[providers.ID]Connector

func NewSet(list ...Connector) Set {
	s := make(Set, len(list))
	for _, c := range list {
		s[c.Provider()] = c
	}
	return s
}

func (s Set) Get(id providers.ID) (Connector, bool) {
	c, ok := s[id]
	return c, ok
}
