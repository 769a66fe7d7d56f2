package connectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/oidc"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/providers"
	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/middleware"
	"golang.org/x/oauth2"
)

type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	// Verifier checks the id_token returned by the token endpoint.
	Verifier middleware.Verifier
}

// Microsoft signs users in through the Microsoft identity platform (v2.0).
type Microsoft struct {
	oauth    *oauth2.Config
	verifier middleware.Verifier
}

func NewMicrosoft(cfg MicrosoftConfig) *Microsoft {
	return &Microsoft{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{"openid", "profile", "email"},
		},
		verifier: cfg.Verifier,
	}
}

// DiscoverMicrosoft builds the connector from the tenant's discovery document.
// With insecure set, id_token signatures are not checked.
func DiscoverMicrosoft(ctx context.Context, tenant, clientID, clientSecret, redirectURL string, insecure bool) (*Microsoft, error) {
	v, err := oidc.NewMicrosoftVerifier(ctx, tenant, clientID)
	if err != nil {
		return nil, err
	}
	cfg := MicrosoftConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     v.Endpoint(),
		Verifier:     v,
	}
	if insecure {
		cfg.Verifier = oidc.NewInsecureVerifier()
	}
	return NewMicrosoft(cfg), nil
}

func (m *Microsoft) Provider() providers.ID { return providers.Microsoft }

func (m *Microsoft) AuthCodeURL(state, verifier string) string {
	return m.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier), oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (m *Microsoft) Exchange(ctx context.Context, code, verifier string) (claims.Claims, error) {
	tok, err := m.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("microsoft token exchange: %w", err)
	}
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, ErrNoIDToken
	}
	idt, err := m.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("microsoft id_token: %w", err)
	}
	var m2 map[string]interface{}
	if err := idt.Claims(&m2); err != nil {
		return nil, err
	}
	return microsoftClaims(claims.FromMap(m2)), nil
}

// microsoftClaims maps id_token claims onto the service's claim keys. The
// object id is stable across applications and preferred over the pairwise sub.
func microsoftClaims(in claims.Claims) claims.Claims {
	out := claims.Claims{
		claims.NameIdentifier:   in.First("oid", "sub"),
		claims.GivenName:        in.Get("given_name"),
		claims.Surname:          in.Get("family_name"),
		claims.Name:             in.Get("name"),
		claims.IdentityProvider: in.First("idp", "iss"),
		claims.TenantID:         in.Get("tid"),
	}
	out[claims.Email] = microsoftEmail(in)
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out
}

// consumerTenant is the tenant id of personal Microsoft accounts.
const consumerTenant = "9188040d-6c67-4c5b-b112-36a304b66dad"

// microsoftEmail returns an address only when Microsoft vouches for it.
// Work tenants may set email and preferred_username to anything, so their
// email counts only with xms_edov (email domain owner verified).
func microsoftEmail(in claims.Claims) string {
	if in.Get("tid") == consumerTenant {
		if email := in.Get("email"); email != "" {
			return email
		}
		if upn := in.Get("preferred_username"); strings.Contains(upn, "@") {
			return upn
		}
		return ""
	}
	switch in.Get("xms_edov") {
	case "true", "1":
		return in.Get("email")
	}
	return ""
}
