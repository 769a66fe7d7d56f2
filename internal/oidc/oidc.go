package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/middleware"
	"golang.org/x/oauth2"
)

// Verifier wraps the OIDC provider and token verifier
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewVerifier creates a new OIDC verifier for the given issuer and client ID
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

// multiTenant are the Microsoft authorities whose tokens carry the signing-in
// user's tenant in the issuer instead of the authority name.
var multiTenant = map[string]bool{"common": true, "organizations": true, "consumers": true}

// MicrosoftIssuer is the v2.0 authority for tenant.
func MicrosoftIssuer(tenant string) string {
	if tenant == "" {
		tenant = "common"
	}
	return "https://login.microsoftonline.com/" + tenant + "/v2.0"
}

// NewMicrosoftVerifier discovers the Microsoft identity platform for tenant.
// Multi-tenant authorities advertise a templated issuer, so the issuer check
// is skipped for them and left to the audience and signature checks.
func NewMicrosoftVerifier(ctx context.Context, tenant, clientID string) (*Verifier, error) {
	issuer := MicrosoftIssuer(tenant)
	if !multiTenant[strings.ToLower(tenant)] && tenant != "" {
		return NewVerifier(ctx, issuer, clientID)
	}
	dctx := oidc.InsecureIssuerURLContext(ctx, "https://login.microsoftonline.com/{tenantid}/v2.0")
	provider, err := oidc.NewProvider(dctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID, SkipIssuerCheck: true})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

// Verify verifies the provided raw ID token using the provided context and returns a middleware.Token
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}

// Endpoint is the provider's OAuth2 authorization and token endpoint.
func (v *Verifier) Endpoint() oauth2.Endpoint {
	return v.provider.Endpoint()
}
