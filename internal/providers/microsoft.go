package providers

import (
	"strings"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
)

// MicrosoftStrategy handles Entra ID and personal Microsoft accounts.
type MicrosoftStrategy struct{}

func (MicrosoftStrategy) ID() ID { return Microsoft }

func (MicrosoftStrategy) Matches(c claims.Claims) bool {
	if c.Has(claims.IdentityProvider) || c.Has(claims.TenantID) {
		return true
	}
	sub := strings.ToLower(c.Get(claims.NameIdentifier))
	return strings.Contains(sub, "microsoftonline") || strings.Contains(sub, "live.com")
}

func (MicrosoftStrategy) ExtractName(c claims.Claims) (string, string) {
	return genericName(c)
}

func (MicrosoftStrategy) DisplayName(c claims.Claims, fallback string) string {
	if n := c.Get(claims.Name); n != "" {
		return n
	}
	if full := strings.TrimSpace(c.Get(claims.GivenName) + " " + c.Get(claims.Surname)); full != "" {
		return full
	}
	return fallback
}
