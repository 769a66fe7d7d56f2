package providers

import (
	"strings"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
)

// GitHubStrategy handles GitHub OAuth apps. GitHub has no given/family name
// split, only a free-form profile name and a login.
type GitHubStrategy struct{}

func (GitHubStrategy) ID() ID { return GitHub }

func (GitHubStrategy) Matches(c claims.Claims) bool {
	if c.Has(claims.GitHubLogin) || c.Has(claims.GitHubName) || c.Has(claims.GitHubURL) {
		return true
	}
	return strings.Contains(strings.ToLower(c.Get(claims.NameIdentifier)), "github")
}

func (GitHubStrategy) ExtractName(c claims.Claims) (string, string) {
	full := c.First(claims.GitHubName, claims.Name)
	if strings.Contains(full, " ") {
		return splitName(full)
	}
	if full == "" {
		full = c.Get(claims.GitHubLogin)
	}
	return full, ""
}

func (GitHubStrategy) DisplayName(c claims.Claims, fallback string) string {
	if n := c.First(claims.GitHubName, claims.Name, claims.GitHubLogin); n != "" {
		return n
	}
	return fallback
}
