// Package claims holds the key/value view over an authenticated principal.
package claims

import (
	"fmt"
	"strconv"
	"strings"
)

// Claim keys understood by the identity service.
const (
	NameIdentifier   = "sub"
	Email            = "email"
	GivenName        = "given_name"
	Surname          = "family_name"
	Name             = "name"
	IdentityProvider = "idp"
	TenantID         = "tid"

	GitHubLogin = "urn:github:login"
	GitHubName  = "urn:github:name"
	GitHubURL   = "urn:github:url"

	// set on local session tokens
	UserID    = "uid"
	SessionID = "sid"
)

// Claims is a plain claim lookup. Keys are case sensitive.
type Claims map[string]string

// Get returns the trimmed value of key or "".
func (c Claims) Get(key string) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c[key])
}

// Has reports whether key is present with a non-blank value.
func (c Claims) Has(key string) bool {
	return c.Get(key) != ""
}

// First returns the first non-blank value among keys.
func (c Claims) First(keys ...string) string {
	for _, k := range keys {
		if v := c.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func (c Claims) Clone() Claims {
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// FromMap converts a decoded JSON claim set. Non-string scalars are formatted,
// nested values are dropped.
func FromMap(m map[string]interface{}) Claims {
	out := make(Claims, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case bool:
			out[k] = strconv.FormatBool(t)
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case int, int64, int32:
			out[k] = fmt.Sprintf("%d", t)
		}
	}
	return out
}

// Principal is the caller as seen by the reconciliation flow.
type Principal struct {
	Claims        Claims
	Authenticated bool
}

// Anonymous returns an unauthenticated principal.
func Anonymous() Principal {
	return Principal{Claims: Claims{}}
}

func (p Principal) IsAuthenticated() bool {
	return p.Authenticated
}
