// Package providers classifies external principals and reads their names.
package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/models"
)

// ID is the canonical name of a supported identity provider.
type ID string

const (
	Microsoft ID = "Microsoft"
	GitHub    ID = "GitHub"
)

func (id ID) String() string { return string(id) }

// Slug is the lower-case form used in routes and cookies.
func (id ID) Slug() string { return strings.ToLower(string(id)) }

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrUnknownProvider     = errors.New("unable to determine provider from claims")
	ErrNoEmailClaim        = errors.New("email claim not found")
)

// UnsupportedProviderError carries the raw name that failed normalization.
type UnsupportedProviderError struct {
	Name string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("Unsupported provider: %s", e.Name)
}

func (e *UnsupportedProviderError) Is(target error) bool {
	return target == ErrUnsupportedProvider
}

// Strategy knows how one provider shapes its claims.
type Strategy interface {
	ID() ID
	// Matches reports whether the claims carry this provider's markers.
	Matches(c claims.Claims) bool
	ExtractName(c claims.Claims) (first, last string)
	DisplayName(c claims.Claims, fallback string) string
}

// Registry holds one strategy per provider ID.
type Registry struct {
	strategies map[ID]Strategy
	// detection order for Determine
	order []ID
}

// NewRegistry registers strategies in detection order. A later strategy with
// the same ID replaces the earlier one.
func NewRegistry(list ...Strategy) *Registry {
	r := &Registry{strategies: make(map[ID]Strategy, len(list))}
	for _, s := range list {
		if _, ok := r.strategies[s.ID()]; !ok {
			r.order = append(r.order, s.ID())
		}
		r.strategies[s.ID()] = s
	}
	return r
}

// Default returns the registry with GitHub and Microsoft. GitHub is probed
// first because its markers are the more specific ones.
func Default() *Registry {
	return NewRegistry(GitHubStrategy{}, MicrosoftStrategy{})
}

// Normalize maps a raw provider name onto its canonical ID, ignoring case.
func (r *Registry) Normalize(raw string) (ID, error) {
	name := strings.TrimSpace(raw)
	for id := range r.strategies {
		if strings.EqualFold(name, string(id)) {
			return id, nil
		}
	}
	return "", &UnsupportedProviderError{Name: raw}
}

func (r *Registry) IsSupported(raw string) bool {
	_, err := r.Normalize(raw)
	return err == nil
}

// Providers returns the supported IDs sorted by name.
func (r *Registry) Providers() []ID {
	out := make([]ID, 0, len(r.strategies))
	for id := range r.strategies {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Determine classifies a claim set. It never falls back to a default provider.
func (r *Registry) Determine(c claims.Claims) (ID, error) {
	for _, id := range r.order {
		if r.strategies[id].Matches(c) {
			return id, nil
		}
	}
	return "", ErrUnknownProvider
}

// ExtractName reads first and last name with the provider's rules, or the
// generic rules for an unregistered ID.
func (r *Registry) ExtractName(c claims.Claims, id ID) (string, string) {
	if s, ok := r.strategies[id]; ok {
		return s.ExtractName(c)
	}
	return genericName(c)
}

func (r *Registry) DisplayName(c claims.Claims, id ID, fallback string) string {
	if s, ok := r.strategies[id]; ok {
		return s.DisplayName(c, fallback)
	}
	if n := c.Get(claims.Name); n != "" {
		return n
	}
	return fallback
}

// Identity builds the external identity for a claim set from provider id.
// An absent email is ErrNoEmailClaim whatever else is present.
func (r *Registry) Identity(c claims.Claims, id ID) (*models.ExternalIdentity, error) {
	email := c.Get(claims.Email)
	if email == "" {
		return nil, ErrNoEmailClaim
	}
	first, last := r.ExtractName(c, id)
	return &models.ExternalIdentity{
		NameIdentifier: c.Get(claims.NameIdentifier),
		Email:          email,
		FirstName:      first,
		LastName:       last,
		DisplayName:    r.DisplayName(c, id, email),
		Provider:       string(id),
	}, nil
}

// splitName splits on the first space. Without a space the whole string is
// the first name.
func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if i := strings.Index(full, " "); i >= 0 {
		return full[:i], strings.TrimSpace(full[i+1:])
	}
	return full, ""
}

func genericName(c claims.Claims) (string, string) {
	first, last := c.Get(claims.GivenName), c.Get(claims.Surname)
	if first == "" && last == "" {
		return splitName(c.Get(claims.Name))
	}
	return first, last
}
