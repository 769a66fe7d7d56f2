package oauth

import (
	"net/url"
	"strings"
	"time"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/models"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/providers"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/tokens"
)

// ErrorKind is the error code put on failure redirects.
type ErrorKind string

const (
	KindUnsupportedProvider ErrorKind = "unsupported_provider"
	KindUnknownProvider     ErrorKind = "unknown_provider"
	KindNoEmail             ErrorKind = "no_email"
	KindNoLoginInfo         ErrorKind = "no_login_info"
	KindNoParams            ErrorKind = "no_params"
	KindStateError          ErrorKind = "state_error"
	KindRemoteFailure       ErrorKind = "remote_failure"
	KindUserCreationFailed  ErrorKind = "user_creation_failed"
	KindExternalLoginFailed ErrorKind = "external_login_failed"
	KindUserNotFound        ErrorKind = "user_not_found"
	KindUnknown             ErrorKind = "unknown"
)

// Outcome is the result of one flow. Failures carry Kind and Message and
// never a User.
type Outcome struct {
	Success     bool
	RedirectURL string
	User        *models.UserSnapshot
	Provider    string
	Kind        ErrorKind
	Message     string
	// Session is set when the flow signed the user in.
	Session *tokens.Issued
}

// ChallengeConfig is everything the boundary needs to start a provider redirect.
type ChallengeConfig struct {
	Provider     providers.ID
	AuthURL      string
	CallbackPath string
	// State goes into the correlation cookie named CookieName.
	State      string
	CookieName string
	ExpiresAt  time.Time
}

// CallbackRequest is an inbound provider redirect.
type CallbackRequest struct {
	Provider         string
	Code             string
	State            string
	Error            string
	ErrorDescription string
	// CookieState is the correlation cookie value, empty when the cookie was lost.
	CookieState string
	Principal   claims.Principal
	ClientURL   string
}

// LoginInfo is the external login recovered from a completed handshake.
type LoginInfo struct {
	Provider    providers.ID
	ProviderKey string
	Claims      claims.Claims
	ReturnURL   string
}

// CallbackPath is the route a provider redirects back to.
func CallbackPath(id providers.ID) string {
	return "/oauth/" + id.Slug() + "-callback"
}

// StateCookieName is the correlation cookie for id.
func StateCookieName(id providers.ID) string {
	return "__oauth_state_" + id.Slug()
}

// withQuery appends a raw query to base, ahead of any #fragment.
func withQuery(base, query string) string {
	if query == "" {
		return base
	}
	frag := ""
	if i := strings.Index(base, "#"); i >= 0 {
		base, frag = base[:i], base[i:]
	}
	if strings.Contains(base, "?") {
		return base + "&" + query + frag
	}
	return base + "?" + query + frag
}

// failureURL is {base}?error=<kind>[&provider=<p>][&message=<text>].
func failureURL(base string, kind ErrorKind, provider, message string) string {
	q := "error=" + url.QueryEscape(string(kind))
	if provider != "" {
		q += "&provider=" + url.QueryEscape(provider)
	}
	if message != "" {
		q += "&message=" + url.QueryEscape(message)
	}
	return withQuery(base, q)
}

func success(redirect string, provider string) *Outcome {
	return &Outcome{Success: true, RedirectURL: redirect, Provider: provider}
}

func failure(base string, kind ErrorKind, provider, message string) *Outcome {
	return &Outcome{
		RedirectURL: failureURL(base, kind, provider, message),
		Provider:    provider,
		Kind:        kind,
		Message:     message,
	}
}
