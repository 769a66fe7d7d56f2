package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/providers"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const defaultGitHubAPI = "https://api.github.com"

type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint defaults to github.com.
	Endpoint oauth2.Endpoint
	// APIBaseURL defaults to https://api.github.com.
	APIBaseURL string
}

// GitHub signs users in with a GitHub OAuth app. GitHub issues no id_token, so
// the profile comes from the REST API.
type GitHub struct {
	oauth   *oauth2.Config
	apiBase string
}

func NewGitHub(cfg GitHubConfig) *GitHub {
	ep := cfg.Endpoint
	if ep.AuthURL == "" {
		ep = github.Endpoint
	}
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = defaultGitHubAPI
	}
	return &GitHub{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     ep,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiBase: base,
	}
}

func (g *GitHub) Provider() providers.ID { return providers.GitHub }

func (g *GitHub) AuthCodeURL(state, verifier string) string {
	return g.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

type githubUser struct {
	ID      int64  `json:"id"`
	Login   string `json:"login"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	HTMLURL string `json:"html_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (g *GitHub) Exchange(ctx context.Context, code, verifier string) (claims.Claims, error) {
	tok, err := g.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("github token exchange: %w", err)
	}
	client := g.oauth.Client(ctx, tok)

	var u githubUser
	if err := g.get(ctx, client, "/user", &u); err != nil {
		return nil, err
	}
	email := u.Email
	if email == "" {
		// private email: ask the emails endpoint; a failure leaves it empty
		var emails []githubEmail
		if err := g.get(ctx, client, "/user/emails", &emails); err == nil {
			email = pickEmail(emails)
		}
	}

	out := claims.Claims{
		claims.NameIdentifier: strconv.FormatInt(u.ID, 10),
		claims.Name:           u.Login,
		claims.Email:          email,
		claims.GitHubLogin:    u.Login,
		claims.GitHubName:     u.Name,
		claims.GitHubURL:      u.HTMLURL,
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out, nil
}

func (g *GitHub) get(ctx context.Context, client *http.Client, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github api %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github api %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("github api %s: decode: %w", path, err)
	}
	return nil
}

// pickEmail prefers the primary verified address, then any verified one.
func pickEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}
