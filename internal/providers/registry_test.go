package providers

import (
	"errors"
	"testing"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	r := Default()

	for _, raw := range []string{"GitHub", "github", " GITHUB "} {
		id, err := r.Normalize(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, GitHub, id)
	}
	id, err := r.Normalize("microsoft")
	require.NoError(t, err)
	assert.Equal(t, Microsoft, id)

	_, err = r.Normalize("twitter")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedProvider))
	var upe *UnsupportedProviderError
	require.True(t, errors.As(err, &upe))
	assert.Equal(t, "twitter", upe.Name)
	assert.Equal(t, "Unsupported provider: twitter", err.Error())

	assert.True(t, r.IsSupported("MicroSoft"))
	assert.False(t, r.IsSupported(""))
	assert.Equal(t, []ID{GitHub, Microsoft}, r.Providers())
}

func TestDetermine(t *testing.T) {
	r := Default()
	cases := []struct {
		name string
		c    claims.Claims
		want ID
	}{
		{"github login claim", claims.Claims{claims.GitHubLogin: "octo"}, GitHub},
		{"github url claim", claims.Claims{claims.GitHubURL: "https://github.com/octo"}, GitHub},
		{"github subject", claims.Claims{claims.NameIdentifier: "https://GitHub.com/123"}, GitHub},
		{"idp claim", claims.Claims{claims.IdentityProvider: "live.com"}, Microsoft},
		{"tenant claim", claims.Claims{claims.TenantID: "9188040d"}, Microsoft},
		{"microsoftonline subject", claims.Claims{claims.NameIdentifier: "https://login.microsoftonline.com/x"}, Microsoft},
		{"github wins over microsoft", claims.Claims{claims.GitHubLogin: "octo", claims.TenantID: "t"}, GitHub},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Determine(tc.c)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := r.Determine(claims.Claims{claims.NameIdentifier: "abc", claims.Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestExtractNameMicrosoft(t *testing.T) {
	r := Default()

	f, l := r.ExtractName(claims.Claims{claims.GivenName: "Ann", claims.Surname: "Lee", claims.Name: "Other Name"}, Microsoft)
	assert.Equal(t, "Ann", f)
	assert.Equal(t, "Lee", l)

	f, l = r.ExtractName(claims.Claims{claims.Name: "Ann Marie Lee"}, Microsoft)
	assert.Equal(t, "Ann", f)
	assert.Equal(t, "Marie Lee", l)

	f, l = r.ExtractName(claims.Claims{claims.Name: "Ann"}, Microsoft)
	assert.Equal(t, "Ann", f)
	assert.Equal(t, "", l)

	f, l = r.ExtractName(claims.Claims{claims.GivenName: "Ann"}, Microsoft)
	assert.Equal(t, "Ann", f)
	assert.Equal(t, "", l)
}

func TestExtractNameGitHub(t *testing.T) {
	r := Default()

	f, l := r.ExtractName(claims.Claims{claims.GitHubName: "Mona Lisa Octocat", claims.Name: "octocat"}, GitHub)
	assert.Equal(t, "Mona", f)
	assert.Equal(t, "Lisa Octocat", l)

	f, l = r.ExtractName(claims.Claims{claims.Name: "octocat"}, GitHub)
	assert.Equal(t, "octocat", f)
	assert.Equal(t, "", l)

	f, l = r.ExtractName(claims.Claims{claims.GitHubLogin: "octo"}, GitHub)
	assert.Equal(t, "octo", f)
	assert.Equal(t, "", l)
}

func TestExtractNameGeneric(t *testing.T) {
	r := Default()
	f, l := r.ExtractName(claims.Claims{claims.Name: "Jo Bloggs"}, ID("Okta"))
	assert.Equal(t, "Jo", f)
	assert.Equal(t, "Bloggs", l)
}

func TestDisplayName(t *testing.T) {
	r := Default()
	assert.Equal(t, "Ann Lee", r.DisplayName(claims.Claims{claims.GivenName: "Ann", claims.Surname: "Lee"}, Microsoft, "a@x.com"))
	assert.Equal(t, "a@x.com", r.DisplayName(claims.Claims{}, Microsoft, "a@x.com"))
	assert.Equal(t, "Mona", r.DisplayName(claims.Claims{claims.GitHubName: "Mona", claims.GitHubLogin: "octo"}, GitHub, "a@x.com"))
	assert.Equal(t, "octo", r.DisplayName(claims.Claims{claims.GitHubLogin: "octo"}, GitHub, "a@x.com"))
	assert.Equal(t, "a@x.com", r.DisplayName(claims.Claims{}, GitHub, "a@x.com"))
}

func TestIdentity(t *testing.T) {
	r := Default()

	id, err := r.Identity(claims.Claims{
		claims.NameIdentifier: "ms-123",
		claims.Email:          "a@x.com",
		claims.GivenName:      "Ann",
		claims.Surname:        "Lee",
	}, Microsoft)
	require.NoError(t, err)
	assert.Equal(t, "ms-123", id.NameIdentifier)
	assert.Equal(t, "Ann", id.FirstName)
	assert.Equal(t, "Lee", id.LastName)
	assert.Equal(t, "Ann Lee", id.DisplayName)
	assert.Equal(t, "Microsoft", id.Provider)

	for _, p := range []ID{Microsoft, GitHub} {
		_, err := r.Identity(claims.Claims{claims.NameIdentifier: "x", claims.Name: "N"}, p)
		assert.ErrorIs(t, err, ErrNoEmailClaim)
	}
}
