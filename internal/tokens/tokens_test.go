package tokens

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/models"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/sessions"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-32-bytes-should-be-long-enough"

func newIssuer(ttl time.Duration) *Issuer {
	return NewIssuer(secret, ttl, sessions.NewService(sessions.NewMemoryRepository()))
}

func snapshot() *models.UserSnapshot {
	return &models.UserSnapshot{ID: "user-123", Email: "test@example.com", DisplayName: "Test User"}
}

func TestSignInAndVerify(t *testing.T) {
	ctx := context.Background()
	iss := newIssuer(time.Hour)

	issued, err := iss.SignIn(ctx, snapshot(), "GitHub", claims.Claims{claims.NameIdentifier: "gh-456", claims.GitHubLogin: "octo"})
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)

	tok, err := iss.Verify(ctx, issued.Token)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, tok.Claims(&m))
	c := claims.FromMap(m)
	require.Equal(t, "gh-456", c.Get(claims.NameIdentifier))
	require.Equal(t, "octo", c.Get(claims.GitHubLogin))
	require.Equal(t, "user-123", c.Get(claims.UserID))
	require.Equal(t, issued.SessionID, c.Get(claims.SessionID))
	require.Equal(t, "test@example.com", c.Get(claims.Email))
}

func TestSignOutRevokes(t *testing.T) {
	ctx := context.Background()
	iss := newIssuer(time.Hour)
	issued, err := iss.SignIn(ctx, snapshot(), "Microsoft", claims.Claims{})
	require.NoError(t, err)

	require.NoError(t, iss.SignOut(ctx, issued.Token))
	_, err = iss.Verify(ctx, issued.Token)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestParse_WrongSecretFails(t *testing.T) {
	ctx := context.Background()
	issued, err := newIssuer(time.Hour).SignIn(ctx, snapshot(), "GitHub", nil)
	require.NoError(t, err)

	other := NewIssuer("different-secret-xxxxxxxxxxxxxxxx", time.Hour, sessions.NewService(sessions.NewMemoryRepository()))
	_, err = other.Parse(issued.Token)
	require.Error(t, err)
}

func TestParse_Expired(t *testing.T) {
	ctx := context.Background()
	iss := newIssuer(-time.Minute)
	issued, err := iss.SignIn(ctx, snapshot(), "GitHub", nil)
	require.NoError(t, err)
	_, err = iss.Parse(issued.Token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParse_Malformed(t *testing.T) {
	_, err := newIssuer(time.Hour).Parse("not.a.jwt")
	require.Error(t, err)
}

// Rejected when alg=none (unsigned token)
func TestParse_AlgNoneRejected(t *testing.T) {
	payload := `{"sub":"u-none","sid":"s","exp":9999999999}`
	tok := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`)) + "." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + "."
	_, err := newIssuer(time.Hour).Parse(tok)
	require.Error(t, err)
}

// Tampering with payload must fail signature verification
func TestParse_TamperedPayload(t *testing.T) {
	ctx := context.Background()
	iss := newIssuer(time.Hour)
	issued, err := iss.SignIn(ctx, snapshot(), "GitHub", nil)
	require.NoError(t, err)

	parts := strings.Split(issued.Token, ".")
	require.Len(t, parts, 3)
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(strings.Replace(string(payloadBytes), "user-123", "attacker", 1)))
	_, err = iss.Parse(strings.Join(parts, "."))
	require.Error(t, err)
}
