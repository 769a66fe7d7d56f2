// Package tokens issues the local session tokens handed to the browser after
// an external login.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/models"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/sessions"
	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/middleware"
	"github.com/golang-jwt/jwt/v5"
)

var ErrSessionRevoked = errors.New("session revoked or expired")

// SessionClaims is the JWT payload. Ext keeps the external provider's claims
// so the principal still looks like the provider's after sign-in.
type SessionClaims struct {
	SessionID string        `json:"sid"`
	Email     string        `json:"email,omitempty"`
	Name      string        `json:"name,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Ext       claims.Claims `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// Issued is a signed-in session.
type Issued struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// Issuer signs session tokens and backs them with a session record so they
// can be revoked.
type Issuer struct {
	secret   []byte
	ttl      time.Duration
	sessions *sessions.Service
}

func NewIssuer(secret string, ttl time.Duration, svc *sessions.Service) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, sessions: svc}
}

// SignIn creates a session for u and returns its token.
func (i *Issuer) SignIn(ctx context.Context, u *models.UserSnapshot, provider string, ext claims.Claims) (*Issued, error) {
	sess, err := i.sessions.CreateSession(ctx, u.ID, provider, i.ttl)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c := SessionClaims{
		SessionID: sess.ID,
		Email:     u.Email,
		Name:      u.DisplayName,
		Provider:  provider,
		Ext:       ext.Clone(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return nil, err
	}
	return &Issued{Token: signed, SessionID: sess.ID, ExpiresAt: sess.ExpiresAt}, nil
}

// Parse checks the signature and expiry of raw.
func (i *Issuer) Parse(raw string) (*SessionClaims, error) {
	var c SessionClaims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Verify implements middleware.Verifier. A token whose session was deleted is
// rejected even before it expires.
func (i *Issuer) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	c, err := i.Parse(raw)
	if err != nil {
		return nil, err
	}
	sess, err := i.sessions.Validate(ctx, c.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.UserID != c.Subject {
		return nil, ErrSessionRevoked
	}
	return &sessionToken{claims: c}, nil
}

// SignOut deletes the session behind raw.
func (i *Issuer) SignOut(ctx context.Context, raw string) error {
	c, err := i.Parse(raw)
	if err != nil {
		return err
	}
	return i.sessions.Delete(ctx, c.SessionID)
}

type sessionToken struct {
	claims *SessionClaims
}

// Claims flattens the session into one claim map: the provider's claims plus
// the local user and session ids.
func (t *sessionToken) Claims(v interface{}) error {
	m, ok := v.(*map[string]interface{})
	if !ok {
		return fmt.Errorf("unsupported claims type %T", v)
	}
	out := make(map[string]interface{}, len(t.claims.Ext)+4)
	for k, val := range t.claims.Ext {
		out[k] = val
	}
	if _, ok := out[claims.Email]; !ok && t.claims.Email != "" {
		out[claims.Email] = t.claims.Email
	}
	if _, ok := out[claims.Name]; !ok && t.claims.Name != "" {
		out[claims.Name] = t.claims.Name
	}
	out[claims.UserID] = t.claims.Subject
	out[claims.SessionID] = t.claims.SessionID
	*m = out
	return nil
}
