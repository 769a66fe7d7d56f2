package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
	"github.com/gin-gonic/gin"
)

// PrincipalKey is the gin context key holding the claims.Principal.
const PrincipalKey = "principal"

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// bearer extracts the token from "Authorization: Bearer <token>".
func bearer(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	parts := strings.Fields(auth)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func principalFrom(ctx context.Context, ver Verifier, raw string) (claims.Principal, error) {
	tok, err := ver.Verify(ctx, raw)
	if err != nil {
		return claims.Anonymous(), err
	}
	var m map[string]interface{}
	if err := tok.Claims(&m); err != nil {
		return claims.Anonymous(), err
	}
	return claims.Principal{Claims: claims.FromMap(m), Authenticated: true}, nil
}

// sessionToken reads a Bearer header first, then the session cookie.
func sessionToken(c *gin.Context, cookieName string) (string, bool) {
	if raw, ok := bearer(c); ok {
		return raw, true
	}
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil && v != "" {
			return v, true
		}
	}
	return "", false
}

// AuthMiddleware rejects callers without a valid session token in a Bearer
// header or the cookieName cookie. A principal already resolved by
// OptionalAuth is reused.
func AuthMiddleware(ver Verifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if Principal(c).IsAuthenticated() {
			c.Next()
			return
		}
		raw, ok := sessionToken(c, cookieName)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "User not authenticated"})
			return
		}
		p, err := principalFrom(c.Request.Context(), ver, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "User not authenticated"})
			return
		}
		c.Set(PrincipalKey, p)
		c.Next()
	}
}

// OptionalAuth resolves the caller from the session cookie or a Bearer header
// when present and never rejects. Invalid or revoked tokens leave the caller
// anonymous.
func OptionalAuth(ver Verifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := claims.Anonymous()
		if raw, ok := sessionToken(c, cookieName); ok {
			if resolved, err := principalFrom(c.Request.Context(), ver, raw); err == nil {
				p = resolved
			}
		}
		c.Set(PrincipalKey, p)
		c.Next()
	}
}

// Principal returns the caller set by AuthMiddleware or OptionalAuth.
func Principal(c *gin.Context) claims.Principal {
	if v, ok := c.Get(PrincipalKey); ok {
		if p, ok := v.(claims.Principal); ok {
			return p
		}
	}
	return claims.Anonymous()
}

// rateKey prefers the local user id of an authenticated caller over the IP.
func rateKey(c *gin.Context) string {
	if p := Principal(c); p.IsAuthenticated() {
		if uid := p.Claims.Get(claims.UserID); uid != "" {
			return "uid:" + uid
		}
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
