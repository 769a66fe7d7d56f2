package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/models"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/oauth"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/providers"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/tokens"
	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/logger"
	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// Sessions verifies and ends the local sessions behind session tokens.
type Sessions interface {
	middleware.Verifier
	SignOut(ctx context.Context, raw string) error
}

// CookieConfig controls the session cookie written after sign-in.
type CookieConfig struct {
	Name   string
	Secure bool
}

// OAuthHandler holds dependencies
type OAuthHandler struct {
	svc      *oauth.Service
	sessions Sessions
	cookie   CookieConfig
}

func NewOAuthHandler(svc *oauth.Service, s Sessions, cookie CookieConfig) *OAuthHandler {
	return &OAuthHandler{svc: svc, sessions: s, cookie: cookie}
}

// Register routes under /oauth. Callback routes are registered per provider.
func (h *OAuthHandler) Register(rg gin.IRouter) {
	o := rg.Group("/oauth")
	o.GET("/login/:provider", h.Login)
	for _, id := range h.svc.Registry().Providers() {
		o.GET("/"+id.Slug()+"-callback", h.Callback(id))
	}
	authed := middleware.AuthMiddleware(h.sessions, h.cookie.Name)
	o.GET("/status", authed, h.Status)
	o.GET("/ensure-user", authed, h.EnsureUser)
	o.GET("/handle-state-failure", h.HandleStateFailure)
	o.POST("/logout", h.Logout)
}

type statusResponse struct {
	Success bool                 `json:"success"`
	User    *models.UserSnapshot `json:"user,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func toStatus(o *oauth.Outcome) statusResponse {
	r := statusResponse{Success: o.Success, User: o.User}
	if !o.Success {
		r.Error = o.Message
	}
	return r
}

// Login redirects the browser to the provider's consent screen.
func (h *OAuthHandler) Login(c *gin.Context) {
	cfg, err := h.svc.BeginChallenge(c.Request.Context(), c.Param("provider"), c.Query("returnUrl"))
	if err != nil {
		var unsupported *providers.UnsupportedProviderError
		if errors.As(err, &unsupported) {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		logger.Errorf("oauth login %q: %v", c.Param("provider"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to start external login", "details": err.Error()})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cfg.CookieName, cfg.State, int(time.Until(cfg.ExpiresAt).Seconds()), "/oauth", "", h.cookie.Secure, true)
	c.Redirect(http.StatusFound, cfg.AuthURL)
}

// Callback completes the flow for provider id.
func (h *OAuthHandler) Callback(id providers.ID) gin.HandlerFunc {
	cookieName := oauth.StateCookieName(id)
	return func(c *gin.Context) {
		p := middleware.Principal(c)
		state, _ := c.Cookie(cookieName)
		if state != "" {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(cookieName, "", -1, "/oauth", "", h.cookie.Secure, true)
		}
		out, err := h.svc.CompleteCallback(c.Request.Context(), oauth.CallbackRequest{
			Provider:         string(id),
			Code:             c.Query("code"),
			State:            c.Query("state"),
			Error:            c.Query("error"),
			ErrorDescription: c.Query("error_description"),
			CookieState:      state,
			Principal:        p,
			ClientURL:        h.svc.ClientURL(),
		})
		if err != nil {
			logger.Errorf("oauth callback %s: %v", id, err)
			c.Redirect(http.StatusFound, h.svc.UnexpectedFailureURL(p, err))
			return
		}
		h.setSession(c, out.Session)
		c.Redirect(http.StatusFound, out.RedirectURL)
	}
}

// Status reports the local user behind the current session.
func (h *OAuthHandler) Status(c *gin.Context) {
	p := middleware.Principal(c)
	out, err := h.svc.Status(c.Request.Context(), p)
	if err != nil {
		logger.Errorf("oauth status: %v", err)
		c.JSON(http.StatusInternalServerError, statusResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, toStatus(out))
}

// EnsureUser creates or links the local user for the current session.
func (h *OAuthHandler) EnsureUser(c *gin.Context) {
	p := middleware.Principal(c)
	out, err := h.svc.EnsureUser(c.Request.Context(), p)
	if err != nil {
		logger.Errorf("oauth ensure-user: %v", err)
		c.JSON(http.StatusInternalServerError, statusResponse{Error: err.Error()})
		return
	}
	h.setSession(c, out.Session)
	c.JSON(http.StatusOK, toStatus(out))
}

// HandleStateFailure is where the client sends a browser whose callback hit
// a state or correlation error.
func (h *OAuthHandler) HandleStateFailure(c *gin.Context) {
	p := middleware.Principal(c)
	provider := c.Query("provider")
	if id, err := h.svc.Registry().Normalize(provider); err == nil {
		provider = string(id)
	}
	out := h.svc.HandleStateFailure(c.Request.Context(), p, provider, c.Query("error"))
	h.setSession(c, out.Session)
	c.Redirect(http.StatusFound, out.RedirectURL)
}

// Logout deletes the session and its cookie.
func (h *OAuthHandler) Logout(c *gin.Context) {
	raw, _ := c.Cookie(h.cookie.Name)
	if raw == "" {
		if auth := c.GetHeader("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
			raw = auth[7:]
		}
	}
	if raw != "" {
		if err := h.sessions.SignOut(c.Request.Context(), raw); err != nil {
			logger.Warnf("logout: %v", err)
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, "/", "", h.cookie.Secure, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *OAuthHandler) setSession(c *gin.Context, s *tokens.Issued) {
	if s == nil || h.cookie.Name == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, s.Token, int(time.Until(s.ExpiresAt).Seconds()), "/", "", h.cookie.Secure, true)
}
