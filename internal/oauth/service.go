// Package oauth reconciles external identities onto local users: it starts
// provider challenges, completes callbacks and decides where the browser goes
// next.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/claims"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/connectors"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/handshake"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/models"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/providers"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/tokens"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/users"
	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/logger"
	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/metrics"
)

var ErrProviderNotConfigured = errors.New("provider is not configured")

// SignInManager starts a local session for a resolved user.
type SignInManager interface {
	SignIn(ctx context.Context, u *models.UserSnapshot, provider string, ext claims.Claims) (*tokens.Issued, error)
}

type Deps struct {
	Registry   *providers.Registry
	Directory  *users.Directory
	Handshake  *handshake.Service
	Connectors connectors.Set
	SignIn     SignInManager
	// ClientURL is the SPA base URL outcomes redirect to.
	ClientURL string
}

type Service struct {
	registry   *providers.Registry
	directory  *users.Directory
	handshake  *handshake.Service
	connectors connectors.Set
	signIn     SignInManager
	clientURL  string
}

func NewService(d Deps) *Service {
	reg := d.Registry
	if reg == nil {
		reg = providers.Default()
	}
	return &Service{
		registry:   reg,
		directory:  d.Directory,
		handshake:  d.Handshake,
		connectors: d.Connectors,
		signIn:     d.SignIn,
		clientURL:  strings.TrimRight(d.ClientURL, "/"),
	}
}

func (s *Service) ClientURL() string { return s.clientURL }

// Registry exposes the provider registry to the boundary.
func (s *Service) Registry() *providers.Registry { return s.registry }

// BeginChallenge normalizes the provider and stores the handshake state.
// A return URL outside the client is dropped.
func (s *Service) BeginChallenge(ctx context.Context, providerRaw, returnURL string) (*ChallengeConfig, error) {
	id, err := s.registry.Normalize(providerRaw)
	if err != nil {
		return nil, err
	}
	conn, ok := s.connectors.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, id)
	}
	st, err := s.handshake.Begin(ctx, string(id), s.safeReturnURL(returnURL))
	if err != nil {
		return nil, fmt.Errorf("store oauth state: %w", err)
	}
	logger.With("provider", string(id)).Debug("oauth challenge started")
	return &ChallengeConfig{
		Provider:     id,
		AuthURL:      conn.AuthCodeURL(st.Token, st.CodeVerifier),
		CallbackPath: CallbackPath(id),
		State:        st.Token,
		CookieName:   StateCookieName(id),
		ExpiresAt:    st.ExpiresAt,
	}, nil
}

// safeReturnURL keeps u only when it points into the client application.
func (s *Service) safeReturnURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" || s.clientURL == "" || !strings.HasPrefix(u, s.clientURL) {
		return ""
	}
	rest := u[len(s.clientURL):]
	if rest == "" || strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "?") || strings.HasPrefix(rest, "#") {
		return u
	}
	return ""
}

func isStateError(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "state") || strings.Contains(t, "correlation")
}

// CompleteCallback processes a provider redirect. Expected failures come back
// as a failed Outcome; a returned error is unexpected and the boundary maps it
// to error=unknown.
func (s *Service) CompleteCallback(ctx context.Context, req CallbackRequest) (*Outcome, error) {
	clientURL := strings.TrimRight(req.ClientURL, "/")
	if clientURL == "" {
		clientURL = s.clientURL
	}
	id, err := s.registry.Normalize(req.Provider)
	if err != nil {
		return s.record(failure(clientURL, KindUnsupportedProvider, req.Provider, err.Error())), nil
	}

	if req.Code == "" && req.State == "" && req.Error == "" {
		return s.HandleCallbackWithoutParams(ctx, req.Principal, string(id), clientURL), nil
	}

	if req.Error != "" {
		msg := req.ErrorDescription
		if msg == "" {
			msg = req.Error
		}
		if isStateError(req.Error) || isStateError(msg) {
			return s.HandleStateError(ctx, req.Principal, string(id), msg, clientURL), nil
		}
		logger.With("provider", string(id), "error", req.Error).Warn("provider reported a failure", "description", req.ErrorDescription)
		if req.Principal.IsAuthenticated() {
			return s.record(success(clientURL, string(id))), nil
		}
		return s.record(failure(clientURL, KindRemoteFailure, string(id), msg)), nil
	}

	if req.CookieState == "" || req.CookieState != req.State {
		return s.HandleStateError(ctx, req.Principal, string(id), "Correlation failed.", clientURL), nil
	}
	st, err := s.handshake.Consume(ctx, req.State, string(id))
	if err != nil {
		if errors.Is(err, handshake.ErrStateNotFound) || errors.Is(err, handshake.ErrStateExpired) || errors.Is(err, handshake.ErrProviderMismatch) {
			return s.HandleStateError(ctx, req.Principal, string(id), "The oauth state was missing or invalid: "+err.Error(), clientURL), nil
		}
		return nil, err
	}

	info, err := s.loadLoginInfo(ctx, id, req.Code, st)
	if err != nil {
		if errors.Is(err, ErrProviderNotConfigured) {
			return nil, err
		}
		logger.With("provider", string(id)).Warn("external login information unavailable", "error", err)
		if req.Principal.IsAuthenticated() {
			return s.record(success(clientURL, string(id))), nil
		}
		return s.record(failure(clientURL, KindNoLoginInfo, string(id), "Error loading external login information.")), nil
	}
	return s.CompleteLogin(ctx, info, clientURL)
}

func (s *Service) loadLoginInfo(ctx context.Context, id providers.ID, code string, st *handshake.State) (*LoginInfo, error) {
	if code == "" {
		return nil, errors.New("authorization code missing")
	}
	conn, ok := s.connectors.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, id)
	}
	ext, err := conn.Exchange(ctx, code, st.CodeVerifier)
	if err != nil {
		return nil, err
	}
	key := ext.Get(claims.NameIdentifier)
	if key == "" {
		return nil, errors.New("provider returned no subject identifier")
	}
	return &LoginInfo{Provider: id, ProviderKey: key, Claims: ext, ReturnURL: st.ReturnURL}, nil
}

// CompleteLogin resolves, links and signs in the user behind info. The
// redirect tells the client what happened: a new account gets
// ?auth=success, a new link on an existing account adds &provider=, and a
// repeat sign-in goes to the plain client URL.
func (s *Service) CompleteLogin(ctx context.Context, info *LoginInfo, clientURL string) (*Outcome, error) {
	provider := string(info.Provider)
	base := clientURL
	if ru := s.safeReturnURL(info.ReturnURL); ru != "" {
		base = ru
	}
	log := logger.With("provider", provider)

	identity, err := s.registry.Identity(info.Claims, info.Provider)
	if err != nil {
		log.Warn("external login has no email claim")
		return s.record(failure(clientURL, KindNoEmail, provider, "no_email")), nil
	}
	if identity.NameIdentifier == "" {
		identity.NameIdentifier = info.ProviderKey
	}

	res, err := s.directory.ResolveOrCreate(ctx, identity)
	if err != nil {
		if errors.Is(err, users.ErrUserCreation) {
			log.Error("user creation failed", "error", err)
			return s.record(failure(clientURL, KindUserCreationFailed, provider, err.Error())), nil
		}
		return nil, err
	}
	metrics.UserResolutions.WithLabelValues(string(res.Match)).Inc()

	added, err := s.directory.EnsureLinked(ctx, res.User.ID, identity.NameIdentifier, provider)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrLinkFailed):
			log.Error("adding external login failed", "user_id", res.User.ID, "error", err)
			return s.record(failure(clientURL, KindExternalLoginFailed, provider, err.Error())), nil
		case errors.Is(err, users.ErrUserNotFound):
			return s.record(failure(clientURL, KindUserNotFound, provider, err.Error())), nil
		}
		return nil, err
	}
	if added {
		metrics.LoginsLinked.WithLabelValues(provider).Inc()
	}

	if _, err := s.directory.ReconcileDetails(ctx, res.User, identity); err != nil {
		log.Warn("updating user details failed", "user_id", res.User.ID, "error", err)
	}

	snap := s.directory.Snapshot(res.User)
	issued, err := s.signIn.SignIn(ctx, snap, provider, info.Claims)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	redirect := base
	switch {
	case res.Created:
		redirect = withQuery(base, "auth=success")
	case added:
		redirect = withQuery(base, "auth=success&provider="+provider)
	}
	log.Info("external login completed", "user_id", res.User.ID, "created", res.Created, "linked", added)
	out := success(redirect, provider)
	out.User = snap
	out.Session = issued
	return s.record(out), nil
}

// HandleCallbackWithoutParams handles a callback carrying neither code nor
// state. An authenticated caller has most likely re-opened the callback and
// goes to the client.
func (s *Service) HandleCallbackWithoutParams(ctx context.Context, p claims.Principal, provider, clientURL string) *Outcome {
	if p.IsAuthenticated() {
		logger.With("provider", provider).Info("callback without parameters from authenticated user")
		return s.record(success(clientURL, provider))
	}
	return s.record(failure(clientURL, KindNoParams, provider, "Callback called without required parameters"))
}

// HandleStateError handles a state or correlation failure seen on a callback.
func (s *Service) HandleStateError(ctx context.Context, p claims.Principal, provider, errText, clientURL string) *Outcome {
	logger.With("provider", provider).Warn("oauth state or correlation error", "error", errText)
	if p.IsAuthenticated() {
		return s.record(success(withQuery(clientURL, "auth=success&note=authenticated_state_error"), provider))
	}
	return s.record(failure(clientURL, KindStateError, provider, errText))
}

// HandleStateFailure is the standalone recovery entry point. For an
// authenticated caller it also makes sure the local user exists; a failure
// there is logged and the caller still goes to the client.
func (s *Service) HandleStateFailure(ctx context.Context, p claims.Principal, provider, errText string) *Outcome {
	log := logger.With("provider", provider)
	log.Info("handling oauth state failure", "error", errText)
	if p.IsAuthenticated() {
		status, err := s.Status(ctx, p)
		if err != nil || !status.Success {
			ensured, err := s.EnsureUser(ctx, p)
			if err != nil {
				log.Error("ensuring user during state failure handling failed", "error", err)
			} else if !ensured.Success {
				log.Error("ensuring user during state failure handling failed", "error", ensured.Message)
			} else {
				out := success(withQuery(s.clientURL, "auth=success&note=authenticated_state_error"), provider)
				out.User, out.Session = ensured.User, ensured.Session
				return s.record(out)
			}
		}
		return s.record(success(withQuery(s.clientURL, "auth=success&note=authenticated_state_error"), provider))
	}
	return s.record(failure(s.clientURL, KindStateError, provider, errText))
}

func (s *Service) record(o *Outcome) *Outcome {
	result := "success"
	if !o.Success {
		result = string(o.Kind)
	}
	provider := o.Provider
	if provider == "" || !s.registry.IsSupported(provider) {
		provider = "unknown"
	}
	metrics.OAuthOutcomes.WithLabelValues(provider, result).Inc()
	return o
}

// Status resolves the session's principal to a local user without creating
// anything.
func (s *Service) Status(ctx context.Context, p claims.Principal) (*Outcome, error) {
	if !p.IsAuthenticated() {
		return failure(s.clientURL, KindUnknown, "", "User not authenticated"), nil
	}
	u, err := s.lookup(ctx, p)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return failure(s.clientURL, KindUserNotFound, "", "User could not be found in the database"), nil
	}
	out := success(s.clientURL, "")
	out.User = s.directory.Snapshot(u)
	return out, nil
}

func (s *Service) lookup(ctx context.Context, p claims.Principal) (*models.User, error) {
	u, err := s.directory.FindByID(ctx, p.Claims.Get(claims.UserID))
	if err != nil || u != nil {
		return u, err
	}
	u, _, err = s.directory.FindUser(ctx, p.Claims.Get(claims.NameIdentifier), p.Claims.Get(claims.Email))
	return u, err
}

// EnsureUser makes sure the principal has a local account, creating and
// linking one from its claims when needed. A newly resolved user is signed
// in and the session returned on the Outcome.
func (s *Service) EnsureUser(ctx context.Context, p claims.Principal) (*Outcome, error) {
	if !p.IsAuthenticated() {
		return failure(s.clientURL, KindUnknown, "", "User not authenticated"), nil
	}
	u, err := s.directory.FindByID(ctx, p.Claims.Get(claims.UserID))
	if err != nil {
		return nil, err
	}
	if u != nil {
		out := success(s.clientURL, "")
		out.User = s.directory.Snapshot(u)
		return out, nil
	}

	id, err := s.registry.Determine(p.Claims)
	if err != nil {
		return failure(s.clientURL, KindUnknownProvider, "", err.Error()), nil
	}
	provider := string(id)
	identity, err := s.registry.Identity(p.Claims, id)
	if err != nil {
		return failure(s.clientURL, KindNoEmail, provider, "no_email"), nil
	}
	res, err := s.directory.ResolveOrCreate(ctx, identity)
	if err != nil {
		if errors.Is(err, users.ErrUserCreation) {
			return failure(s.clientURL, KindUserCreationFailed, provider, err.Error()), nil
		}
		return nil, err
	}
	metrics.UserResolutions.WithLabelValues(string(res.Match)).Inc()
	if identity.NameIdentifier != "" {
		added, err := s.directory.EnsureLinked(ctx, res.User.ID, identity.NameIdentifier, provider)
		if err != nil {
			if errors.Is(err, users.ErrLinkFailed) {
				return failure(s.clientURL, KindExternalLoginFailed, provider, err.Error()), nil
			}
			return nil, err
		}
		if added {
			metrics.LoginsLinked.WithLabelValues(provider).Inc()
		}
	}
	if _, err := s.directory.ReconcileDetails(ctx, res.User, identity); err != nil {
		logger.With("provider", provider, "user_id", res.User.ID).Warn("updating user details failed", "error", err)
	}

	snap := s.directory.Snapshot(res.User)
	out := success(s.clientURL, provider)
	out.User = snap
	ext := p.Claims.Clone()
	delete(ext, claims.UserID)
	delete(ext, claims.SessionID)
	issued, err := s.signIn.SignIn(ctx, snap, provider, ext)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	out.Session = issued
	logger.With("provider", provider, "user_id", res.User.ID).Info("ensured local user", "created", res.Created)
	return out, nil
}

// UnexpectedFailureURL is where the browser goes when an error escaped the
// flow. Signed-in callers are sent on to the dashboard.
func (s *Service) UnexpectedFailureURL(p claims.Principal, err error) string {
	if p.IsAuthenticated() {
		return s.clientURL + "/dashboard?auth=success&error_handled=true"
	}
	s.record(failure(s.clientURL, KindUnknown, "", err.Error()))
	return failureURL(s.clientURL, KindUnknown, "", err.Error())
}
