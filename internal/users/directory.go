package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/models"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/providers"
	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/logger"
	"github.com/google/uuid"
)

// DefaultRole is attached to every account created from an external login.
const DefaultRole = "User"

// Match tells how ResolveOrCreate found its user.
type Match string

const (
	MatchExternalLogin Match = "external_login"
	MatchEmail         Match = "email"
	MatchCreated       Match = "created"
)

var (
	ErrUserCreation       = errors.New("user creation failed")
	ErrLinkFailed         = errors.New("external login association failed")
	ErrMissingProviderKey = errors.New("provider key is required")
)

// UserCreationError carries the store messages of a failed create.
type UserCreationError struct {
	Email    string
	Messages []string
	Err      error
}

func (e *UserCreationError) Error() string {
	if len(e.Messages) > 0 {
		return "Failed to create user: " + strings.Join(e.Messages, ", ")
	}
	return fmt.Sprintf("Failed to create user: %v", e.Err)
}

func (e *UserCreationError) Unwrap() error { return e.Err }

func (e *UserCreationError) Is(target error) bool { return target == ErrUserCreation }

// LinkError carries the store messages of a failed AddLogin.
type LinkError struct {
	Provider string
	Messages []string
	Err      error
}

func (e *LinkError) Error() string {
	if len(e.Messages) > 0 {
		return "Failed to add external login: " + strings.Join(e.Messages, ", ")
	}
	return fmt.Sprintf("Failed to add external login: %v", e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

func (e *LinkError) Is(target error) bool { return target == ErrLinkFailed }

func storeMessages(err error) []string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Messages()
	}
	return nil
}

// Resolution is the result of ResolveOrCreate.
type Resolution struct {
	User    *models.User
	Created bool
	Match   Match
}

// Directory finds, creates and links local users for external identities.
type Directory struct {
	store Store
	newID func() string
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store, newID: uuid.NewString}
}

// FindByID returns the user with id or (nil, nil).
func (d *Directory) FindByID(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, nil
	}
	return d.store.FindByID(ctx, id)
}

// FindByExternalLogin finds the owner of a provider key, ignoring case and
// provider. Stores without a LoginKeyIndex are scanned user by user.
func (d *Directory) FindByExternalLogin(ctx context.Context, providerKey string) (*models.User, error) {
	if strings.TrimSpace(providerKey) == "" {
		return nil, nil
	}
	if idx, ok := d.store.(LoginKeyIndex); ok {
		return idx.FindByProviderKey(ctx, providerKey)
	}
	all, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range all {
		logins, err := d.store.GetLogins(ctx, u.ID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			return nil, err
		}
		for _, l := range logins {
			if strings.EqualFold(l.ProviderKey, providerKey) {
				return u, nil
			}
		}
	}
	return nil, nil
}

// FindUser looks a user up by provider key first, then by email.
func (d *Directory) FindUser(ctx context.Context, providerKey, email string) (*models.User, Match, error) {
	u, err := d.FindByExternalLogin(ctx, providerKey)
	if err != nil {
		return nil, "", err
	}
	if u != nil {
		return u, MatchExternalLogin, nil
	}
	if strings.TrimSpace(email) == "" {
		return nil, "", nil
	}
	u, err = d.store.FindByEmail(ctx, email)
	if err != nil || u == nil {
		return nil, "", err
	}
	return u, MatchEmail, nil
}

// ResolveOrCreate resolves an identity by external login, then email, and
// creates a confirmed account when neither matches.
func (d *Directory) ResolveOrCreate(ctx context.Context, id *models.ExternalIdentity) (*Resolution, error) {
	u, match, err := d.FindUser(ctx, id.NameIdentifier, id.Email)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return &Resolution{User: u, Match: match}, nil
	}

	u = &models.User{
		ID:             d.newID(),
		Email:          id.Email,
		UserName:       id.Email,
		FirstName:      id.FirstName,
		LastName:       id.LastName,
		EmailConfirmed: true,
	}
	if err := d.store.Create(ctx, u); err != nil {
		if hasCode(err, CodeDuplicateEmail) {
			// another request created the account between lookup and insert
			existing, ferr := d.store.FindByEmail(ctx, id.Email)
			if ferr == nil && existing != nil {
				logger.With("email", maskEmail(id.Email)).Info("user created concurrently, using existing account")
				return &Resolution{User: existing, Match: MatchEmail}, nil
			}
		}
		return nil, &UserCreationError{Email: id.Email, Messages: storeMessages(err), Err: err}
	}

	if err := d.store.AddToRole(ctx, u.ID, DefaultRole); err != nil {
		logger.With("user_id", u.ID, "role", DefaultRole).Warn("failed to add role to new user", "error", err)
	} else {
		u.Roles = append(u.Roles, DefaultRole)
	}
	logger.With("user_id", u.ID, "provider", id.Provider).Info("created user from external login")
	return &Resolution{User: u, Created: true, Match: MatchCreated}, nil
}

// EnsureLinked adds the (provider, providerKey) login to the user unless that
// exact pair is already there. It never removes logins.
func (d *Directory) EnsureLinked(ctx context.Context, userID, providerKey, provider string) (bool, error) {
	u, err := d.store.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, ErrUserNotFound
	}
	if strings.TrimSpace(providerKey) == "" {
		return false, &LinkError{Provider: provider, Err: ErrMissingProviderKey}
	}
	logins, err := d.store.GetLogins(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, l := range logins {
		if l.Provider == provider && l.ProviderKey == providerKey {
			return false, nil
		}
	}

	display := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if display == "" {
		display = u.Email
	}
	login := models.ExternalLogin{Provider: provider, ProviderKey: providerKey, DisplayName: display}
	if err := d.store.AddLogin(ctx, userID, login); err != nil {
		return false, &LinkError{Provider: provider, Messages: storeMessages(err), Err: err}
	}
	logger.With("user_id", userID, "provider", provider).Info("linked external login")
	return true, nil
}

// isPlaceholderName reports a first name seeded from a username-as-email.
func isPlaceholderName(first, email string) bool {
	first = strings.TrimSpace(first)
	return first == "" || strings.EqualFold(first, email) || strings.Contains(first, "@")
}

// ReconcileDetails updates the user's names from the identity. A placeholder
// first name is replaced outright by complete Microsoft names; otherwise only
// empty (or placeholder first) fields are filled. Populated names are never
// cleared.
func (d *Directory) ReconcileDetails(ctx context.Context, u *models.User, id *models.ExternalIdentity) (bool, error) {
	next := *u
	placeholder := isPlaceholderName(next.FirstName, next.Email)
	changed := false

	if id.Provider == providers.Microsoft.String() && id.FirstName != "" && id.LastName != "" && placeholder {
		if next.FirstName != id.FirstName || next.LastName != id.LastName {
			next.FirstName, next.LastName = id.FirstName, id.LastName
			changed = true
		}
	} else {
		if id.FirstName != "" && placeholder && next.FirstName != id.FirstName {
			next.FirstName = id.FirstName
			changed = true
		}
		if id.LastName != "" && strings.TrimSpace(next.LastName) == "" {
			next.LastName = id.LastName
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	// u keeps the stored names unless the update lands
	if err := d.store.Update(ctx, &next); err != nil {
		return false, err
	}
	*u = next
	return true, nil
}

// Snapshot returns the client view of u.
func (d *Directory) Snapshot(u *models.User) *models.UserSnapshot {
	display := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if display == "" {
		display = u.UserName
	}
	if display == "" {
		display = u.Email
	}
	return &models.UserSnapshot{
		ID:             u.ID,
		Email:          u.Email,
		UserName:       u.UserName,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		DisplayName:    display,
		EmailConfirmed: u.EmailConfirmed,
		Roles:          append([]string{}, u.Roles...),
	}
}

// maskEmail keeps the first character of the local part for logs.
func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
