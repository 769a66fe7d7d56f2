package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/models"
)

// Store is the backing user store. Lookups return (nil, nil) when nothing matches.
type Store interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByLogin(ctx context.Context, provider, providerKey string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	Create(ctx context.Context, u *models.User) error
	Update(ctx context.Context, u *models.User) error
	AddToRole(ctx context.Context, userID, role string) error
	GetLogins(ctx context.Context, userID string) ([]models.ExternalLogin, error)
	AddLogin(ctx context.Context, userID string, login models.ExternalLogin) error
}

// LoginKeyIndex is implemented by stores that can look a provider key up
// without scanning every user.
type LoginKeyIndex interface {
	FindByProviderKey(ctx context.Context, providerKey string) (*models.User, error)
}

// Field error codes reported by stores.
const (
	CodeDuplicateEmail         = "DuplicateEmail"
	CodeLoginAlreadyAssociated = "LoginAlreadyAssociated"
	CodeInvalidEmail           = "InvalidEmail"
)

var ErrUserNotFound = errors.New("user not found")

// FieldError is one validation failure reported by the store.
type FieldError struct {
	Field   string
	Code    string
	Message string
}

// StoreError is a failed store operation with its field-level messages.
type StoreError struct {
	Op     string
	Errors []FieldError
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("users: %s failed: %s", e.Op, strings.Join(e.Messages(), "; "))
}

func (e *StoreError) Messages() []string {
	out := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		out = append(out, fe.Message)
	}
	return out
}

// Has reports whether any field error carries code.
func (e *StoreError) Has(code string) bool {
	for _, fe := range e.Errors {
		if fe.Code == code {
			return true
		}
	}
	return false
}

func newStoreError(op, field, code, msg string) *StoreError {
	return &StoreError{Op: op, Errors: []FieldError{{Field: field, Code: code, Message: msg}}}
}

func hasCode(err error, code string) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Has(code)
}

// NormalizeEmail is the lookup form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToUpper(strings.TrimSpace(email))
}

// NormalizeKey is the lookup form of a provider key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
