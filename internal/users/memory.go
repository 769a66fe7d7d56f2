package users

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/models"
)

// MemoryStore keeps users in process. Used by tests and when no database is
// configured. It has no login index, so directory lookups by provider key scan.
type MemoryStore struct {
	mu    sync.RWMutex
	store map[string]*models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{store: make(map[string]*models.User)}
}

func clone(u *models.User) *models.User {
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	cp.Logins = append([]models.ExternalLogin(nil), u.Logins...)
	return &cp
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.store[id]; ok {
		return clone(u), nil
	}
	return nil, nil
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u := m.byEmail(NormalizeEmail(email)); u != nil {
		return clone(u), nil
	}
	return nil, nil
}

func (m *MemoryStore) byEmail(normalized string) *models.User {
	if normalized == "" {
		return nil
	}
	for _, u := range m.store {
		if u.NormalizedEmail == normalized {
			return u
		}
	}
	return nil
}

func (m *MemoryStore) FindByLogin(ctx context.Context, provider, providerKey string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u := m.byLogin(provider, providerKey); u != nil {
		return clone(u), nil
	}
	return nil, nil
}

func (m *MemoryStore) byLogin(provider, providerKey string) *models.User {
	for _, u := range m.store {
		for _, l := range u.Logins {
			if l.Provider == provider && l.ProviderKey == providerKey {
				return u
			}
		}
	}
	return nil
}

// List returns users ordered by creation time.
func (m *MemoryStore) List(ctx context.Context) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.User, 0, len(m.store))
	for _, u := range m.store {
		out = append(out, clone(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Create(ctx context.Context, u *models.User) error {
	if !strings.Contains(u.Email, "@") {
		return newStoreError("create", "Email", CodeInvalidEmail, fmt.Sprintf("Email '%s' is invalid.", u.Email))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u.NormalizedEmail = NormalizeEmail(u.Email)
	if m.byEmail(u.NormalizedEmail) != nil {
		return newStoreError("create", "Email", CodeDuplicateEmail, fmt.Sprintf("Email '%s' is already taken.", u.Email))
	}
	if u.ID == "" {
		return fmt.Errorf("users: create: id is required")
	}
	if _, ok := m.store[u.ID]; ok {
		return fmt.Errorf("users: create: id %s already exists", u.ID)
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	m.store[u.ID] = clone(u)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.store[u.ID]
	if !ok {
		return ErrUserNotFound
	}
	normalized := NormalizeEmail(u.Email)
	if other := m.byEmail(normalized); other != nil && other.ID != u.ID {
		return newStoreError("update", "Email", CodeDuplicateEmail, fmt.Sprintf("Email '%s' is already taken.", u.Email))
	}
	u.NormalizedEmail = normalized
	u.UpdatedAt = time.Now().UTC()
	next := clone(u)
	// logins and roles change only through their own operations
	next.Logins = existing.Logins
	next.Roles = existing.Roles
	m.store[u.ID] = next
	return nil
}

func (m *MemoryStore) AddToRole(ctx context.Context, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[userID]
	if !ok {
		return ErrUserNotFound
	}
	for _, r := range u.Roles {
		if r == role {
			return nil
		}
	}
	u.Roles = append(u.Roles, role)
	return nil
}

func (m *MemoryStore) GetLogins(ctx context.Context, userID string) ([]models.ExternalLogin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.store[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return append([]models.ExternalLogin(nil), u.Logins...), nil
}

func (m *MemoryStore) AddLogin(ctx context.Context, userID string, login models.ExternalLogin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[userID]
	if !ok {
		return ErrUserNotFound
	}
	if m.byLogin(login.Provider, login.ProviderKey) != nil {
		return newStoreError("add_login", "Login", CodeLoginAlreadyAssociated, "A user with this login already exists.")
	}
	login.NormalizedKey = NormalizeKey(login.ProviderKey)
	u.Logins = append(u.Logins, login)
	u.UpdatedAt = time.Now().UTC()
	return nil
}
