package users

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexedStore adds a LoginKeyIndex to the memory store and counts scans.
type indexedStore struct {
	*MemoryStore
	lookups int
	lists   int
}

func (s *indexedStore) FindByProviderKey(ctx context.Context, key string) (*models.User, error) {
	s.lookups++
	all, _ := s.MemoryStore.List(ctx)
	for _, u := range all {
		for _, l := range u.Logins {
			if l.NormalizedKey == NormalizeKey(key) {
				return u, nil
			}
		}
	}
	return nil, nil
}

func (s *indexedStore) List(ctx context.Context) ([]*models.User, error) {
	s.lists++
	return s.MemoryStore.List(ctx)
}

// racingStore simulates another request creating the same email first.
type racingStore struct {
	*MemoryStore
	winner *models.User
}

func (s *racingStore) Create(ctx context.Context, u *models.User) error {
	if s.winner != nil {
		_ = s.MemoryStore.Create(ctx, s.winner)
		s.winner = nil
	}
	return s.MemoryStore.Create(ctx, u)
}

type failingStore struct {
	*MemoryStore
	createErr error
	loginErr  error
	updateErr error
}

func (s *failingStore) Update(ctx context.Context, u *models.User) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.MemoryStore.Update(ctx, u)
}

func (s *failingStore) Create(ctx context.Context, u *models.User) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.MemoryStore.Create(ctx, u)
}

func (s *failingStore) AddLogin(ctx context.Context, id string, l models.ExternalLogin) error {
	if s.loginErr != nil {
		return s.loginErr
	}
	return s.MemoryStore.AddLogin(ctx, id, l)
}

func seq() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("user-%d", n)
	}
}

func newTestDirectory(s Store) *Directory {
	d := NewDirectory(s)
	d.newID = seq()
	return d
}

func msIdentity() *models.ExternalIdentity {
	return &models.ExternalIdentity{NameIdentifier: "ms-123", Email: "a@x.com", FirstName: "Ann", LastName: "Lee", Provider: "Microsoft"}
}

func TestResolveOrCreate_CreatesConfirmedUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := newTestDirectory(s)

	res, err := d.ResolveOrCreate(ctx, msIdentity())
	require.NoError(t, err)
	require.True(t, res.Created)
	assert.Equal(t, MatchCreated, res.Match)
	assert.Equal(t, "user-1", res.User.ID)
	assert.Equal(t, "a@x.com", res.User.UserName)
	assert.True(t, res.User.EmailConfirmed)
	assert.Equal(t, []string{DefaultRole}, res.User.Roles)

	stored, _ := s.FindByEmail(ctx, "a@x.com")
	require.NotNil(t, stored)
	assert.Equal(t, []string{DefaultRole}, stored.Roles)
	assert.Equal(t, "Ann", stored.FirstName)

	// second resolution finds by email
	res, err = d.ResolveOrCreate(ctx, msIdentity())
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, MatchEmail, res.Match)
}

func TestResolveOrCreate_ExternalLoginWinsOverEmail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, &models.User{ID: "by-login", Email: "old@x.com"}))
	require.NoError(t, s.AddLogin(ctx, "by-login", models.ExternalLogin{Provider: "GitHub", ProviderKey: "GH-456"}))
	require.NoError(t, s.Create(ctx, &models.User{ID: "by-email", Email: "a@x.com"}))

	d := newTestDirectory(s)
	res, err := d.ResolveOrCreate(ctx, &models.ExternalIdentity{NameIdentifier: "gh-456", Email: "a@x.com", Provider: "GitHub"})
	require.NoError(t, err)
	assert.Equal(t, "by-login", res.User.ID)
	assert.Equal(t, MatchExternalLogin, res.Match)
}

func TestFindByExternalLogin_UsesIndexWhenAvailable(t *testing.T) {
	ctx := context.Background()
	s := &indexedStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, s.Create(ctx, &models.User{ID: "u1", Email: "a@x.com"}))
	require.NoError(t, s.AddLogin(ctx, "u1", models.ExternalLogin{Provider: "Microsoft", ProviderKey: "MS-1"}))

	d := newTestDirectory(s)
	u, err := d.FindByExternalLogin(ctx, "ms-1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, 1, s.lookups)
	assert.Equal(t, 0, s.lists)

	u, err = d.FindByExternalLogin(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestResolveOrCreate_DuplicateEmailRetriesOnce(t *testing.T) {
	ctx := context.Background()
	s := &racingStore{MemoryStore: NewMemoryStore(), winner: &models.User{ID: "winner", Email: "a@x.com"}}
	d := newTestDirectory(s)

	res, err := d.ResolveOrCreate(ctx, msIdentity())
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "winner", res.User.ID)
}

func TestResolveOrCreate_CreationFailure(t *testing.T) {
	ctx := context.Background()
	s := &failingStore{MemoryStore: NewMemoryStore(), createErr: newStoreError("create", "Email", CodeInvalidEmail, "Email is invalid.")}
	d := newTestDirectory(s)

	_, err := d.ResolveOrCreate(ctx, msIdentity())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUserCreation))
	var uce *UserCreationError
	require.ErrorAs(t, err, &uce)
	assert.Equal(t, []string{"Email is invalid."}, uce.Messages)
	assert.Contains(t, err.Error(), "Email is invalid.")
}

func TestEnsureLinked_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, &models.User{ID: "u1", Email: "a@x.com", FirstName: "Ann", LastName: "Lee"}))
	d := newTestDirectory(s)

	added, err := d.EnsureLinked(ctx, "u1", "ms-123", "Microsoft")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = d.EnsureLinked(ctx, "u1", "ms-123", "Microsoft")
	require.NoError(t, err)
	assert.False(t, added)

	logins, _ := s.GetLogins(ctx, "u1")
	require.Len(t, logins, 1)
	assert.Equal(t, "Ann Lee", logins[0].DisplayName)

	// another provider adds a second link, existing ones stay
	added, err = d.EnsureLinked(ctx, "u1", "gh-456", "GitHub")
	require.NoError(t, err)
	assert.True(t, added)
	logins, _ = s.GetLogins(ctx, "u1")
	assert.Len(t, logins, 2)
}

func TestEnsureLinked_DisplayNameFallsBackToEmail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, &models.User{ID: "u1", Email: "a@x.com"}))
	d := newTestDirectory(s)

	_, err := d.EnsureLinked(ctx, "u1", "k", "GitHub")
	require.NoError(t, err)
	logins, _ := s.GetLogins(ctx, "u1")
	assert.Equal(t, "a@x.com", logins[0].DisplayName)
}

func TestEnsureLinked_Failures(t *testing.T) {
	ctx := context.Background()
	s := &failingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, s.Create(ctx, &models.User{ID: "u1", Email: "a@x.com"}))
	d := newTestDirectory(s)

	_, err := d.EnsureLinked(ctx, "missing", "k", "GitHub")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = d.EnsureLinked(ctx, "u1", "", "GitHub")
	assert.ErrorIs(t, err, ErrLinkFailed)

	s.loginErr = newStoreError("add_login", "Login", CodeLoginAlreadyAssociated, "A user with this login already exists.")
	_, err = d.EnsureLinked(ctx, "u1", "k", "GitHub")
	require.ErrorIs(t, err, ErrLinkFailed)
	var le *LinkError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, []string{"A user with this login already exists."}, le.Messages)
}

func TestReconcileDetails(t *testing.T) {
	ctx := context.Background()

	t.Run("placeholder replaced by complete microsoft names", func(t *testing.T) {
		s := NewMemoryStore()
		u := &models.User{ID: "u1", Email: "a@x.com", FirstName: "a@x.com", LastName: "Old"}
		require.NoError(t, s.Create(ctx, u))
		d := newTestDirectory(s)

		changed, err := d.ReconcileDetails(ctx, u, &models.ExternalIdentity{Email: "a@x.com", FirstName: "Ann", LastName: "Lee", Provider: "Microsoft"})
		require.NoError(t, err)
		assert.True(t, changed)
		stored, _ := s.FindByID(ctx, "u1")
		assert.Equal(t, "Ann", stored.FirstName)
		assert.Equal(t, "Lee", stored.LastName)
	})

	t.Run("first name only leaves last name untouched", func(t *testing.T) {
		s := NewMemoryStore()
		u := &models.User{ID: "u1", Email: "a@x.com", FirstName: "a@x.com", LastName: "Old"}
		require.NoError(t, s.Create(ctx, u))
		d := newTestDirectory(s)

		changed, err := d.ReconcileDetails(ctx, u, &models.ExternalIdentity{Email: "a@x.com", FirstName: "Ann", Provider: "Microsoft"})
		require.NoError(t, err)
		assert.True(t, changed)
		stored, _ := s.FindByID(ctx, "u1")
		assert.Equal(t, "Ann", stored.FirstName)
		assert.Equal(t, "Old", stored.LastName)
	})

	t.Run("populated names are kept", func(t *testing.T) {
		s := NewMemoryStore()
		u := &models.User{ID: "u1", Email: "a@x.com", FirstName: "Ann", LastName: "Lee"}
		require.NoError(t, s.Create(ctx, u))
		d := newTestDirectory(s)

		changed, err := d.ReconcileDetails(ctx, u, &models.ExternalIdentity{Email: "a@x.com", FirstName: "Mona", LastName: "", Provider: "GitHub"})
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, "Ann", u.FirstName)
		assert.Equal(t, "Lee", u.LastName)
	})

	t.Run("github fills empty fields only", func(t *testing.T) {
		s := NewMemoryStore()
		u := &models.User{ID: "u1", Email: "a@x.com", FirstName: "someone@else.com"}
		require.NoError(t, s.Create(ctx, u))
		d := newTestDirectory(s)

		changed, err := d.ReconcileDetails(ctx, u, &models.ExternalIdentity{Email: "a@x.com", FirstName: "Mona", LastName: "Octocat", Provider: "GitHub"})
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "Mona", u.FirstName)
		assert.Equal(t, "Octocat", u.LastName)
	})

	t.Run("failed update leaves the user as stored", func(t *testing.T) {
		s := &failingStore{MemoryStore: NewMemoryStore()}
		u := &models.User{ID: "u1", Email: "a@x.com", FirstName: "a@x.com"}
		require.NoError(t, s.Create(ctx, u))
		s.updateErr = errors.New("db down")
		d := newTestDirectory(s)

		changed, err := d.ReconcileDetails(ctx, u, &models.ExternalIdentity{Email: "a@x.com", FirstName: "Ann", LastName: "Lee", Provider: "Microsoft"})
		require.Error(t, err)
		assert.False(t, changed)
		assert.Equal(t, "a@x.com", u.FirstName)
		assert.Empty(t, u.LastName)
	})
}

func TestSnapshot(t *testing.T) {
	d := newTestDirectory(NewMemoryStore())
	snap := d.Snapshot(&models.User{ID: "u1", Email: "a@x.com", UserName: "a@x.com", Roles: []string{"User"}})
	assert.Equal(t, "a@x.com", snap.DisplayName)
	assert.Equal(t, []string{"User"}, snap.Roles)

	snap = d.Snapshot(&models.User{ID: "u1", Email: "a@x.com", FirstName: "Ann", LastName: "Lee"})
	assert.Equal(t, "Ann Lee", snap.DisplayName)
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***@x.com", maskEmail("ann@x.com"))
	assert.Equal(t, "***", maskEmail("nope"))
}
