package users

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/socialmap/socialmap/backend/go-services/internal/models"
	"github.com/socialmap/socialmap/backend/go-services/internal/password"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type failingHasher struct{}

func (failingHasher) Hash(string) (string, error) { return "", errors.New("entropy exhausted") }

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewService(repo, password.NewHasher(bcrypt.MinCost)), repo
}

func TestCreate_HashesAndAssignsDefaults(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	u, err := svc.Create(ctx, NewUser{Name: "Asha", Email: "  Asha@Example.com ", Password: "Secret1!"})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	require.Equal(t, "asha@example.com", u.Email)
	require.Equal(t, models.RoleUser, u.Role)
	require.Empty(t, u.PasswordHash, "returned record must not carry the hash")
	require.False(t, u.CreatedAt.IsZero())
	require.False(t, u.CreatedAt.After(u.UpdatedAt))

	stored, err := repo.FindByID(ctx, u.ID, true)
	require.NoError(t, err)
	require.NotEmpty(t, stored.PasswordHash)
	require.NotEqual(t, "Secret1!", stored.PasswordHash)
	require.True(t, password.NewHasher(bcrypt.MinCost).Verify("Secret1!", stored.PasswordHash))
}

func TestCreate_DuplicateEmailCaseInsensitive(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, NewUser{Name: "A", Email: "dup@example.com", Password: "Secret1!"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, NewUser{Name: "B", Email: "DUP@example.com", Password: "Secret1!"})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestCreate_HashFailureAbortsWrite(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, failingHasher{})

	_, err := svc.Create(context.Background(), NewUser{Name: "A", Email: "a@example.com", Password: "Secret1!"})
	require.Error(t, err)

	got, err := repo.FindByEmail(context.Background(), "a@example.com", false)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCreate_FederatedWithoutPassword(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	u, err := svc.Create(ctx, NewUser{Name: "Bo", Email: "bo@example.com", FederatedID: "fid-1"})
	require.NoError(t, err)

	stored, err := repo.FindByID(ctx, u.ID, true)
	require.NoError(t, err)
	require.Empty(t, stored.PasswordHash)
	require.Equal(t, "fid-1", stored.FederatedID)

	match, err := svc.FindByEmailAndFederatedID(ctx, "BO@example.com", "fid-1")
	require.NoError(t, err)
	require.NotNil(t, match)
	miss, err := svc.FindByEmailAndFederatedID(ctx, "bo@example.com", "fid-2")
	require.NoError(t, err)
	require.Nil(t, miss)
	empty, err := svc.FindByEmailAndFederatedID(ctx, "bo@example.com", "")
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestFindByID_ProjectionExcludesHash(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	u, err := svc.Create(ctx, NewUser{Name: "A", Email: "p@example.com", Password: "Secret1!"})
	require.NoError(t, err)

	plain, err := svc.FindByID(ctx, u.ID, false)
	require.NoError(t, err)
	require.Empty(t, plain.PasswordHash)

	withHash, err := svc.FindByID(ctx, u.ID, true)
	require.NoError(t, err)
	require.NotEmpty(t, withHash.PasswordHash)

	missing, err := svc.FindByID(ctx, "nope", false)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestUpdate_OnlySuppliedFields(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	u, err := svc.Create(ctx, NewUser{Name: "Old", Email: "old@example.com", Password: "Secret1!", Avatar: "a.png"})
	require.NoError(t, err)

	name := "New"
	email := "NEW@example.com"
	got, err := svc.Update(ctx, u.ID, Changes{Name: &name, Email: &email})
	require.NoError(t, err)
	require.Equal(t, "New", got.Name)
	require.Equal(t, "new@example.com", got.Email)
	require.Equal(t, "a.png", got.Avatar)

	byOld, err := svc.FindByEmail(ctx, "old@example.com", false)
	require.NoError(t, err)
	require.Nil(t, byOld)

	same, err := svc.Update(ctx, u.ID, Changes{})
	require.NoError(t, err)
	require.Equal(t, "New", same.Name)

	_, err = svc.Update(ctx, "missing", Changes{Name: &name})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Update(ctx, "missing", Changes{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_EmailCollisionHitsStoreConstraint(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Create(ctx, NewUser{Name: "A", Email: "a@example.com", Password: "Secret1!"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, NewUser{Name: "B", Email: "b@example.com", Password: "Secret1!"})
	require.NoError(t, err)

	taken := "A@example.com"
	_, err = svc.Update(ctx, b.ID, Changes{Email: &taken})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestUpdatePassword_Rehashes(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	u, err := svc.Create(ctx, NewUser{Name: "A", Email: "pw@example.com", Password: "Secret1!"})
	require.NoError(t, err)
	before, _ := repo.FindByID(ctx, u.ID, true)

	require.NoError(t, svc.UpdatePassword(ctx, u.ID, "Another2@"))
	after, _ := repo.FindByID(ctx, u.ID, true)
	require.NotEqual(t, before.PasswordHash, after.PasswordHash)

	h := password.NewHasher(bcrypt.MinCost)
	require.True(t, h.Verify("Another2@", after.PasswordHash))
	require.False(t, h.Verify("Secret1!", after.PasswordHash))

	require.ErrorIs(t, svc.UpdatePassword(ctx, "missing", "Another2@"), ErrNotFound)
}

func TestCreate_ConcurrentSameEmailOneWinner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, NewUser{Name: "Racer", Email: "race@example.com", Password: "Secret1!"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, dup := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateEmail):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, dup)
}
