// internal/projection/implementation_test.go
package projection_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nubia/internal/event"
	"nubia/internal/projection"
	"nubia/internal/storage/memory"
)

func newService(t *testing.T) projection.Service {
	t.Helper()
	return projection.NewService(memory.New(), zap.NewNop())
}

func createAccount(t *testing.T, svc projection.Service, id string) *projection.Account {
	t.Helper()
	account, err := svc.AccountCreated(context.Background(), &event.AccountCreated{
		ID:       id,
		FullName: "Ann",
		Email:    "a@x.com",
		Version:  1,
		Roles:    []string{"reader"},
	})
	require.NoError(t, err)
	return account
}

func createItem(t *testing.T, svc projection.Service, id string) *projection.Item {
	t.Helper()
	item, err := svc.ItemCreated(context.Background(), &event.ItemCreated{
		ID:       id,
		Title:    "The Hollow Crown",
		Price:    12.50,
		AuthorID: "u9",
		Version:  1,
	})
	require.NoError(t, err)
	return item
}

func TestAccountCreatedProjectsEmptyLibrary(t *testing.T) {
	svc := newService(t)

	account := createAccount(t, svc, "u1")
	assert.Equal(t, "u1", account.ID)
	assert.Equal(t, 1, account.Version)
	assert.True(t, account.Active)
	assert.Empty(t, account.Library)

	stored, err := svc.GetAccount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", stored.FullName)
	assert.Empty(t, stored.Library)
}

func TestAccountCreatedValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	cases := []struct {
		field string
		e     *event.AccountCreated
	}{
		{"id", &event.AccountCreated{FullName: "Ann", Email: "a@x.com", Version: 1}},
		{"fullName", &event.AccountCreated{ID: "u1", Email: "a@x.com", Version: 1}},
		{"email", &event.AccountCreated{ID: "u1", FullName: "Ann", Version: 1}},
	}
	for _, tc := range cases {
		_, err := svc.AccountCreated(ctx, tc.e)
		var validation *projection.ValidationError
		require.True(t, errors.As(err, &validation), tc.field)
		assert.Equal(t, tc.field, validation.Field)
	}

	// Validation must be side-effect-free.
	_, err := svc.GetAccount(ctx, "u1")
	assert.ErrorIs(t, err, projection.ErrNotFound)
}

func TestAccountCreatedTwice(t *testing.T) {
	svc := newService(t)
	createAccount(t, svc, "u1")

	_, err := svc.AccountCreated(context.Background(), &event.AccountCreated{
		ID:       "u1",
		FullName: "Ann",
		Email:    "a@x.com",
		Version:  1,
	})
	assert.ErrorIs(t, err, projection.ErrDuplicate)
}

func TestAccountUpdatedVersionSequence(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "u1")

	account, err := svc.AccountUpdated(ctx, &event.AccountUpdated{ID: "u1", FullName: "Anne", Version: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, account.Version)
	assert.Equal(t, "Anne", account.FullName)

	// Replaying the applied version is a stale delivery.
	_, err = svc.AccountUpdated(ctx, &event.AccountUpdated{ID: "u1", FullName: "Anne", Version: 2})
	var outOfOrder *projection.OutOfOrderError
	require.True(t, errors.As(err, &outOfOrder))
	assert.Equal(t, 3, outOfOrder.Expected)
	assert.Equal(t, 2, outOfOrder.Received)

	// Skipping ahead means a prerequisite has not arrived yet.
	_, err = svc.AccountUpdated(ctx, &event.AccountUpdated{ID: "u1", FullName: "Anna", Version: 4})
	require.True(t, errors.As(err, &outOfOrder))
	assert.Equal(t, 3, outOfOrder.Expected)
	assert.Equal(t, 4, outOfOrder.Received)

	// The rejected events left no trace.
	stored, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.Equal(t, "Anne", stored.FullName)
}

func TestAccountUpdatedUnknownID(t *testing.T) {
	svc := newService(t)

	_, err := svc.AccountUpdated(context.Background(), &event.AccountUpdated{ID: "zzz", FullName: "X", Version: 2})
	assert.ErrorIs(t, err, projection.ErrNotFound)
}

func TestItemUpdatedPartialReplace(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	createItem(t, svc, "g1")

	price := 7.25
	item, err := svc.ItemUpdated(ctx, &event.ItemUpdated{ID: "g1", Version: 2, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, 7.25, item.Price)
	assert.Equal(t, "The Hollow Crown", item.Title)
	assert.Equal(t, 2, item.Version)

	title := "The Hollow Crown, Revised"
	item, err = svc.ItemUpdated(ctx, &event.ItemUpdated{ID: "g1", Version: 3, Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, item.Title)
	assert.Equal(t, 7.25, item.Price)
}

func TestItemUpdatedValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.ItemUpdated(ctx, &event.ItemUpdated{Version: 2})
	var validation *projection.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "id", validation.Field)

	_, err = svc.ItemUpdated(ctx, &event.ItemUpdated{ID: "g1"})
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "version", validation.Field)
}

func TestAddToLibraryIdempotent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "u1")

	// g1 was never created; the entry is stored by reference.
	library, err := svc.AddToLibrary(ctx, "u1", "g1")
	require.NoError(t, err)
	require.Len(t, library, 1)
	assert.Equal(t, "g1", library[0].ItemID)
	assert.Nil(t, library[0].Item)

	// A replayed add is a success no-op.
	library, err = svc.AddToLibrary(ctx, "u1", "g1")
	require.NoError(t, err)
	require.Len(t, library, 1)
	assert.Equal(t, "g1", library[0].ItemID)

	// Removing something never added is also a success no-op.
	library, err = svc.RemoveFromLibrary(ctx, "u1", "g2")
	require.NoError(t, err)
	require.Len(t, library, 1)
}

func TestRemoveFromLibraryIdempotent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "u1")

	_, err := svc.AddToLibrary(ctx, "u1", "g1")
	require.NoError(t, err)

	library, err := svc.RemoveFromLibrary(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Empty(t, library)

	library, err = svc.RemoveFromLibrary(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Empty(t, library)
}

func TestLibraryResolvesLazily(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "u1")

	library, err := svc.AddToLibrary(ctx, "u1", "g1")
	require.NoError(t, err)
	require.Len(t, library, 1)
	assert.Nil(t, library[0].Item)

	// Once the ItemCreated event lands, reads resolve the snapshot.
	createItem(t, svc, "g1")

	library, err = svc.GetLibrary(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, library, 1)
	require.NotNil(t, library[0].Item)
	assert.Equal(t, "The Hollow Crown", library[0].Item.Title)
}

func TestMembershipOnUnknownAccount(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.AddToLibrary(ctx, "ghost", "g1")
	assert.ErrorIs(t, err, projection.ErrNotFound)

	_, err = svc.RemoveFromLibrary(ctx, "ghost", "g1")
	assert.ErrorIs(t, err, projection.ErrNotFound)

	_, err = svc.GetLibrary(ctx, "ghost")
	assert.ErrorIs(t, err, projection.ErrNotFound)
}

func TestMembershipDoesNotBumpAccountVersion(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	createAccount(t, svc, "u1")

	_, err := svc.AddToLibrary(ctx, "u1", "g1")
	require.NoError(t, err)

	account, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, account.Version)

	// The version sequence continues as if membership never happened.
	updated, err := svc.AccountUpdated(ctx, &event.AccountUpdated{ID: "u1", FullName: "Anne", Version: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	// And the update kept the library intact.
	library, err := svc.GetLibrary(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, library, 1)
	assert.Equal(t, "g1", library[0].ItemID)
}
