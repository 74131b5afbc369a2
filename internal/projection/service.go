// internal/projection/service.go
package projection

import (
	"context"

	"nubia/internal/event"
)

// Service applies recognized events to the projection and answers
// read-side queries.
type Service interface {
	AccountCreated(ctx context.Context, e *event.AccountCreated) (*Account, error)
	AccountUpdated(ctx context.Context, e *event.AccountUpdated) (*Account, error)
	ItemCreated(ctx context.Context, e *event.ItemCreated) (*Item, error)
	ItemUpdated(ctx context.Context, e *event.ItemUpdated) (*Item, error)

	AddToLibrary(ctx context.Context, userID, itemID string) ([]LibraryEntry, error)
	RemoveFromLibrary(ctx context.Context, userID, itemID string) ([]LibraryEntry, error)
	GetLibrary(ctx context.Context, userID string) ([]LibraryEntry, error)

	GetAccount(ctx context.Context, id string) (*Account, error)
	GetItem(ctx context.Context, id string) (*Item, error)
}
