// internal/projection/store.go
package projection

import "context"

// Store is the persistence collaborator behind the projection: a keyed
// mapping from entity identifier to snapshot, per entity kind.
//
// Gets return ErrNotFound for absent identifiers and inserts return
// ErrDuplicate for present ones. Saves are compare-and-swap on the entity
// version: expected is the version the caller read, and ErrVersionConflict
// means the stored version moved underneath it. SaveLibrary replaces the
// membership sub-state of an account without touching its version; the
// two sub-states of an account are versioned independently.
//
// No operation spans more than one identifier.
type Store interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	InsertAccount(ctx context.Context, account *Account) error
	SaveAccount(ctx context.Context, account *Account, expected int) error
	SaveLibrary(ctx context.Context, accountID string, entries []LibraryEntry) error

	GetItem(ctx context.Context, id string) (*Item, error)
	InsertItem(ctx context.Context, item *Item) error
	SaveItem(ctx context.Context, item *Item, expected int) error
}
