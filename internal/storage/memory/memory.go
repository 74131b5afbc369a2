// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sync"

	"nubia/internal/projection"
)

// Store is an in-memory projection store. Every snapshot crossing the
// boundary is cloned, so callers can never mutate shared state through a
// returned pointer.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*projection.Account
	items    map[string]*projection.Item
}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*projection.Account),
		items:    make(map[string]*projection.Item),
	}
}

func (s *Store) GetAccount(ctx context.Context, id string) (*projection.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, projection.ErrNotFound)
	}
	return account.Clone(), nil
}

func (s *Store) InsertAccount(ctx context.Context, account *projection.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return fmt.Errorf("account %s: %w", account.ID, projection.ErrDuplicate)
	}
	s.accounts[account.ID] = account.Clone()
	return nil
}

// SaveAccount replaces the account's own fields under a version check.
// The stored library is kept as is: membership is a separate sub-state
// saved through SaveLibrary.
func (s *Store) SaveAccount(ctx context.Context, account *projection.Account, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[account.ID]
	if !ok {
		return fmt.Errorf("account %s: %w", account.ID, projection.ErrNotFound)
	}
	if current.Version != expected {
		return fmt.Errorf("account %s at version %d, expected %d: %w",
			account.ID, current.Version, expected, projection.ErrVersionConflict)
	}

	next := account.Clone()
	next.Library = current.Library
	s.accounts[account.ID] = next
	return nil
}

func (s *Store) SaveLibrary(ctx context.Context, accountID string, entries []projection.LibraryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, projection.ErrNotFound)
	}

	next := current.Clone()
	next.Library = make([]projection.LibraryEntry, len(entries))
	for i, e := range entries {
		// Persist by reference only; snapshots are attached on read.
		next.Library[i] = projection.LibraryEntry{ItemID: e.ItemID}
	}
	s.accounts[accountID] = next
	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*projection.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, projection.ErrNotFound)
	}
	return item.Clone(), nil
}

func (s *Store) InsertItem(ctx context.Context, item *projection.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; ok {
		return fmt.Errorf("item %s: %w", item.ID, projection.ErrDuplicate)
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *Store) SaveItem(ctx context.Context, item *projection.Item, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[item.ID]
	if !ok {
		return fmt.Errorf("item %s: %w", item.ID, projection.ErrNotFound)
	}
	if current.Version != expected {
		return fmt.Errorf("item %s at version %d, expected %d: %w",
			item.ID, current.Version, expected, projection.ErrVersionConflict)
	}
	s.items[item.ID] = item.Clone()
	return nil
}
