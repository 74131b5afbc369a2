// internal/projection/implementation.go
package projection

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"nubia/internal/event"
)

// service implements the Service interface.
type service struct {
	store  Store
	locks  keyLocks
	tracer trace.Tracer
	logger *zap.Logger
}

// NewService creates a new projection service instance.
func NewService(store Store, logger *zap.Logger) Service {
	return &service{
		store:  store,
		tracer: otel.Tracer("nubia/projection"),
		logger: logger,
	}
}

// AccountCreated materializes a new account with an empty library. The
// version is taken from the event as given; there is no prior state to
// guard against.
func (s *service) AccountCreated(ctx context.Context, e *event.AccountCreated) (*Account, error) {
	ctx, span := s.tracer.Start(ctx, "projection.account_created",
		trace.WithAttributes(attribute.String("account.id", e.ID)),
	)
	defer span.End()

	if e.ID == "" {
		return nil, &ValidationError{Field: "id"}
	}
	if e.FullName == "" {
		return nil, &ValidationError{Field: "fullName"}
	}
	if e.Email == "" {
		return nil, &ValidationError{Field: "email"}
	}

	defer s.locks.lock(e.ID).Unlock()

	account := &Account{
		ID:       e.ID,
		FullName: e.FullName,
		Email:    e.Email,
		Version:  e.Version,
		Active:   true,
		Roles:    e.Roles,
		Library:  []LibraryEntry{},
	}

	if err := s.store.InsertAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("insert account %s: %w", e.ID, err)
	}

	return account, nil
}

// AccountUpdated applies a display-name change to an existing, active
// account. The version guard runs inside the per-identifier critical
// section; on rejection the store is untouched.
func (s *service) AccountUpdated(ctx context.Context, e *event.AccountUpdated) (*Account, error) {
	ctx, span := s.tracer.Start(ctx, "projection.account_updated",
		trace.WithAttributes(
			attribute.String("account.id", e.ID),
			attribute.Int("event.version", e.Version),
		),
	)
	defer span.End()

	if e.ID == "" {
		return nil, &ValidationError{Field: "id"}
	}
	if e.Version == 0 {
		return nil, &ValidationError{Field: "version"}
	}

	defer s.locks.lock(e.ID).Unlock()

	account, err := s.store.GetAccount(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", e.ID, err)
	}
	if !account.Active {
		// Deactivated accounts are invisible to updates.
		return nil, fmt.Errorf("account %s inactive: %w", e.ID, ErrNotFound)
	}

	if err := CheckVersion(event.KindAccountUpdated, account.Version, e.Version); err != nil {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, err
	}

	account.FullName = e.FullName
	account.Version = e.Version

	if err := s.store.SaveAccount(ctx, account, e.Version-1); err != nil {
		return nil, fmt.Errorf("save account %s: %w", e.ID, err)
	}

	return account, nil
}

// ItemCreated materializes a new catalog item.
func (s *service) ItemCreated(ctx context.Context, e *event.ItemCreated) (*Item, error) {
	ctx, span := s.tracer.Start(ctx, "projection.item_created",
		trace.WithAttributes(attribute.String("item.id", e.ID)),
	)
	defer span.End()

	if e.ID == "" {
		return nil, &ValidationError{Field: "id"}
	}
	if e.Version == 0 {
		return nil, &ValidationError{Field: "version"}
	}

	defer s.locks.lock(e.ID).Unlock()

	item := &Item{
		ID:          e.ID,
		Title:       e.Title,
		Price:       e.Price,
		ImageSrc:    e.ImageSrc,
		Description: e.Description,
		AuthorID:    e.AuthorID,
		Version:     e.Version,
	}

	if err := s.store.InsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("insert item %s: %w", e.ID, err)
	}

	return item, nil
}

// ItemUpdated replaces whichever mutable fields the event carries; nil
// fields keep their current value. The version guard gates the whole
// replacement.
func (s *service) ItemUpdated(ctx context.Context, e *event.ItemUpdated) (*Item, error) {
	ctx, span := s.tracer.Start(ctx, "projection.item_updated",
		trace.WithAttributes(
			attribute.String("item.id", e.ID),
			attribute.Int("event.version", e.Version),
		),
	)
	defer span.End()

	if e.ID == "" {
		return nil, &ValidationError{Field: "id"}
	}
	if e.Version == 0 {
		return nil, &ValidationError{Field: "version"}
	}

	defer s.locks.lock(e.ID).Unlock()

	item, err := s.store.GetItem(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", e.ID, err)
	}

	if err := CheckVersion(event.KindItemUpdated, item.Version, e.Version); err != nil {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, err
	}

	if e.Title != nil {
		item.Title = *e.Title
	}
	if e.Price != nil {
		item.Price = *e.Price
	}
	if e.ImageSrc != nil {
		item.ImageSrc = *e.ImageSrc
	}
	if e.Description != nil {
		item.Description = *e.Description
	}
	item.Version = e.Version

	if err := s.store.SaveItem(ctx, item, e.Version-1); err != nil {
		return nil, fmt.Errorf("save item %s: %w", e.ID, err)
	}

	return item, nil
}

// AddToLibrary puts itemID into the account's library. Adding an item
// that is already present is a success no-op: under at-least-once
// delivery a replayed add must leave the set exactly as it was.
func (s *service) AddToLibrary(ctx context.Context, userID, itemID string) ([]LibraryEntry, error) {
	ctx, span := s.tracer.Start(ctx, "projection.add_to_library",
		trace.WithAttributes(
			attribute.String("account.id", userID),
			attribute.String("item.id", itemID),
		),
	)
	defer span.End()

	if userID == "" {
		return nil, &ValidationError{Field: "userId"}
	}
	if itemID == "" {
		return nil, &ValidationError{Field: "itemId"}
	}

	defer s.locks.lock(userID).Unlock()

	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}

	for _, entry := range account.Library {
		if entry.ItemID == itemID {
			// Already applied; nothing more to do.
			span.SetAttributes(attribute.Bool("membership.duplicate", true))
			return s.resolve(ctx, account.Library)
		}
	}

	entries := append(account.Library, LibraryEntry{ItemID: itemID})
	if err := s.store.SaveLibrary(ctx, userID, entries); err != nil {
		return nil, fmt.Errorf("save library %s: %w", userID, err)
	}

	return s.resolve(ctx, entries)
}

// RemoveFromLibrary takes itemID out of the account's library. Removing
// an absent item is a success no-op for the same replay reasoning as
// AddToLibrary.
func (s *service) RemoveFromLibrary(ctx context.Context, userID, itemID string) ([]LibraryEntry, error) {
	ctx, span := s.tracer.Start(ctx, "projection.remove_from_library",
		trace.WithAttributes(
			attribute.String("account.id", userID),
			attribute.String("item.id", itemID),
		),
	)
	defer span.End()

	if userID == "" {
		return nil, &ValidationError{Field: "userId"}
	}
	if itemID == "" {
		return nil, &ValidationError{Field: "itemId"}
	}

	defer s.locks.lock(userID).Unlock()

	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}

	entries := make([]LibraryEntry, 0, len(account.Library))
	removed := false
	for _, entry := range account.Library {
		if entry.ItemID == itemID {
			removed = true
			continue
		}
		entries = append(entries, entry)
	}

	if !removed {
		span.SetAttributes(attribute.Bool("membership.absent", true))
		return s.resolve(ctx, account.Library)
	}

	if err := s.store.SaveLibrary(ctx, userID, entries); err != nil {
		return nil, fmt.Errorf("save library %s: %w", userID, err)
	}

	return s.resolve(ctx, entries)
}

// GetLibrary returns the account's current library with item snapshots
// attached where the catalog knows them.
func (s *service) GetLibrary(ctx context.Context, userID string) ([]LibraryEntry, error) {
	ctx, span := s.tracer.Start(ctx, "projection.get_library",
		trace.WithAttributes(attribute.String("account.id", userID)),
	)
	defer span.End()

	if userID == "" {
		return nil, &ValidationError{Field: "userId"}
	}

	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}

	return s.resolve(ctx, account.Library)
}

// GetAccount returns the current account snapshot.
func (s *service) GetAccount(ctx context.Context, id string) (*Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return account, nil
}

// GetItem returns the current catalog item snapshot.
func (s *service) GetItem(ctx context.Context, id string) (*Item, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return item, nil
}

// resolve attaches catalog snapshots to library entries. Entries whose
// item has not been created yet stay by-reference; they resolve on a
// later read once the ItemCreated event lands.
func (s *service) resolve(ctx context.Context, entries []LibraryEntry) ([]LibraryEntry, error) {
	resolved := make([]LibraryEntry, len(entries))
	for i, entry := range entries {
		resolved[i] = LibraryEntry{ItemID: entry.ItemID}
		item, err := s.store.GetItem(ctx, entry.ItemID)
		if errors.Is(err, ErrNotFound) {
			s.logger.Debug("library entry unresolved",
				zap.String("item_id", entry.ItemID),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve item %s: %w", entry.ItemID, err)
		}
		resolved[i].Item = item
	}
	return resolved, nil
}
