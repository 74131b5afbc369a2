// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nubia/internal/projection"
)

// Store is the postgres-backed projection store.
type Store struct {
	db     *sql.DB
	tracer trace.Tracer
}

// New creates a store on top of an open database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("nubia/storage/postgres"),
	}
}

// Migrate creates the projection tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			email TEXT NOT NULL,
			version INT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			roles TEXT[] NOT NULL DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			image_src TEXT NOT NULL,
			description TEXT NOT NULL,
			author_id TEXT NOT NULL,
			version INT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS library_entries (
			account_id TEXT NOT NULL REFERENCES accounts(id),
			item_id TEXT NOT NULL,
			position INT NOT NULL,
			PRIMARY KEY (account_id, item_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate projection schema: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*projection.Account, error) {
	ctx, span := s.tracer.Start(ctx, "store.get_account",
		trace.WithAttributes(attribute.String("account.id", id)),
	)
	defer span.End()

	account := &projection.Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, version, active, roles
		FROM accounts
		WHERE id = $1
	`, id).Scan(
		&account.ID,
		&account.FullName,
		&account.Email,
		&account.Version,
		&account.Active,
		pq.Array(&account.Roles),
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", id, projection.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id
		FROM library_entries
		WHERE account_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query library entries: %w", err)
	}
	defer rows.Close()

	account.Library = []projection.LibraryEntry{}
	for rows.Next() {
		var itemID string
		if err := rows.Scan(&itemID); err != nil {
			return nil, fmt.Errorf("scan library entry: %w", err)
		}
		account.Library = append(account.Library, projection.LibraryEntry{ItemID: itemID})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate library entries: %w", err)
	}

	span.SetAttributes(attribute.Int("library.size", len(account.Library)))
	return account, nil
}

func (s *Store) InsertAccount(ctx context.Context, account *projection.Account) error {
	ctx, span := s.tracer.Start(ctx, "store.insert_account",
		trace.WithAttributes(attribute.String("account.id", account.ID)),
	)
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, full_name, email, version, active, roles)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, account.ID, account.FullName, account.Email, account.Version, account.Active, pq.Array(account.Roles))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("account %s: %w", account.ID, projection.ErrDuplicate)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) SaveAccount(ctx context.Context, account *projection.Account, expected int) error {
	ctx, span := s.tracer.Start(ctx, "store.save_account",
		trace.WithAttributes(
			attribute.String("account.id", account.ID),
			attribute.Int("expected.version", expected),
		),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET full_name = $1, email = $2, version = $3, active = $4, roles = $5
		WHERE id = $6 AND version = $7
	`, account.FullName, account.Email, account.Version, account.Active, pq.Array(account.Roles), account.ID, expected)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account result: %w", err)
	}
	if affected == 0 {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, account.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check account existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("account %s: %w", account.ID, projection.ErrNotFound)
		}
		return fmt.Errorf("account %s expected version %d: %w",
			account.ID, expected, projection.ErrVersionConflict)
	}
	return nil
}

// SaveLibrary replaces the whole membership set in one transaction. The
// account version is deliberately not touched.
func (s *Store) SaveLibrary(ctx context.Context, accountID string, entries []projection.LibraryEntry) error {
	ctx, span := s.tracer.Start(ctx, "store.save_library",
		trace.WithAttributes(
			attribute.String("account.id", accountID),
			attribute.Int("library.size", len(entries)),
		),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check account existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("account %s: %w", accountID, projection.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM library_entries WHERE account_id = $1`, accountID,
	); err != nil {
		return fmt.Errorf("clear library entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO library_entries (account_id, item_id, position)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, item_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, entry := range entries {
		if _, err := stmt.ExecContext(ctx, accountID, entry.ItemID, i); err != nil {
			return fmt.Errorf("insert library entry %s: %w", entry.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*projection.Item, error) {
	ctx, span := s.tracer.Start(ctx, "store.get_item",
		trace.WithAttributes(attribute.String("item.id", id)),
	)
	defer span.End()

	item := &projection.Item{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, price, image_src, description, author_id, version
		FROM items
		WHERE id = $1
	`, id).Scan(
		&item.ID,
		&item.Title,
		&item.Price,
		&item.ImageSrc,
		&item.Description,
		&item.AuthorID,
		&item.Version,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %s: %w", id, projection.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

func (s *Store) InsertItem(ctx context.Context, item *projection.Item) error {
	ctx, span := s.tracer.Start(ctx, "store.insert_item",
		trace.WithAttributes(attribute.String("item.id", item.ID)),
	)
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, title, price, image_src, description, author_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.Title, item.Price, item.ImageSrc, item.Description, item.AuthorID, item.Version)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("item %s: %w", item.ID, projection.ErrDuplicate)
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *Store) SaveItem(ctx context.Context, item *projection.Item, expected int) error {
	ctx, span := s.tracer.Start(ctx, "store.save_item",
		trace.WithAttributes(
			attribute.String("item.id", item.ID),
			attribute.Int("expected.version", expected),
		),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET title = $1, price = $2, image_src = $3, description = $4, version = $5
		WHERE id = $6 AND version = $7
	`, item.Title, item.Price, item.ImageSrc, item.Description, item.Version, item.ID, expected)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item result: %w", err)
	}
	if affected == 0 {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, item.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check item existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("item %s: %w", item.ID, projection.ErrNotFound)
		}
		return fmt.Errorf("item %s expected version %d: %w",
			item.ID, expected, projection.ErrVersionConflict)
	}
	return nil
}
