// Package sqlite persists active profile selections in a SQLite table. It is
// usually opened on the same database as the profile store.
package sqlite

import (
	"cardcore/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // driver registration for Open
)

const ddl = `CREATE TABLE IF NOT EXISTS active_profile_selection (
	account_id TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

var _ domain.SelectionStore = (*Store)(nil)

// Store reads and writes active_profile_selection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens path and ensures the selection table.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New ensures the selection table on db.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create selection table: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// GetSelection returns "" when the account has no row.
func (s *Store) GetSelection(ctx context.Context, accountID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT profile_id FROM active_profile_selection WHERE account_id = ?`, accountID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get selection: %w", err)
	}
	return id, nil
}

// SetSelection upserts the row. An empty id deletes it.
func (s *Store) SetSelection(ctx context.Context, accountID, profileID string) error {
	if profileID == "" {
		return s.ClearSelection(ctx, accountID)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO active_profile_selection(account_id, profile_id, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET profile_id=excluded.profile_id, updated_at=excluded.updated_at`,
		accountID, profileID, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("set selection: %w", err)
	}
	return nil
}

// ClearSelection deletes the account's row.
func (s *Store) ClearSelection(ctx context.Context, accountID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_profile_selection WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("clear selection: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
