// Package sqlite persists legacy profiles and cards identities in an embedded
// SQLite database. The multi-profile table is optional so a file created by an
// older client behaves like a legacy-only deployment until migrated.
package sqlite

import (
	"cardcore/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	_ domain.LegacyStore       = (*Store)(nil)
	_ domain.MultiProfileStore = (*Store)(nil)
)

const legacyDDL = `CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	handle TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	bio TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
)`

var multiDDL = []string{
	`CREATE TABLE IF NOT EXISTS cards_identities (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		handle TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS cards_identities_owner_handle ON cards_identities(owner_id, lower(handle))`,
	`CREATE INDEX IF NOT EXISTS cards_identities_owner_created ON cards_identities(owner_id, created_at)`,
}

// Store implements the legacy and multi-profile contracts on one database.
type Store struct {
	db    *sql.DB
	path  string
	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*options)

type options struct {
	legacyOnly bool
	now        func() time.Time
	newID      func() string
}

// LegacyOnly skips creating the cards_identities table.
func LegacyOnly() Option { return func(o *options) { o.legacyOnly = true } }

// WithClock overrides the created_at source.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithIDGenerator overrides the row id generator.
func WithIDGenerator(fn func() string) Option { return func(o *options) { o.newID = fn } }

// NewStore opens (creating if needed) the database at path.
func NewStore(path string, opts ...Option) (*Store, error) {
	if path == "" {
		path = "cardcore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of concurrent engine writes.
	db.SetMaxOpenConns(1)
	s, err := New(context.Background(), db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.path = path
	return s, nil
}

// New wraps an open database and ensures the schema.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	o := options{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := db.ExecContext(ctx, legacyDDL); err != nil {
		return nil, fmt.Errorf("create profiles table: %w", err)
	}
	s := &Store{db: db, now: o.now, newID: o.newID}
	if !o.legacyOnly {
		if err := s.MigrateMultiProfile(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MigrateMultiProfile provisions the cards_identities table.
func (s *Store) MigrateMultiProfile(ctx context.Context) error {
	for _, stmt := range multiDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create cards_identities: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying sql.DB so the selection store can share it.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// PutLegacyProfile inserts or replaces the legacy row for p.OwnerAccountID.
func (s *Store) PutLegacyProfile(ctx context.Context, p domain.Profile) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles(id, handle, display_name, avatar_url, bio, created_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET handle=excluded.handle, display_name=excluded.display_name,
			avatar_url=excluded.avatar_url, bio=excluded.bio`,
		p.OwnerAccountID, p.Handle, p.DisplayName, p.AvatarURL, p.Bio, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("put legacy profile: %w", classify(err))
	}
	return nil
}

const legacyColumns = `id, handle, display_name, avatar_url, bio, created_at`

// ReadLegacyProfile implements domain.LegacyStore.
func (s *Store) ReadLegacyProfile(ctx context.Context, accountID string) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+legacyColumns+` FROM profiles WHERE id = ?`, accountID)
	p, err := scanLegacy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read legacy profile: %w", classify(err))
	}
	return &p, nil
}

// UpdateLegacyProfile implements domain.LegacyStore.
func (s *Store) UpdateLegacyProfile(ctx context.Context, accountID string, fields domain.ProfileFields) (domain.Profile, error) {
	set, args := updateClause(fields)
	if len(set) > 0 {
		args = append(args, accountID)
		res, err := s.db.ExecContext(ctx, `UPDATE profiles SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return domain.Profile{}, fmt.Errorf("update legacy profile: %w", classify(err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.Profile{}, domain.ErrNotFound
		}
	}
	p, err := s.ReadLegacyProfile(ctx, accountID)
	if err != nil {
		return domain.Profile{}, err
	}
	if p == nil {
		return domain.Profile{}, domain.ErrNotFound
	}
	return *p, nil
}

// FindLegacyProfileByHandle implements domain.LegacyStore.
func (s *Store) FindLegacyProfileByHandle(ctx context.Context, handle string) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+legacyColumns+` FROM profiles
		WHERE lower(handle) = ? ORDER BY created_at, id LIMIT 1`, domain.NormalizeHandle(handle))
	p, err := scanLegacy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find legacy profile: %w", classify(err))
	}
	return &p, nil
}

// ProbeMultiProfileSupport implements domain.MultiProfileStore.
func (s *Store) ProbeMultiProfileSupport(ctx context.Context) error {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM cards_identities LIMIT 1`).Scan(&id)
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return classify(err)
}

const multiColumns = `id, owner_id, handle, display_name, avatar_url, bio, created_at`

// ReadMultiProfiles implements domain.MultiProfileStore.
func (s *Store) ReadMultiProfiles(ctx context.Context, accountID string) ([]domain.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+multiColumns+` FROM cards_identities
		WHERE owner_id = ? ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("read cards identities: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.Profile, 0)
	for rows.Next() {
		p, err := scanMulti(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cards identity: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards identities: %w", classify(err))
	}
	return out, nil
}

// InsertMultiProfile implements domain.MultiProfileStore.
func (s *Store) InsertMultiProfile(ctx context.Context, in domain.NewProfile) (domain.Profile, error) {
	p := domain.Profile{
		ID:             s.newID(),
		OwnerAccountID: in.OwnerAccountID,
		Handle:         in.Handle,
		DisplayName:    in.DisplayName,
		AvatarURL:      in.AvatarURL,
		Bio:            in.Bio,
		CreatedAt:      s.now(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO cards_identities(`+multiColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerAccountID, p.Handle, p.DisplayName, p.AvatarURL, p.Bio, p.CreatedAt.UnixNano())
	if err != nil {
		return domain.Profile{}, fmt.Errorf("insert cards identity: %w", classify(err))
	}
	return p, nil
}

// UpdateMultiProfile implements domain.MultiProfileStore.
func (s *Store) UpdateMultiProfile(ctx context.Context, profileID string, fields domain.ProfileFields) (domain.Profile, error) {
	set, args := updateClause(fields)
	if len(set) > 0 {
		args = append(args, profileID)
		res, err := s.db.ExecContext(ctx, `UPDATE cards_identities SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return domain.Profile{}, fmt.Errorf("update cards identity: %w", classify(err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.Profile{}, domain.ErrNotFound
		}
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+multiColumns+` FROM cards_identities WHERE id = ?`, profileID)
	p, err := scanMulti(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("read cards identity: %w", classify(err))
	}
	return p, nil
}

// DeleteMultiProfile implements domain.MultiProfileStore.
func (s *Store) DeleteMultiProfile(ctx context.Context, profileID, accountID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cards_identities WHERE id = ? AND owner_id = ?`, profileID, accountID)
	if err != nil {
		return fmt.Errorf("delete cards identity: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindMultiProfileByHandle implements domain.MultiProfileStore.
func (s *Store) FindMultiProfileByHandle(ctx context.Context, accountID, handle string) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+multiColumns+` FROM cards_identities
		WHERE owner_id = ? AND lower(handle) = ? ORDER BY created_at, id LIMIT 1`, accountID, domain.NormalizeHandle(handle))
	p, err := scanMulti(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find cards identity: %w", classify(err))
	}
	return &p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLegacy(row scanner) (domain.Profile, error) {
	var p domain.Profile
	var created int64
	if err := row.Scan(&p.ID, &p.Handle, &p.DisplayName, &p.AvatarURL, &p.Bio, &created); err != nil {
		return domain.Profile{}, err
	}
	p.OwnerAccountID = p.ID
	p.CreatedAt = time.Unix(0, created).UTC()
	return p, nil
}

func scanMulti(row scanner) (domain.Profile, error) {
	var p domain.Profile
	var created int64
	if err := row.Scan(&p.ID, &p.OwnerAccountID, &p.Handle, &p.DisplayName, &p.AvatarURL, &p.Bio, &created); err != nil {
		return domain.Profile{}, err
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	return p, nil
}

func updateClause(fields domain.ProfileFields) ([]string, []any) {
	var set []string
	var args []any
	add := func(col string, v *string) {
		if v != nil {
			set = append(set, col+" = ?")
			args = append(args, *v)
		}
	}
	add("handle", fields.Handle)
	add("display_name", fields.DisplayName)
	add("avatar_url", fields.AvatarURL)
	add("bio", fields.Bio)
	return set, args
}

// classify maps SQLite failures onto the domain taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", domain.ErrDuplicateHandle, err)
		}
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %v", domain.ErrSchemaUnsupported, err)
	}
	return err
}
