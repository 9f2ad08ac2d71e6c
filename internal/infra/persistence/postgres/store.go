// Package postgres provides Postgres-backed legacy and multi-profile stores.
// The legacy table is ensured on startup; the multi-profile table is only
// provisioned by Migrate so older databases report the schema as unsupported.
package postgres

import (
	"cardcore/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var (
	_ domain.LegacyStore       = (*Store)(nil)
	_ domain.MultiProfileStore = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/cardcore?sslmode=disable"

	codeUndefinedTable  = "42P01"
	codeUniqueViolation = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const legacyDDL = `CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	handle TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	bio TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

var multiDDL = []string{
	`CREATE TABLE IF NOT EXISTS cards_identities (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		handle TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS cards_identities_owner_handle ON cards_identities (owner_id, lower(handle))`,
	`CREATE INDEX IF NOT EXISTS cards_identities_owner_created ON cards_identities (owner_id, created_at)`,
}

// Store talks to Postgres through database/sql.
type Store struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the created_at source for inserted rows.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithIDGenerator overrides the row id generator.
func WithIDGenerator(fn func() string) Option { return func(s *Store) { s.newID = fn } }

// NewStore opens a store using dsn (falls back to defaultDSN), pings it and
// ensures the legacy table exists.
func NewStore(dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, legacyDDL); err != nil {
		return nil, fmt.Errorf("ensure profiles table: %w", err)
	}
	s := &Store{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate provisions cards_identities and its indexes.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range multiDDL {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

const (
	legacyColumns = `id, handle, display_name, avatar_url, bio, created_at`
	multiColumns  = `id, owner_id, handle, display_name, avatar_url, bio, created_at`
)

// ReadLegacyProfile implements domain.LegacyStore.
func (s *Store) ReadLegacyProfile(ctx context.Context, accountID string) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+legacyColumns+` FROM profiles WHERE id = $1`, accountID)
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
	if len(set) == 0 {
		p, err := s.ReadLegacyProfile(ctx, accountID)
		if err != nil {
			return domain.Profile{}, err
		}
		if p == nil {
			return domain.Profile{}, domain.ErrNotFound
		}
		return *p, nil
	}
	args = append(args, accountID)
	query := `UPDATE profiles SET ` + strings.Join(set, ", ") + ` WHERE id = $` + strconv.Itoa(len(args)) + ` RETURNING ` + legacyColumns
	p, err := scanLegacy(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("update legacy profile: %w", classify(err))
	}
	return p, nil
}

// FindLegacyProfileByHandle implements domain.LegacyStore.
func (s *Store) FindLegacyProfileByHandle(ctx context.Context, handle string) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+legacyColumns+` FROM profiles
		WHERE lower(handle) = $1 ORDER BY created_at, id LIMIT 1`, domain.NormalizeHandle(handle))
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

// ReadMultiProfiles implements domain.MultiProfileStore.
func (s *Store) ReadMultiProfiles(ctx context.Context, accountID string) ([]domain.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+multiColumns+` FROM cards_identities
		WHERE owner_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("select cards identities: %w", classify(err))
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
	_, err := s.db.ExecContext(ctx, `INSERT INTO cards_identities (`+multiColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.OwnerAccountID, p.Handle, p.DisplayName, p.AvatarURL, p.Bio, p.CreatedAt)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("insert cards identity: %w", classify(err))
	}
	return p, nil
}

// UpdateMultiProfile implements domain.MultiProfileStore.
func (s *Store) UpdateMultiProfile(ctx context.Context, profileID string, fields domain.ProfileFields) (domain.Profile, error) {
	set, args := updateClause(fields)
	var query string
	if len(set) == 0 {
		args = []any{profileID}
		query = `SELECT ` + multiColumns + ` FROM cards_identities WHERE id = $1`
	} else {
		args = append(args, profileID)
		query = `UPDATE cards_identities SET ` + strings.Join(set, ", ") + ` WHERE id = $` + strconv.Itoa(len(args)) + ` RETURNING ` + multiColumns
	}
	p, err := scanMulti(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("update cards identity: %w", classify(err))
	}
	return p, nil
}

// DeleteMultiProfile implements domain.MultiProfileStore.
func (s *Store) DeleteMultiProfile(ctx context.Context, profileID, accountID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cards_identities WHERE id = $1 AND owner_id = $2`, profileID, accountID)
	if err != nil {
		return fmt.Errorf("delete cards identity: %w", classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindMultiProfileByHandle implements domain.MultiProfileStore.
func (s *Store) FindMultiProfileByHandle(ctx context.Context, accountID, handle string) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+multiColumns+` FROM cards_identities
		WHERE owner_id = $1 AND lower(handle) = $2 ORDER BY created_at, id LIMIT 1`, accountID, domain.NormalizeHandle(handle))
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
	if err := row.Scan(&p.ID, &p.Handle, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.CreatedAt); err != nil {
		return domain.Profile{}, err
	}
	p.OwnerAccountID = p.ID
	return p, nil
}

func scanMulti(row scanner) (domain.Profile, error) {
	var p domain.Profile
	if err := row.Scan(&p.ID, &p.OwnerAccountID, &p.Handle, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.CreatedAt); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

func updateClause(fields domain.ProfileFields) ([]string, []any) {
	var set []string
	var args []any
	add := func(col string, v *string) {
		if v != nil {
			args = append(args, *v)
			set = append(set, col+" = $"+strconv.Itoa(len(args)))
		}
	}
	add("handle", fields.Handle)
	add("display_name", fields.DisplayName)
	add("avatar_url", fields.AvatarURL)
	add("bio", fields.Bio)
	return set, args
}

// classify maps SQLSTATE codes onto the domain taxonomy.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUndefinedTable:
		return fmt.Errorf("%w: %v", domain.ErrSchemaUnsupported, err)
	case codeUniqueViolation:
		return fmt.Errorf("%w: %v", domain.ErrDuplicateHandle, err)
	}
	return err
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
