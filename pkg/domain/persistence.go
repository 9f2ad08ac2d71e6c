package domain

import "context"

// LegacyStore is the single-row-per-account profile table that predates
// multi-profile support. Rows are keyed by account id.
type LegacyStore interface {
	// ReadLegacyProfile returns the account's row, or (nil, nil) when absent.
	ReadLegacyProfile(ctx context.Context, accountID string) (*Profile, error)
	// UpdateLegacyProfile applies a partial update to the account's row.
	UpdateLegacyProfile(ctx context.Context, accountID string, fields ProfileFields) (Profile, error)
	// FindLegacyProfileByHandle performs a case-insensitive exact match across accounts.
	FindLegacyProfileByHandle(ctx context.Context, handle string) (*Profile, error)
}

// MultiProfileStore holds zero or more rows per account. Every method returns
// ErrSchemaUnsupported when the backing relation does not exist.
type MultiProfileStore interface {
	// ProbeMultiProfileSupport performs a trivial read. It returns
	// ErrSchemaUnsupported when the relation is missing.
	ProbeMultiProfileSupport(ctx context.Context) error
	// ReadMultiProfiles lists the account's rows ordered by creation time ascending.
	ReadMultiProfiles(ctx context.Context, accountID string) ([]Profile, error)
	// InsertMultiProfile fails with ErrDuplicateHandle on a per-account collision.
	InsertMultiProfile(ctx context.Context, in NewProfile) (Profile, error)
	UpdateMultiProfile(ctx context.Context, profileID string, fields ProfileFields) (Profile, error)
	// DeleteMultiProfile is scoped by owner to prevent cross-account deletion.
	DeleteMultiProfile(ctx context.Context, profileID, accountID string) error
	FindMultiProfileByHandle(ctx context.Context, accountID, handle string) (*Profile, error)
}

// SelectionStore persists the last chosen profile id per account.
// An empty value means no preference.
type SelectionStore interface {
	GetSelection(ctx context.Context, accountID string) (string, error)
	SetSelection(ctx context.Context, accountID, profileID string) error
	ClearSelection(ctx context.Context, accountID string) error
}

// AssetLocator expands a storage-relative path into an absolute public URL.
type AssetLocator interface {
	PublicURL(ctx context.Context, key string) (string, error)
}
