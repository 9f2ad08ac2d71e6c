package profiles

import (
	"cardcore/pkg/domain"
	"context"
	"errors"
	"strings"
)

// Repository fronts the legacy and multi-profile stores. It resolves avatar
// URLs on every returned profile and translates backend failures into the
// domain error taxonomy.
type Repository struct {
	legacy domain.LegacyStore
	multi  domain.MultiProfileStore
	assets domain.AssetLocator
}

// NewRepository wires the two backing shapes. assets may be nil, in which
// case relative avatar paths are returned unchanged.
func NewRepository(legacy domain.LegacyStore, multi domain.MultiProfileStore, assets domain.AssetLocator) *Repository {
	return &Repository{legacy: legacy, multi: multi, assets: assets}
}

// Capabilities is the outcome of one schema probe. A Load holds on to it so
// every call it issues is routed by the same answer.
type Capabilities struct {
	MultiProfile bool
}

// Probe reports whether the multi-profile relation exists. A missing relation
// is not an error; any other failure is.
func (r *Repository) Probe(ctx context.Context) (Capabilities, error) {
	if r.multi == nil {
		return Capabilities{}, nil
	}
	err := r.multi.ProbeMultiProfileSupport(ctx)
	switch {
	case err == nil:
		return Capabilities{MultiProfile: true}, nil
	case errors.Is(err, domain.ErrSchemaUnsupported):
		return Capabilities{}, nil
	default:
		return Capabilities{}, domain.WrapRepositoryError("probe", err)
	}
}

// ReadLegacy returns the account's legacy row with its id forced to the account id.
func (r *Repository) ReadLegacy(ctx context.Context, accountID string) (*domain.Profile, error) {
	p, err := r.legacy.ReadLegacyProfile(ctx, accountID)
	if err != nil {
		return nil, domain.WrapRepositoryError("read legacy", err)
	}
	if p == nil {
		return nil, nil
	}
	out := r.legacyShape(ctx, accountID, *p)
	return &out, nil
}

// ReadMulti lists the account's multi-profile rows in creation order.
func (r *Repository) ReadMulti(ctx context.Context, caps Capabilities, accountID string) ([]domain.Profile, error) {
	if !caps.MultiProfile {
		return nil, nil
	}
	rows, err := r.multi.ReadMultiProfiles(ctx, accountID)
	if err != nil {
		return nil, domain.WrapRepositoryError("read multi", err)
	}
	for i := range rows {
		rows[i] = r.resolve(ctx, rows[i])
	}
	return rows, nil
}

// Insert adds a multi-profile row.
func (r *Repository) Insert(ctx context.Context, in domain.NewProfile) (domain.Profile, error) {
	if r.multi == nil {
		return domain.Profile{}, domain.ErrSchemaUnsupported
	}
	p, err := r.multi.InsertMultiProfile(ctx, in)
	if err != nil {
		return domain.Profile{}, domain.WrapRepositoryError("insert", err)
	}
	return r.resolve(ctx, p), nil
}

// UpdateLegacy writes the legacy row and maps it back into the synthesized shape.
func (r *Repository) UpdateLegacy(ctx context.Context, accountID string, fields domain.ProfileFields) (domain.Profile, error) {
	p, err := r.legacy.UpdateLegacyProfile(ctx, accountID, fields)
	if err != nil {
		return domain.Profile{}, domain.WrapRepositoryError("update legacy", err)
	}
	return r.legacyShape(ctx, accountID, p), nil
}

// UpdateMulti writes a multi-profile row.
func (r *Repository) UpdateMulti(ctx context.Context, profileID string, fields domain.ProfileFields) (domain.Profile, error) {
	if r.multi == nil {
		return domain.Profile{}, domain.ErrSchemaUnsupported
	}
	p, err := r.multi.UpdateMultiProfile(ctx, profileID, fields)
	if err != nil {
		return domain.Profile{}, domain.WrapRepositoryError("update multi", err)
	}
	return r.resolve(ctx, p), nil
}

// Delete removes a multi-profile row owned by accountID.
func (r *Repository) Delete(ctx context.Context, profileID, accountID string) error {
	if r.multi == nil {
		return domain.ErrSchemaUnsupported
	}
	return domain.WrapRepositoryError("delete", r.multi.DeleteMultiProfile(ctx, profileID, accountID))
}

// FindMultiByHandle looks up an account's row by handle. A missing relation
// reads as no match.
func (r *Repository) FindMultiByHandle(ctx context.Context, accountID, handle string) (*domain.Profile, error) {
	if r.multi == nil {
		return nil, nil
	}
	p, err := r.multi.FindMultiProfileByHandle(ctx, accountID, handle)
	if errors.Is(err, domain.ErrSchemaUnsupported) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapRepositoryError("find multi by handle", err)
	}
	if p == nil {
		return nil, nil
	}
	out := r.resolve(ctx, *p)
	return &out, nil
}

// FindLegacyByHandle looks up a legacy row by handle across all accounts.
// Callers decide whether the owning account is acceptable.
func (r *Repository) FindLegacyByHandle(ctx context.Context, handle string) (*domain.Profile, error) {
	p, err := r.legacy.FindLegacyProfileByHandle(ctx, handle)
	if err != nil {
		return nil, domain.WrapRepositoryError("find legacy by handle", err)
	}
	if p == nil {
		return nil, nil
	}
	owner := p.OwnerAccountID
	if owner == "" {
		owner = p.ID
	}
	out := r.legacyShape(ctx, owner, *p)
	return &out, nil
}

func (r *Repository) legacyShape(ctx context.Context, accountID string, p domain.Profile) domain.Profile {
	p.ID = accountID
	p.OwnerAccountID = accountID
	p.IsPrimary = false
	return r.resolve(ctx, p)
}

func (r *Repository) resolve(ctx context.Context, p domain.Profile) domain.Profile {
	p.AvatarURL = ResolveAvatarURL(ctx, r.assets, p.AvatarURL)
	return p
}

// ResolveAvatarURL passes absolute http(s) URLs through and expands anything
// else as a storage-relative key. Locator failures return the raw value.
func ResolveAvatarURL(ctx context.Context, assets domain.AssetLocator, raw string) string {
	if raw == "" || isAbsoluteURL(raw) || assets == nil {
		return raw
	}
	resolved, err := assets.PublicURL(ctx, strings.TrimPrefix(raw, "/"))
	if err != nil || resolved == "" {
		return raw
	}
	return resolved
}

func isAbsoluteURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
