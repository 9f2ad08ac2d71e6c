package profiles

import (
	"cardcore/pkg/domain"
	"context"
	"errors"
	"fmt"
	"strings"
)

// SwitchResult reports the outcome of SwitchTo.
type SwitchResult struct {
	// Active is the active profile after the switch attempt.
	Active domain.Profile
	// Confirmed is true when Active is the requested profile.
	Confirmed bool
	// Queued is true when a load was in flight and the request will be
	// applied once it completes.
	Queued bool
}

// SwitchTo makes profileID the active profile. A profile already in the list
// is selected without any repository read. Otherwise the id is persisted
// optimistically and the list is reloaded; if the id is still absent the
// primary stays active and the result is unconfirmed.
func (e *Engine) SwitchTo(ctx context.Context, profileID string) (res SwitchResult, err error) {
	ctx, done := e.instrument(ctx, "switch")
	defer func() { done(err) }()

	e.mu.Lock()
	accountID := e.accountID
	if accountID == "" {
		e.mu.Unlock()
		return SwitchResult{}, domain.ErrUnauthenticated
	}
	if e.state == StateLoading {
		e.desiredID = profileID
		e.mu.Unlock()
		e.logger.Debug("switch queued behind load", "account", accountID, "profile", profileID)
		return SwitchResult{Queued: true}, nil
	}
	_, listed := findByID(e.profiles, profileID)
	e.mu.Unlock()
	if listed {
		p, err := e.persistActive(ctx, accountID, profileID)
		if err != nil {
			return SwitchResult{}, err
		}
		return SwitchResult{Active: p, Confirmed: true}, nil
	}
	if err := e.selections.SetSelection(ctx, accountID, profileID); err != nil {
		return SwitchResult{}, domain.WrapRepositoryError("persist selection", err)
	}

	snap, err := e.Reload(ctx)
	if err != nil {
		return SwitchResult{}, err
	}
	if snap.Active == nil {
		return SwitchResult{}, nil
	}
	res = SwitchResult{Active: *snap.Active, Confirmed: snap.Active.ID == profileID}
	if !res.Confirmed {
		e.logger.Info("switch not confirmed after reload", "account", accountID, "profile", profileID)
	}
	return res, nil
}

// ActivateByHandle activates the profile whose handle matches, case-insensitively.
// A local match is selected immediately. Otherwise a pending request is
// registered and the repository is searched: the account's multi-profile rows
// first, then the legacy store, whose match is accepted only if it belongs to
// the current account. ErrHandleNotFound is final; callers must not retry.
func (e *Engine) ActivateByHandle(ctx context.Context, handle string) (p domain.Profile, err error) {
	ctx, done := e.instrument(ctx, "activate_by_handle")
	defer func() { done(err) }()

	norm := domain.NormalizeHandle(handle)
	if norm == "" {
		return domain.Profile{}, domain.ErrHandleNotFound
	}

	e.mu.Lock()
	accountID := e.accountID
	if accountID == "" {
		e.mu.Unlock()
		return domain.Profile{}, domain.ErrUnauthenticated
	}
	if local, ok := findByHandle(e.profiles, norm); ok {
		e.mu.Unlock()
		return e.persistActive(ctx, accountID, local.ID)
	}
	req := newPendingHandleRequest(accountID, norm, e.now(), e.pendingTTL)
	e.pending = req
	unloaded := len(e.profiles) == 0
	e.mu.Unlock()
	e.logger.Debug("pending handle request registered", "account", accountID, "request", req.ID, "handle", norm)

	if unloaded {
		// Without a loaded list there is no primary to rank a remote match
		// against, so load first and let the load consume the request.
		if _, err := e.Reload(ctx); err != nil {
			e.dropPending(req.ID)
			return domain.Profile{}, err
		}
		e.mu.Lock()
		consumed := e.pending == nil || e.pending.ID != req.ID
		active, ok := findByID(e.profiles, e.activeID)
		e.mu.Unlock()
		if consumed && ok && active.MatchesHandle(norm) {
			return active, nil
		}
	}

	found, lookupErr := e.lookupHandle(ctx, accountID, norm)

	e.mu.Lock()
	ours := e.pending != nil && e.pending.ID == req.ID
	if ours {
		e.pending = nil
	}
	if e.accountID != accountID {
		e.mu.Unlock()
		return domain.Profile{}, domain.ErrStaleLoad
	}
	if !ours {
		// A load consumed the request while the lookup was in flight.
		if active, ok := findByID(e.profiles, e.activeID); ok && active.MatchesHandle(norm) {
			e.mu.Unlock()
			return active, nil
		}
	}
	if lookupErr != nil {
		e.mu.Unlock()
		return domain.Profile{}, lookupErr
	}
	if found == nil {
		e.mu.Unlock()
		e.logger.Info("pending handle request abandoned", "account", accountID, "request", req.ID)
		return domain.Profile{}, domain.ErrHandleNotFound
	}
	if len(e.profiles) == 0 {
		// The list was emptied by a failed load while the lookup ran.
		err := e.lastErr
		e.mu.Unlock()
		if err == nil {
			err = domain.ErrStaleLoad
		}
		return domain.Profile{}, err
	}
	e.profiles, _ = upsertProfile(e.profiles, *found)
	e.mu.Unlock()
	return e.persistActive(ctx, accountID, found.ID)
}

// dropPending clears the pending request if it is still the one with id.
func (e *Engine) dropPending(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil && e.pending.ID == id {
		e.pending = nil
	}
}

func (e *Engine) lookupHandle(ctx context.Context, accountID, handle string) (*domain.Profile, error) {
	found, err := e.repo.FindMultiByHandle(ctx, accountID, handle)
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}
	legacy, err := e.repo.FindLegacyByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if legacy == nil || legacy.ID != accountID {
		return nil, nil
	}
	return legacy, nil
}

// CreateInput describes a new sub-profile.
type CreateInput struct {
	Handle      string
	DisplayName string
	AvatarURL   string
	Bio         string
}

// CreateProfile inserts a multi-profile row and appends it as a non-primary
// entry. It fails with ErrSchemaUnsupported when the deployment lacks the
// multi-profile store. The new profile becomes active if none was.
func (e *Engine) CreateProfile(ctx context.Context, in CreateInput) (p domain.Profile, err error) {
	ctx, done := e.instrument(ctx, "create")
	defer func() { done(err) }()

	handle := strings.TrimSpace(in.Handle)
	if handle == "" {
		return domain.Profile{}, fmt.Errorf("create profile: %w", domain.ErrInvalidHandle)
	}

	e.mu.Lock()
	accountID := e.accountID
	if accountID == "" {
		e.mu.Unlock()
		return domain.Profile{}, domain.ErrUnauthenticated
	}
	if _, ok := findByHandle(e.profiles, handle); ok {
		e.mu.Unlock()
		return domain.Profile{}, domain.ErrDuplicateHandle
	}
	e.mu.Unlock()

	created, err := e.repo.Insert(ctx, domain.NewProfile{
		OwnerAccountID: accountID,
		Handle:         handle,
		DisplayName:    in.DisplayName,
		AvatarURL:      in.AvatarURL,
		Bio:            in.Bio,
	})
	if err != nil {
		return domain.Profile{}, err
	}

	e.mu.Lock()
	if e.accountID != accountID {
		e.mu.Unlock()
		return created, nil
	}
	if len(e.profiles) == 0 {
		e.mu.Unlock()
		return e.adoptAfterReload(ctx, created)
	}
	e.profiles, created = upsertProfile(e.profiles, created)
	_, hasActive := findByID(e.profiles, e.activeID)
	if hasActive {
		e.publishLocked()
	}
	e.mu.Unlock()
	e.logger.Info("profile created", "account", accountID, "profile", created.ID)
	if !hasActive {
		if _, err := e.persistActive(ctx, accountID, created.ID); err != nil {
			return created, err
		}
	}
	return created, nil
}

// adoptAfterReload handles a create issued before any successful load: the
// list is rebuilt from the repository so the primary stays first, and the new
// profile becomes active.
func (e *Engine) adoptAfterReload(ctx context.Context, created domain.Profile) (domain.Profile, error) {
	if _, err := e.Reload(ctx); err != nil {
		return created, err
	}
	e.mu.Lock()
	accountID := e.accountID
	_, ok := findByID(e.profiles, created.ID)
	e.mu.Unlock()
	if !ok {
		return created, nil
	}
	return e.persistActive(ctx, accountID, created.ID)
}

// DeleteProfile removes a non-primary profile. If it was active, the primary
// becomes active.
func (e *Engine) DeleteProfile(ctx context.Context, profileID string) (err error) {
	ctx, done := e.instrument(ctx, "delete")
	defer func() { done(err) }()

	e.mu.Lock()
	accountID := e.accountID
	if accountID == "" {
		e.mu.Unlock()
		return domain.ErrUnauthenticated
	}
	target, found := findByID(e.profiles, profileID)
	isPrimary := profileID == accountID || (found && target.IsPrimary)
	switch {
	case len(e.profiles) <= 1 && isPrimary:
		e.mu.Unlock()
		return fmt.Errorf("%w: %w", domain.ErrLastProfile, domain.ErrCannotDeletePrimary)
	case len(e.profiles) <= 1:
		e.mu.Unlock()
		return domain.ErrLastProfile
	case isPrimary:
		e.mu.Unlock()
		return domain.ErrCannotDeletePrimary
	case !found:
		e.mu.Unlock()
		return domain.ErrNotFound
	}
	e.mu.Unlock()

	if err := e.repo.Delete(ctx, profileID, accountID); err != nil {
		return err
	}

	e.mu.Lock()
	if e.accountID != accountID {
		e.mu.Unlock()
		return nil
	}
	e.profiles = removeProfile(e.profiles, profileID)
	e.logger.Info("profile deleted", "account", accountID, "profile", profileID)
	if e.activeID != profileID || len(e.profiles) == 0 {
		e.publishLocked()
		e.mu.Unlock()
		return nil
	}
	next := e.profiles[0].ID
	e.activeID = next
	e.publishLocked()
	e.mu.Unlock()
	_, err = e.persistActive(ctx, accountID, next)
	return err
}

// UpdateProfile applies a partial update to the active profile. The legacy
// primary is written to the legacy store; any other profile to the
// multi-profile store, falling back to the legacy store when that schema is
// missing.
func (e *Engine) UpdateProfile(ctx context.Context, fields domain.ProfileFields) (p domain.Profile, err error) {
	ctx, done := e.instrument(ctx, "update")
	defer func() { done(err) }()

	e.mu.Lock()
	accountID := e.accountID
	if accountID == "" {
		e.mu.Unlock()
		return domain.Profile{}, domain.ErrUnauthenticated
	}
	active, ok := findByID(e.profiles, e.activeID)
	if !ok {
		e.mu.Unlock()
		return domain.Profile{}, domain.ErrNotFound
	}
	if fields.Empty() {
		e.mu.Unlock()
		return active, nil
	}
	if fields.Handle != nil {
		if strings.TrimSpace(*fields.Handle) == "" {
			e.mu.Unlock()
			return domain.Profile{}, fmt.Errorf("update profile: %w", domain.ErrInvalidHandle)
		}
		if other, taken := findByHandle(e.profiles, *fields.Handle); taken && other.ID != active.ID {
			e.mu.Unlock()
			return domain.Profile{}, domain.ErrDuplicateHandle
		}
	}
	var primaryID string
	if len(e.profiles) > 0 {
		primaryID = e.profiles[0].ID
	}
	e.mu.Unlock()

	targetID := active.ID
	var written domain.Profile
	if active.ID == accountID {
		written, err = e.repo.UpdateLegacy(ctx, accountID, fields)
	} else {
		written, err = e.repo.UpdateMulti(ctx, active.ID, fields)
		if errors.Is(err, domain.ErrSchemaUnsupported) {
			e.logger.Warn("multi-profile schema missing, updating legacy profile", "account", accountID, "profile", active.ID)
			written, err = e.repo.UpdateLegacy(ctx, accountID, fields)
			if !active.IsPrimary {
				// The legacy row backs the primary, not the active sub-profile.
				targetID = primaryID
			}
		} else if err == nil && active.IsPrimary && fields.Handle != nil {
			err = e.mirrorPrimaryHandle(ctx, accountID, fields.Handle)
		}
	}
	if err != nil {
		return domain.Profile{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.accountID != accountID {
		return written, nil
	}
	var merged domain.Profile
	var found bool
	e.profiles, merged, found = remergeEntry(e.profiles, targetID, written)
	if !found {
		return written, nil
	}
	e.publishLocked()
	return merged, nil
}

// mirrorPrimaryHandle copies a renamed primary row's handle onto the legacy
// row. The next load matches rows against the legacy handle, so without it
// the renamed row would lose its primary slot. An account without a legacy
// row has nothing to keep in step.
func (e *Engine) mirrorPrimaryHandle(ctx context.Context, accountID string, handle *string) error {
	_, err := e.repo.UpdateLegacy(ctx, accountID, domain.ProfileFields{Handle: handle})
	if errors.Is(err, domain.ErrNotFound) {
		e.logger.Warn("no legacy profile to carry primary handle", "account", accountID)
		return nil
	}
	return err
}
