package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaUnsupported reports that the multi-profile store is not provisioned
	// in the current deployment.
	ErrSchemaUnsupported = errors.New("multi-profile schema unsupported")
	// ErrDuplicateHandle reports a per-account handle collision.
	ErrDuplicateHandle = errors.New("handle already in use")
	// ErrLastProfile is returned when deleting would leave the account without profiles.
	ErrLastProfile = errors.New("cannot delete the last profile")
	// ErrCannotDeletePrimary is returned when deleting the primary profile.
	ErrCannotDeletePrimary = errors.New("cannot delete the primary profile")
	// ErrHandleNotFound is returned when activate-by-handle exhausted every lookup.
	ErrHandleNotFound = errors.New("profile handle not found")
	// ErrInvalidHandle rejects blank handles.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrNotFound reports a missing profile row.
	ErrNotFound = errors.New("profile not found")
	// ErrUnauthenticated is returned by operations that need a signed-in account.
	ErrUnauthenticated = errors.New("no authenticated account")
	// ErrStaleLoad is returned when a load finished after its account or
	// generation was superseded; its results were discarded.
	ErrStaleLoad = errors.New("profile load superseded")
)

// RepositoryError wraps backend failures that are unrelated to the schema
// (the transient failure category). Callers may retry.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("profile repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// WrapRepositoryError leaves taxonomy errors untouched and wraps anything else.
func WrapRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr *RepositoryError
	switch {
	case errors.As(err, &repoErr),
		errors.Is(err, ErrSchemaUnsupported),
		errors.Is(err, ErrDuplicateHandle),
		errors.Is(err, ErrNotFound):
		return err
	}
	return &RepositoryError{Op: op, Err: err}
}

// IsTransient reports whether err belongs to the transient repository category.
func IsTransient(err error) bool {
	var repoErr *RepositoryError
	return errors.As(err, &repoErr)
}
