package profiles

import (
	"cardcore/pkg/domain"
	"time"

	"github.com/google/uuid"
)

// DefaultPendingHandleTTL bounds how long an unresolved activate-by-handle
// intent may be applied by a later load.
const DefaultPendingHandleTTL = 2 * time.Minute

// PendingHandleRequest records the intent to activate the profile with Handle
// once a profile list containing it is available. It is consumed by the first
// load or lookup that finds a match, and dropped once it expires.
type PendingHandleRequest struct {
	ID        string
	Handle    string
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func newPendingHandleRequest(accountID, handle string, now time.Time, ttl time.Duration) *PendingHandleRequest {
	if ttl <= 0 {
		ttl = DefaultPendingHandleTTL
	}
	return &PendingHandleRequest{
		ID:        uuid.NewString(),
		Handle:    domain.NormalizeHandle(handle),
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the request can no longer be applied.
func (r *PendingHandleRequest) Expired(now time.Time) bool {
	return r == nil || !now.Before(r.ExpiresAt)
}

// match returns the entry in list whose handle satisfies the request.
func (r *PendingHandleRequest) match(list []domain.Profile, now time.Time) (domain.Profile, bool) {
	if r.Expired(now) {
		return domain.Profile{}, false
	}
	return findByHandle(list, r.Handle)
}
