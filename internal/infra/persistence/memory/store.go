// Package memory provides in-memory legacy and multi-profile stores used by
// tests and the memory storage driver.
package memory

import (
	"cardcore/pkg/domain"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	_ domain.LegacyStore       = (*Store)(nil)
	_ domain.MultiProfileStore = (*Store)(nil)
)

// Store keeps both profile shapes in process memory. The multi-profile
// relation can be toggled off to emulate deployments without it.
type Store struct {
	mu           sync.RWMutex
	legacy       map[string]domain.Profile
	multi        map[string]domain.Profile
	multiEnabled bool
	seq          int64
	now          func() time.Time
	newID        func() string
}

// Option configures a Store.
type Option func(*Store)

// WithoutMultiProfile starts the store with the multi-profile relation absent.
func WithoutMultiProfile() Option {
	return func(s *Store) { s.multiEnabled = false }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the row id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// NewStore returns an empty store with the multi-profile relation present.
func NewStore(opts ...Option) *Store {
	s := &Store{
		legacy:       make(map[string]domain.Profile),
		multi:        make(map[string]domain.Profile),
		multiEnabled: true,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetMultiProfileEnabled provisions or drops the multi-profile relation.
// Dropping discards its rows.
func (s *Store) SetMultiProfileEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.multiEnabled = enabled
	if !enabled {
		s.multi = make(map[string]domain.Profile)
	}
}

// PutLegacyProfile seeds or replaces the legacy row for p.OwnerAccountID.
func (s *Store) PutLegacyProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = p.OwnerAccountID
	p.IsPrimary = false
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.legacy[p.OwnerAccountID] = p
}

// ReadLegacyProfile implements domain.LegacyStore.
func (s *Store) ReadLegacyProfile(_ context.Context, accountID string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.legacy[accountID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// UpdateLegacyProfile implements domain.LegacyStore.
func (s *Store) UpdateLegacyProfile(_ context.Context, accountID string, fields domain.ProfileFields) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.legacy[accountID]
	if !ok {
		return domain.Profile{}, domain.ErrNotFound
	}
	p = fields.Apply(p)
	s.legacy[accountID] = p
	return p, nil
}

// FindLegacyProfileByHandle implements domain.LegacyStore.
func (s *Store) FindLegacyProfileByHandle(_ context.Context, handle string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var match *domain.Profile
	for _, p := range s.legacy {
		if !p.MatchesHandle(handle) {
			continue
		}
		if match == nil || p.CreatedAt.Before(match.CreatedAt) {
			cp := p
			match = &cp
		}
	}
	return match, nil
}

// ProbeMultiProfileSupport implements domain.MultiProfileStore.
func (s *Store) ProbeMultiProfileSupport(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.multiEnabled {
		return domain.ErrSchemaUnsupported
	}
	return nil
}

// ReadMultiProfiles implements domain.MultiProfileStore.
func (s *Store) ReadMultiProfiles(_ context.Context, accountID string) ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.multiEnabled {
		return nil, domain.ErrSchemaUnsupported
	}
	return s.ownedLocked(accountID), nil
}

func (s *Store) ownedLocked(accountID string) []domain.Profile {
	out := make([]domain.Profile, 0)
	for _, p := range s.multi {
		if p.OwnerAccountID == accountID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// InsertMultiProfile implements domain.MultiProfileStore.
func (s *Store) InsertMultiProfile(_ context.Context, in domain.NewProfile) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.multiEnabled {
		return domain.Profile{}, domain.ErrSchemaUnsupported
	}
	for _, existing := range s.ownedLocked(in.OwnerAccountID) {
		if existing.MatchesHandle(in.Handle) {
			return domain.Profile{}, domain.ErrDuplicateHandle
		}
	}
	// Rows inserted within the same clock tick still list in insertion order.
	s.seq++
	p := domain.Profile{
		ID:             s.newID(),
		OwnerAccountID: in.OwnerAccountID,
		Handle:         in.Handle,
		DisplayName:    in.DisplayName,
		AvatarURL:      in.AvatarURL,
		Bio:            in.Bio,
		CreatedAt:      s.now().Add(time.Duration(s.seq)),
	}
	s.multi[p.ID] = p
	return p, nil
}

// UpdateMultiProfile implements domain.MultiProfileStore.
func (s *Store) UpdateMultiProfile(_ context.Context, profileID string, fields domain.ProfileFields) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.multiEnabled {
		return domain.Profile{}, domain.ErrSchemaUnsupported
	}
	p, ok := s.multi[profileID]
	if !ok {
		return domain.Profile{}, domain.ErrNotFound
	}
	if fields.Handle != nil {
		for _, other := range s.ownedLocked(p.OwnerAccountID) {
			if other.ID != p.ID && other.MatchesHandle(*fields.Handle) {
				return domain.Profile{}, domain.ErrDuplicateHandle
			}
		}
	}
	p = fields.Apply(p)
	s.multi[profileID] = p
	return p, nil
}

// DeleteMultiProfile implements domain.MultiProfileStore.
func (s *Store) DeleteMultiProfile(_ context.Context, profileID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.multiEnabled {
		return domain.ErrSchemaUnsupported
	}
	p, ok := s.multi[profileID]
	if !ok || p.OwnerAccountID != accountID {
		return domain.ErrNotFound
	}
	delete(s.multi, profileID)
	return nil
}

// FindMultiProfileByHandle implements domain.MultiProfileStore.
func (s *Store) FindMultiProfileByHandle(_ context.Context, accountID, handle string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.multiEnabled {
		return nil, domain.ErrSchemaUnsupported
	}
	for _, p := range s.ownedLocked(accountID) {
		if p.MatchesHandle(handle) {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

// MultiProfileCount returns the number of multi-profile rows across all accounts.
func (s *Store) MultiProfileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.multi)
}
