// Package memory implements a process-local selection store.
package memory

import (
	"cardcore/pkg/domain"
	"context"
	"sync"
)

var _ domain.SelectionStore = (*Store)(nil)

// Store maps account ids to the last chosen profile id.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
	writes int
}

// New returns an empty selection store.
func New() *Store { return &Store{values: make(map[string]string)} }

// GetSelection returns "" when the account has no stored preference.
func (s *Store) GetSelection(_ context.Context, accountID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[accountID], nil
}

// SetSelection stores profileID for accountID. An empty id clears the entry.
func (s *Store) SetSelection(_ context.Context, accountID, profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if profileID == "" {
		delete(s.values, accountID)
		return nil
	}
	s.values[accountID] = profileID
	return nil
}

// ClearSelection removes any stored preference for accountID.
func (s *Store) ClearSelection(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	delete(s.values, accountID)
	return nil
}

// Writes counts Set and Clear calls.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
