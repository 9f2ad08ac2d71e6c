// Package memory implements an in-memory asset Locator for tests.
package memory

import (
	"cardcore/internal/blob/core"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Store keeps asset metadata in process memory.
type Store struct {
	mu      sync.RWMutex
	objs    map[string]core.Info
	baseURL string
}

// New returns an empty store publishing under baseURL
// (default http://local.blob/).
func New(baseURL string) *Store {
	if baseURL == "" {
		baseURL = "http://local.blob/"
	}
	return &Store{objs: make(map[string]core.Info), baseURL: strings.TrimSuffix(baseURL, "/") + "/"}
}

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Add registers an asset.
func (s *Store) Add(key, contentType string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objs[key] = core.Info{Key: key, Size: size, ContentType: contentType, LastModified: time.Now().UTC()}
}

// Head returns metadata for key.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.objs[key]
	if !ok {
		return core.Info{}, fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	return info, nil
}

// PublicURL joins baseURL and key for registered assets.
func (s *Store) PublicURL(ctx context.Context, key string) (string, error) {
	if _, err := s.Head(ctx, key); err != nil {
		return "", err
	}
	return s.baseURL + (&url.URL{Path: key}).EscapedPath(), nil
}
