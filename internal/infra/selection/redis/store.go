// Package redis persists active profile selections in Redis so several
// processes serving the same account agree on the active profile.
package redis

import (
	"cardcore/pkg/domain"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every selection key.
const DefaultNamespace = "cards:active_profile"

var _ domain.SelectionStore = (*Store)(nil)

// Store keeps one string key per account.
type Store struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) Option { return func(s *Store) { s.namespace = ns } }

// WithTTL expires selections after d. Zero keeps them forever.
func WithTTL(d time.Duration) Option { return func(s *Store) { s.ttl = d } }

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to a single node or a cluster depending on len(addrs).
func Dial(addrs []string, password string, db int, opts ...Option) (*Store, error) {
	if len(addrs) == 0 {
		return nil, errors.New("redis selection store: no address configured")
	}
	var client redis.UniversalClient
	if len(addrs) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{Addrs: addrs, Password: password})
	} else {
		client = redis.NewClient(&redis.Options{Addr: addrs[0], Password: password, DB: db})
	}
	return New(client, opts...), nil
}

func (s *Store) key(accountID string) string { return s.namespace + ":" + accountID }

// GetSelection returns "" when no key exists.
func (s *Store) GetSelection(ctx context.Context, accountID string) (string, error) {
	v, err := s.client.Get(ctx, s.key(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get selection: %w", err)
	}
	return v, nil
}

// SetSelection stores profileID. An empty id deletes the key.
func (s *Store) SetSelection(ctx context.Context, accountID, profileID string) error {
	if profileID == "" {
		return s.ClearSelection(ctx, accountID)
	}
	if err := s.client.Set(ctx, s.key(accountID), profileID, s.ttl).Err(); err != nil {
		return fmt.Errorf("set selection: %w", err)
	}
	return nil
}

// ClearSelection deletes the account's key.
func (s *Store) ClearSelection(ctx context.Context, accountID string) error {
	if err := s.client.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("clear selection: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }
