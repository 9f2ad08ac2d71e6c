package profiles

import (
	"cardcore/internal/infra/persistence/memory"
	"cardcore/pkg/domain"
	"context"
	"errors"
	"testing"
)

type stubLocator struct {
	base string
	err  error
}

func (s stubLocator) PublicURL(_ context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.base + key, nil
}

func TestResolveAvatarURL(t *testing.T) {
	ok := stubLocator{base: "https://cdn.example/"}
	failing := stubLocator{err: errors.New("no bucket")}
	cases := []struct {
		name    string
		locator domain.AssetLocator
		raw     string
		want    string
	}{
		{"empty", ok, "", ""},
		{"absolute https", ok, "https://img.example/a.png", "https://img.example/a.png"},
		{"absolute mixed case", ok, "HTTP://img.example/a.png", "HTTP://img.example/a.png"},
		{"relative", ok, "avatars/a.png", "https://cdn.example/avatars/a.png"},
		{"leading slash", ok, "/avatars/a.png", "https://cdn.example/avatars/a.png"},
		{"locator failure", failing, "avatars/a.png", "avatars/a.png"},
		{"no locator", nil, "avatars/a.png", "avatars/a.png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveAvatarURL(context.Background(), tc.locator, tc.raw); got != tc.want {
				t.Fatalf("ResolveAvatarURL(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

type failingProbe struct {
	*memory.Store
	err error
}

func (f failingProbe) ProbeMultiProfileSupport(context.Context) error { return f.err }

func TestRepositoryProbeClassification(t *testing.T) {
	store := memory.NewStore()
	repo := NewRepository(store, store, nil)
	caps, err := repo.Probe(context.Background())
	if err != nil || !caps.MultiProfile {
		t.Fatalf("expected supported, got %+v %v", caps, err)
	}

	store.SetMultiProfileEnabled(false)
	caps, err = repo.Probe(context.Background())
	if err != nil || caps.MultiProfile {
		t.Fatalf("expected unsupported without error, got %+v %v", caps, err)
	}

	repo = NewRepository(store, failingProbe{Store: store, err: errors.New("dial tcp: refused")}, nil)
	if _, err := repo.Probe(context.Background()); !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestRepositoryLegacyLookupKeepsOwner(t *testing.T) {
	store := memory.NewStore()
	store.PutLegacyProfile(domain.Profile{OwnerAccountID: "u2", Handle: "Mallory"})
	repo := NewRepository(store, store, nil)

	p, err := repo.FindLegacyByHandle(context.Background(), "mallory")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p == nil || p.ID != "u2" || p.OwnerAccountID != "u2" {
		t.Fatalf("expected legacy row keyed by owner, got %+v", p)
	}
}
