package profiles

import (
	"cardcore/internal/infra/persistence/memory"
	selectionmem "cardcore/internal/infra/selection/memory"
	"cardcore/pkg/domain"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingStore wraps the memory store and counts repository traffic.
type countingStore struct {
	*memory.Store

	mu           sync.Mutex
	reads        int
	inserts      int
	updates      int
	legacyWrites int
	probeErr     error
	legacyErr    error
	gates        map[string]chan struct{}
	entered      chan string
}

func newCountingStore(opts ...memory.Option) *countingStore {
	return &countingStore{Store: memory.NewStore(opts...), gates: map[string]chan struct{}{}, entered: make(chan string, 8)}
}

func (c *countingStore) bump(n *int) {
	c.mu.Lock()
	*n++
	c.mu.Unlock()
}

func (c *countingStore) counts() (reads, inserts, updates, legacyWrites int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads, c.inserts, c.updates, c.legacyWrites
}

// gate makes the next legacy read for accountID block until the returned func is called.
func (c *countingStore) gate(accountID string) func() {
	ch := make(chan struct{})
	c.mu.Lock()
	c.gates[accountID] = ch
	c.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (c *countingStore) ReadLegacyProfile(ctx context.Context, accountID string) (*domain.Profile, error) {
	c.bump(&c.reads)
	c.mu.Lock()
	ch, gated := c.gates[accountID]
	delete(c.gates, accountID)
	err := c.legacyErr
	c.mu.Unlock()
	if gated {
		c.entered <- accountID
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return c.Store.ReadLegacyProfile(ctx, accountID)
}

func (c *countingStore) UpdateLegacyProfile(ctx context.Context, accountID string, fields domain.ProfileFields) (domain.Profile, error) {
	c.bump(&c.legacyWrites)
	return c.Store.UpdateLegacyProfile(ctx, accountID, fields)
}

func (c *countingStore) FindLegacyProfileByHandle(ctx context.Context, handle string) (*domain.Profile, error) {
	c.bump(&c.reads)
	return c.Store.FindLegacyProfileByHandle(ctx, handle)
}

func (c *countingStore) ProbeMultiProfileSupport(ctx context.Context) error {
	c.bump(&c.reads)
	c.mu.Lock()
	err := c.probeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Store.ProbeMultiProfileSupport(ctx)
}

func (c *countingStore) ReadMultiProfiles(ctx context.Context, accountID string) ([]domain.Profile, error) {
	c.bump(&c.reads)
	return c.Store.ReadMultiProfiles(ctx, accountID)
}

func (c *countingStore) InsertMultiProfile(ctx context.Context, in domain.NewProfile) (domain.Profile, error) {
	c.bump(&c.inserts)
	return c.Store.InsertMultiProfile(ctx, in)
}

func (c *countingStore) UpdateMultiProfile(ctx context.Context, id string, fields domain.ProfileFields) (domain.Profile, error) {
	c.bump(&c.updates)
	return c.Store.UpdateMultiProfile(ctx, id, fields)
}

func (c *countingStore) FindMultiProfileByHandle(ctx context.Context, accountID, handle string) (*domain.Profile, error) {
	c.bump(&c.reads)
	return c.Store.FindMultiProfileByHandle(ctx, accountID, handle)
}

type fixture struct {
	store      *countingStore
	selections *selectionmem.Store
	engine     *Engine
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("p%d", n)
	}
}

func newFixture(t *testing.T, storeOpts []memory.Option, opts ...Option) *fixture {
	t.Helper()
	storeOpts = append([]memory.Option{memory.WithIDGenerator(sequentialIDs())}, storeOpts...)
	store := newCountingStore(storeOpts...)
	selections := selectionmem.New()
	return &fixture{
		store:      store,
		selections: selections,
		engine:     NewEngine(NewRepository(store, store, nil), selections, opts...),
	}
}

func (f *fixture) seedLegacy(accountID, handle string) {
	f.store.PutLegacyProfile(domain.Profile{OwnerAccountID: accountID, Handle: handle, DisplayName: handle})
}

func (f *fixture) seedMulti(t *testing.T, accountID string, handles ...string) []domain.Profile {
	t.Helper()
	out := make([]domain.Profile, 0, len(handles))
	for _, h := range handles {
		p, err := f.store.Store.InsertMultiProfile(context.Background(), domain.NewProfile{OwnerAccountID: accountID, Handle: h})
		if err != nil {
			t.Fatalf("seed %s: %v", h, err)
		}
		out = append(out, p)
	}
	return out
}

func (f *fixture) signIn(t *testing.T, accountID string) Snapshot {
	t.Helper()
	snap, err := f.engine.SetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("sign in %s: %v", accountID, err)
	}
	return snap
}

type profileKey struct {
	ID        string
	Handle    string
	IsPrimary bool
}

func keys(list []domain.Profile) []profileKey {
	out := make([]profileKey, 0, len(list))
	for _, p := range list {
		out = append(out, profileKey{ID: p.ID, Handle: p.Handle, IsPrimary: p.IsPrimary})
	}
	return out
}

func assertSinglePrimaryFirst(t *testing.T, list []domain.Profile) {
	t.Helper()
	if len(list) == 0 {
		t.Fatalf("expected non-empty profile list")
	}
	if !list[0].IsPrimary {
		t.Fatalf("expected first entry to be primary: %+v", list[0])
	}
	for _, p := range list[1:] {
		if p.IsPrimary {
			t.Fatalf("expected a single primary, also got %+v", p)
		}
	}
}

func waitEntered(t *testing.T, store *countingStore, accountID string) {
	t.Helper()
	select {
	case got := <-store.entered:
		if got != accountID {
			t.Fatalf("expected gated read for %s, got %s", accountID, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for gated read of %s", accountID)
	}
}

// gatedSelections holds the next SetSelection until the func returned by hold is called.
type gatedSelections struct {
	*selectionmem.Store

	mu      sync.Mutex
	gate    chan struct{}
	entered chan string
}

func newGatedSelections() *gatedSelections {
	return &gatedSelections{Store: selectionmem.New(), entered: make(chan string, 1)}
}

func (g *gatedSelections) hold() func() {
	ch := make(chan struct{})
	g.mu.Lock()
	g.gate = ch
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (g *gatedSelections) SetSelection(ctx context.Context, accountID, profileID string) error {
	g.mu.Lock()
	ch := g.gate
	g.gate = nil
	g.mu.Unlock()
	if ch != nil {
		g.entered <- profileID
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.Store.SetSelection(ctx, accountID, profileID)
}

func waitSelectionWrite(t *testing.T, sel *gatedSelections) string {
	t.Helper()
	select {
	case id := <-sel.entered:
		return id
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for selection write")
		return ""
	}
}
