package profiles

import (
	"cardcore/internal/infra/persistence/memory"
	"cardcore/pkg/domain"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSwitchToLocalProfileSkipsRepository(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.seedMulti(t, "u1", "alice", "bob")
	f.signIn(t, "u1")
	readsBefore, _, _, _ := f.store.counts()

	res, err := f.engine.SwitchTo(context.Background(), "p2")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if !res.Confirmed || res.Active.ID != "p2" {
		t.Fatalf("expected confirmed switch to p2, got %+v", res)
	}
	if readsAfter, _, _, _ := f.store.counts(); readsAfter != readsBefore {
		t.Fatalf("expected no repository reads, got %d", readsAfter-readsBefore)
	}
	if f.engine.Actor().ActiveProfileID != "p2" {
		t.Fatalf("expected p2 active")
	}
	if got, _ := f.selections.GetSelection(context.Background(), "u1"); got != "p2" {
		t.Fatalf("expected p2 persisted, got %q", got)
	}
}

func TestSwitchToUnknownProfileReloads(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.signIn(t, "u1")

	// Created elsewhere after the list was loaded.
	created := f.seedMulti(t, "u1", "bob")[0]
	res, err := f.engine.SwitchTo(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if !res.Confirmed || res.Active.ID != created.ID {
		t.Fatalf("expected confirmed switch after reload, got %+v", res)
	}

	res, err = f.engine.SwitchTo(context.Background(), "missing")
	if err != nil {
		t.Fatalf("switch missing: %v", err)
	}
	if res.Confirmed || !res.Active.IsPrimary {
		t.Fatalf("expected unconfirmed switch falling back to primary, got %+v", res)
	}
}

func TestSwitchDuringLoadIsQueued(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.seedMulti(t, "u1", "alice", "bob")
	release := f.store.gate("u1")
	defer release()

	errs := make(chan error, 1)
	go func() {
		_, err := f.engine.SetAccount(context.Background(), "u1")
		errs <- err
	}()
	waitEntered(t, f.store, "u1")

	res, err := f.engine.SwitchTo(context.Background(), "p2")
	if err != nil || !res.Queued {
		t.Fatalf("expected queued switch, got %+v, %v", res, err)
	}
	release()
	if err := <-errs; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := f.engine.Actor().ActiveProfileID; got != "p2" {
		t.Fatalf("expected queued switch applied, active=%s", got)
	}
}

func TestActivateByHandleLocalMatch(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.seedMulti(t, "u1", "alice", "Bob")
	f.signIn(t, "u1")
	readsBefore, _, _, _ := f.store.counts()

	p, err := f.engine.ActivateByHandle(context.Background(), "  BOB ")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if p.ID != "p2" {
		t.Fatalf("expected p2, got %+v", p)
	}
	if readsAfter, _, _, _ := f.store.counts(); readsAfter != readsBefore {
		t.Fatalf("expected no repository lookups")
	}
	if f.engine.Pending() != nil {
		t.Fatalf("expected no pending request")
	}
}

func TestActivateByHandleRemoteMatch(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.signIn(t, "u1")
	bob := f.seedMulti(t, "u1", "bob")[0]

	p, err := f.engine.ActivateByHandle(context.Background(), "bob")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if p.ID != bob.ID || p.IsPrimary {
		t.Fatalf("expected non-primary %s, got %+v", bob.ID, p)
	}
	snap := f.engine.Snapshot()
	if snap.Active == nil || snap.Active.ID != bob.ID {
		t.Fatalf("expected %s active, got %+v", bob.ID, snap.Active)
	}
	assertSinglePrimaryFirst(t, snap.Profiles)
	if f.engine.Pending() != nil {
		t.Fatalf("expected pending request cleared")
	}
	if got, _ := f.selections.GetSelection(context.Background(), "u1"); got != bob.ID {
		t.Fatalf("expected %s persisted, got %q", bob.ID, got)
	}
}

func TestActivateByHandleNotFound(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.seedLegacy("u2", "mallory")
	f.signIn(t, "u1")

	for _, handle := range []string{"nobody", "mallory", "   "} {
		if _, err := f.engine.ActivateByHandle(context.Background(), handle); !errors.Is(err, domain.ErrHandleNotFound) {
			t.Fatalf("%q: expected ErrHandleNotFound, got %v", handle, err)
		}
		if f.engine.Pending() != nil {
			t.Fatalf("%q: expected pending request cleared", handle)
		}
	}
	if got := f.engine.Actor().ActiveProfileHandle; got != "alice" {
		t.Fatalf("expected alice to stay active, got %s", got)
	}
}

func TestPendingHandleSatisfiedByLaterLoad(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.seedLegacy("u2", "bob")
	f.signIn(t, "u1")

	f.engine.mu.Lock()
	f.engine.pending = newPendingHandleRequest("u1", "bob", f.engine.now(), time.Minute)
	f.engine.mu.Unlock()

	snap := f.signIn(t, "u2")
	if snap.Active == nil || snap.Active.Handle != "bob" {
		t.Fatalf("expected bob active, got %+v", snap.Active)
	}
	if f.engine.Pending() != nil {
		t.Fatalf("expected pending request consumed")
	}
}

func TestExpiredPendingHandleIsDropped(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, nil, WithClock(func() time.Time { return now }))
	f.seedLegacy("u1", "alice")
	f.seedMulti(t, "u1", "alice", "bob")

	f.engine.mu.Lock()
	f.engine.pending = newPendingHandleRequest("u1", "bob", now.Add(-time.Hour), time.Minute)
	f.engine.mu.Unlock()

	snap := f.signIn(t, "u1")
	if snap.Active == nil || !snap.Active.IsPrimary {
		t.Fatalf("expected expired request ignored, active=%+v", snap.Active)
	}
	if f.engine.Pending() != nil {
		t.Fatalf("expected expired request dropped")
	}
}

func TestCreateThenActivateByHandle(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.signIn(t, "u1")

	created, err := f.engine.CreateProfile(context.Background(), CreateInput{Handle: "cards", DisplayName: "Cards"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.IsPrimary {
		t.Fatalf("expected non-primary profile")
	}
	readsBefore, _, _, _ := f.store.counts()
	p, err := f.engine.ActivateByHandle(context.Background(), "CARDS")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if p.ID != created.ID {
		t.Fatalf("expected %s, got %s", created.ID, p.ID)
	}
	if readsAfter, _, _, _ := f.store.counts(); readsAfter != readsBefore {
		t.Fatalf("expected in-memory match only")
	}
	assertSinglePrimaryFirst(t, f.engine.Snapshot().Profiles)
}

func TestCreateProfileErrors(t *testing.T) {
	f := newFixture(t, []memory.Option{memory.WithoutMultiProfile()})
	f.seedLegacy("u1", "alice")

	if _, err := f.engine.CreateProfile(context.Background(), CreateInput{Handle: "x"}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	f.signIn(t, "u1")
	if _, err := f.engine.CreateProfile(context.Background(), CreateInput{Handle: "second"}); !errors.Is(err, domain.ErrSchemaUnsupported) {
		t.Fatalf("expected ErrSchemaUnsupported, got %v", err)
	}
	if _, err := f.engine.CreateProfile(context.Background(), CreateInput{Handle: "ALICE"}); !errors.Is(err, domain.ErrDuplicateHandle) {
		t.Fatalf("expected ErrDuplicateHandle, got %v", err)
	}
	if _, err := f.engine.CreateProfile(context.Background(), CreateInput{Handle: " "}); !errors.Is(err, domain.ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
}

func TestCreateAfterFailedLoadReloadsAndActivates(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.store.mu.Lock()
	f.store.probeErr = errors.New("connection reset")
	f.store.mu.Unlock()
	if _, err := f.engine.SetAccount(context.Background(), "u1"); err == nil {
		t.Fatalf("expected load failure")
	}
	f.store.mu.Lock()
	f.store.probeErr = nil
	f.store.mu.Unlock()

	created, err := f.engine.CreateProfile(context.Background(), CreateInput{Handle: "cards"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := f.engine.Snapshot()
	want := []profileKey{{ID: "u1", Handle: "alice", IsPrimary: true}, {ID: created.ID, Handle: "cards"}}
	if diff := cmp.Diff(want, keys(snap.Profiles)); diff != "" {
		t.Fatalf("profiles mismatch (-want +got):\n%s", diff)
	}
	if snap.Active == nil || snap.Active.ID != created.ID {
		t.Fatalf("expected created profile active, got %+v", snap.Active)
	}
	if got, _ := f.selections.GetSelection(context.Background(), "u1"); got != created.ID {
		t.Fatalf("expected persisted %s, got %q", created.ID, got)
	}
}

func TestDeleteProfilePolicies(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.signIn(t, "u1")

	err := f.engine.DeleteProfile(context.Background(), "p1")
	if !errors.Is(err, domain.ErrLastProfile) || !errors.Is(err, domain.ErrCannotDeletePrimary) {
		t.Fatalf("expected last/primary error, got %v", err)
	}
	if len(f.engine.Snapshot().Profiles) != 1 {
		t.Fatalf("expected list unchanged")
	}

	bob, err := f.engine.CreateProfile(context.Background(), CreateInput{Handle: "bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, id := range []string{"p1", "u1"} {
		if err := f.engine.DeleteProfile(context.Background(), id); !errors.Is(err, domain.ErrCannotDeletePrimary) {
			t.Fatalf("delete %s: expected ErrCannotDeletePrimary, got %v", id, err)
		}
	}
	if err := f.engine.DeleteProfile(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := f.engine.SwitchTo(context.Background(), bob.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := f.engine.DeleteProfile(context.Background(), bob.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap := f.engine.Snapshot()
	if len(snap.Profiles) != 1 || snap.Active == nil || !snap.Active.IsPrimary {
		t.Fatalf("expected primary active after deleting active profile, got %+v", snap)
	}
	if got, _ := f.selections.GetSelection(context.Background(), "u1"); got != snap.Active.ID {
		t.Fatalf("expected new selection persisted, got %q", got)
	}
	if err := f.engine.DeleteProfile(context.Background(), bob.ID); !errors.Is(err, domain.ErrLastProfile) {
		t.Fatalf("expected ErrLastProfile, got %v", err)
	}
}

func TestUpdateFallsBackToLegacyStore(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.signIn(t, "u1")
	// The deployment loses the multi-profile relation mid-session.
	f.store.SetMultiProfileEnabled(false)

	p, err := f.engine.UpdateProfile(context.Background(), domain.ProfileFields{Bio: domain.StringPtr("new")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !p.IsPrimary || p.Bio != "new" || p.ID != "p1" {
		t.Fatalf("expected merged primary with new bio, got %+v", p)
	}
	if _, _, _, legacyWrites := f.store.counts(); legacyWrites != 1 {
		t.Fatalf("expected one legacy write, got %d", legacyWrites)
	}
	legacy, _ := f.store.Store.ReadLegacyProfile(context.Background(), "u1")
	if legacy.Bio != "new" {
		t.Fatalf("expected legacy row updated, got %+v", legacy)
	}
}

func TestUpdateLegacyBackedPrimary(t *testing.T) {
	f := newFixture(t, []memory.Option{memory.WithoutMultiProfile()})
	f.seedLegacy("u1", "alice")
	f.signIn(t, "u1")

	p, err := f.engine.UpdateProfile(context.Background(), domain.ProfileFields{
		DisplayName: domain.StringPtr("Alice A."),
		Handle:      domain.StringPtr("alice2"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.ID != "u1" || !p.IsPrimary || p.Handle != "alice2" || p.DisplayName != "Alice A." {
		t.Fatalf("unexpected merged profile %+v", p)
	}
	if _, _, updates, legacyWrites := f.store.counts(); updates != 0 || legacyWrites != 1 {
		t.Fatalf("expected legacy-only write, got multi=%d legacy=%d", updates, legacyWrites)
	}
}

func TestUpdateSubProfile(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.seedMulti(t, "u1", "alice", "bob")
	f.signIn(t, "u1")
	if _, err := f.engine.SwitchTo(context.Background(), "p2"); err != nil {
		t.Fatalf("switch: %v", err)
	}

	if _, err := f.engine.UpdateProfile(context.Background(), domain.ProfileFields{Handle: domain.StringPtr("Alice")}); !errors.Is(err, domain.ErrDuplicateHandle) {
		t.Fatalf("expected ErrDuplicateHandle, got %v", err)
	}
	p, err := f.engine.UpdateProfile(context.Background(), domain.ProfileFields{DisplayName: domain.StringPtr("Bobby")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.ID != "p2" || p.IsPrimary || p.DisplayName != "Bobby" {
		t.Fatalf("unexpected merged profile %+v", p)
	}
	snap := f.engine.Snapshot()
	assertSinglePrimaryFirst(t, snap.Profiles)
	if snap.Profiles[1].DisplayName != "Bobby" {
		t.Fatalf("expected in-memory entry updated, got %+v", snap.Profiles[1])
	}
}

func TestRenamingPrimaryKeepsItPrimaryAcrossReload(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	f.seedMulti(t, "u1", "alice", "bob")
	f.signIn(t, "u1")

	p, err := f.engine.UpdateProfile(context.Background(), domain.ProfileFields{Handle: domain.StringPtr("alice2")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.ID != "p1" || !p.IsPrimary || p.Handle != "alice2" {
		t.Fatalf("unexpected merged profile %+v", p)
	}
	before := keys(f.engine.Snapshot().Profiles)

	snap, err := f.engine.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if diff := cmp.Diff(before, keys(snap.Profiles)); diff != "" {
		t.Fatalf("reload changed the list (-before +after):\n%s", diff)
	}
	want := []profileKey{{ID: "p1", Handle: "alice2", IsPrimary: true}, {ID: "p2", Handle: "bob"}}
	if diff := cmp.Diff(want, keys(snap.Profiles)); diff != "" {
		t.Fatalf("profiles mismatch (-want +got):\n%s", diff)
	}
	legacy, _ := f.store.Store.ReadLegacyProfile(context.Background(), "u1")
	if legacy == nil || legacy.Handle != "alice2" {
		t.Fatalf("expected legacy handle carried over, got %+v", legacy)
	}
}

func TestSignOutDuringSwitchSelectionWrite(t *testing.T) {
	f := newFixture(t, nil)
	sel := newGatedSelections()
	f.engine = NewEngine(NewRepository(f.store, f.store, nil), sel)
	f.seedLegacy("u1", "alice")
	f.seedMulti(t, "u1", "alice", "bob")
	f.signIn(t, "u1")
	release := sel.hold()
	defer release()

	errs := make(chan error, 1)
	go func() {
		_, err := f.engine.SwitchTo(context.Background(), "p2")
		errs <- err
	}()
	if id := waitSelectionWrite(t, sel); id != "p2" {
		t.Fatalf("expected write for p2, got %s", id)
	}
	if got := f.engine.ActorID(); got != "p1" {
		t.Fatalf("expected readers to see p1 while the write is pending, got %s", got)
	}

	done := make(chan struct{})
	go func() {
		_, _ = f.engine.SetAccount(context.Background(), "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sign-out waited for the selection store")
	}

	release()
	if err := <-errs; !errors.Is(err, domain.ErrStaleLoad) {
		t.Fatalf("expected superseded switch, got %v", err)
	}
	snap := f.engine.Snapshot()
	if snap.State != StateUnauthenticated || snap.Active != nil {
		t.Fatalf("expected signed-out state, got %+v", snap)
	}
}

func TestActivateByHandleAfterFailedLoad(t *testing.T) {
	f := newFixture(t, nil)
	f.seedLegacy("u1", "alice")
	bob := f.seedMulti(t, "u1", "bob")[0]
	f.store.mu.Lock()
	f.store.probeErr = errors.New("connection reset")
	f.store.mu.Unlock()
	if _, err := f.engine.SetAccount(context.Background(), "u1"); err == nil {
		t.Fatalf("expected load failure")
	}

	if _, err := f.engine.ActivateByHandle(context.Background(), "bob"); !domain.IsTransient(err) {
		t.Fatalf("expected the reload failure, got %v", err)
	}
	if f.engine.Pending() != nil || len(f.engine.Snapshot().Profiles) != 0 {
		t.Fatalf("expected no pending request and an empty list")
	}

	f.store.mu.Lock()
	f.store.probeErr = nil
	f.store.mu.Unlock()
	p, err := f.engine.ActivateByHandle(context.Background(), "bob")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if p.ID != bob.ID || p.IsPrimary {
		t.Fatalf("expected non-primary %s, got %+v", bob.ID, p)
	}
	snap := f.engine.Snapshot()
	want := []profileKey{{ID: "u1", Handle: "alice", IsPrimary: true}, {ID: bob.ID, Handle: "bob"}}
	if diff := cmp.Diff(want, keys(snap.Profiles)); diff != "" {
		t.Fatalf("profiles mismatch (-want +got):\n%s", diff)
	}
	if snap.Active == nil || snap.Active.ID != bob.ID || f.engine.Pending() != nil {
		t.Fatalf("expected %s active with the request consumed, got %+v", bob.ID, snap.Active)
	}
	if got, _ := f.selections.GetSelection(context.Background(), "u1"); got != bob.ID {
		t.Fatalf("expected %s persisted, got %q", bob.ID, got)
	}
	if err := f.engine.DeleteProfile(context.Background(), bob.ID); err != nil {
		t.Fatalf("sub-profile must stay deletable: %v", err)
	}
}
