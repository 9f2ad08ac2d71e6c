// Package profiles resolves which cards identities an authenticated account
// owns, which one is primary and which one is active, across both the legacy
// single-profile schema and the multi-profile schema.
package profiles

import (
	"cardcore/pkg/domain"
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State is the engine's lifecycle position.
type State int

const (
	StateUnauthenticated State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unauthenticated"
	}
}

// Snapshot is a read-only copy of the engine's published state.
type Snapshot struct {
	State     State
	AccountID string
	Profiles  []domain.Profile
	Active    *domain.Profile
	Loading   bool
	// Err is the failure of the most recent load, if it failed.
	Err error
}

// Actor is the projection downstream features use as their acting identity.
type Actor struct {
	ActiveProfileID     string
	ActiveProfileHandle string
	IsPrimary           bool
	Loading             bool
}

// SessionEvent is a signed-in (AccountID set) or signed-out (empty) transition.
type SessionEvent struct {
	AccountID string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithPendingHandleTTL bounds how long a pending handle request stays applicable.
func WithPendingHandleTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.pendingTTL = ttl }
}

// Engine owns the profile state of one signed-in session. All mutations go
// through its methods; readers take Snapshots.
type Engine struct {
	repo       *Repository
	selections domain.SelectionStore
	logger     Logger
	metrics    MetricsRecorder
	tracer     Tracer
	now        func() time.Time
	pendingTTL time.Duration
	loads      singleflight.Group

	// selMu orders selection-store writes with the active id they publish.
	// When both are held it is acquired before mu.
	selMu sync.Mutex

	mu         sync.Mutex
	state      State
	accountID  string
	epoch      uint64
	gen        uint64
	cancelLoad context.CancelFunc
	caps       Capabilities
	profiles   []domain.Profile
	activeID   string
	desiredID  string
	pending    *PendingHandleRequest
	lastErr    error
	subs       map[int]chan Snapshot
	nextSub    int
	watchers   sync.WaitGroup
}

// NewEngine constructs an unauthenticated engine.
func NewEngine(repo *Repository, selections domain.SelectionStore, opts ...Option) *Engine {
	e := &Engine{
		repo:       repo,
		selections: selections,
		logger:     noopLogger{},
		metrics:    noopMetrics{},
		tracer:     noopTracer{},
		now:        func() time.Time { return time.Now().UTC() },
		pendingTTL: DefaultPendingHandleTTL,
		subs:       make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Actor returns the acting identity projection.
func (e *Engine) Actor() Actor {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := Actor{Loading: e.state == StateLoading}
	if p, ok := findByID(e.profiles, e.activeID); ok {
		a.ActiveProfileID = p.ID
		a.ActiveProfileHandle = p.Handle
		a.IsPrimary = p.IsPrimary
	}
	return a
}

// ActorID returns the active profile id, falling back to the account id when
// no profile has resolved yet.
func (e *Engine) ActorID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeID != "" {
		return e.activeID
	}
	return e.accountID
}

// Pending returns a copy of the outstanding handle request, if any.
func (e *Engine) Pending() *PendingHandleRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	cp := *e.pending
	return &cp
}

// Subscribe returns a channel that receives the latest snapshot after every
// state change. Slow readers only observe the most recent value.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan Snapshot, 1)
	e.subs[id] = ch
	ch <- e.snapshotLocked()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		State:     e.state,
		AccountID: e.accountID,
		Profiles:  cloneProfiles(e.profiles),
		Loading:   e.state == StateLoading,
		Err:       e.lastErr,
	}
	if p, ok := findByID(e.profiles, e.activeID); ok {
		s.Active = &p
	}
	return s
}

func (e *Engine) publishLocked() {
	if len(e.subs) == 0 {
		return
	}
	snap := e.snapshotLocked()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// SetAccount applies a Session Boundary transition. An empty accountID signs
// out: state resets without touching the selection store. Any other value
// (including the current account, on re-authentication) triggers a load.
func (e *Engine) SetAccount(ctx context.Context, accountID string) (Snapshot, error) {
	if !e.switchAccount(accountID) {
		return e.Snapshot(), nil
	}
	return e.Reload(ctx)
}

// switchAccount records the tracked account and reports whether a load is
// needed. Changing accounts cancels any in-flight load and starts a new epoch.
func (e *Engine) switchAccount(accountID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if accountID != "" && accountID == e.accountID {
		return true
	}
	if e.cancelLoad != nil {
		e.cancelLoad()
		e.cancelLoad = nil
	}
	e.gen++
	e.epoch++
	e.profiles = nil
	e.activeID = ""
	e.desiredID = ""
	e.lastErr = nil
	e.caps = Capabilities{}
	if accountID == "" {
		e.logger.Info("account signed out", "account", e.accountID)
		e.state = StateUnauthenticated
		e.accountID = ""
		e.pending = nil
		e.publishLocked()
		return false
	}
	// The pending handle request survives so a re-authentication under
	// another login can still satisfy it.
	e.accountID = accountID
	e.state = StateLoading
	e.publishLocked()
	return true
}

// Watch applies session transitions until events closes or ctx is done.
// Loads run concurrently with later events; a load for an account that is no
// longer tracked is discarded.
func (e *Engine) Watch(ctx context.Context, events <-chan SessionEvent) error {
	defer e.watchers.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !e.switchAccount(ev.AccountID) {
				continue
			}
			e.watchers.Add(1)
			go func() {
				defer e.watchers.Done()
				if _, err := e.Reload(ctx); err != nil && !errors.Is(err, domain.ErrStaleLoad) && !errors.Is(err, domain.ErrUnauthenticated) {
					e.logger.Error("profile load failed", "account", ev.AccountID, "error", err)
				}
			}()
		}
	}
}

// Reload re-runs the load procedure for the current account. Concurrent
// reloads for the same account share one execution.
func (e *Engine) Reload(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	accountID, epoch := e.accountID, e.epoch
	e.mu.Unlock()
	if accountID == "" {
		return e.Snapshot(), domain.ErrUnauthenticated
	}
	key := accountID + "#" + strconv.FormatUint(epoch, 10)
	v, err, _ := e.loads.Do(key, func() (any, error) {
		return e.load(ctx, accountID)
	})
	snap, _ := v.(Snapshot)
	return snap, err
}

type loadResult struct {
	caps      Capabilities
	profiles  []domain.Profile
	persisted string
}

func (e *Engine) load(ctx context.Context, accountID string) (snap Snapshot, err error) {
	ctx, done := e.instrument(ctx, "load")
	defer func() { done(err) }()

	e.mu.Lock()
	if e.accountID != accountID {
		e.mu.Unlock()
		return Snapshot{}, domain.ErrStaleLoad
	}
	if e.cancelLoad != nil {
		e.cancelLoad()
	}
	e.gen++
	gen := e.gen
	loadCtx, cancel := context.WithCancel(ctx)
	e.cancelLoad = cancel
	e.state = StateLoading
	e.publishLocked()
	e.mu.Unlock()
	defer cancel()

	start := e.now()
	e.logger.Debug("profile load started", "account", accountID)
	res, resolveErr := e.resolve(loadCtx, accountID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.accountID != accountID {
		e.logger.Debug("discarding stale profile load", "account", accountID)
		return Snapshot{}, domain.ErrStaleLoad
	}
	if resolveErr == nil {
		resolveErr = e.commit(loadCtx, accountID, gen, res)
		if errors.Is(resolveErr, domain.ErrStaleLoad) {
			e.logger.Debug("discarding stale profile load", "account", accountID)
			return Snapshot{}, domain.ErrStaleLoad
		}
	}
	e.cancelLoad = nil
	e.state = StateReady
	if resolveErr != nil {
		e.profiles = nil
		e.activeID = ""
		e.lastErr = resolveErr
		e.publishLocked()
		e.logger.Warn("profile load failed", "account", accountID, "error", resolveErr)
		return e.snapshotLocked(), resolveErr
	}
	e.lastErr = nil
	e.publishLocked()
	e.logger.Info("profile load finished",
		"account", accountID,
		"profiles", len(e.profiles),
		"multi_profile", res.caps.MultiProfile,
		"duration", e.now().Sub(start))
	return e.snapshotLocked(), nil
}

// resolve performs every repository read of a load. It touches no engine state.
func (e *Engine) resolve(ctx context.Context, accountID string) (loadResult, error) {
	candidate := domain.StubProfile(accountID)
	legacy, err := e.repo.ReadLegacy(ctx, accountID)
	switch {
	case err != nil:
		e.logger.Warn("legacy profile unreadable, using stub", "account", accountID, "error", err)
	case legacy != nil:
		candidate = *legacy
	}

	if err := ctx.Err(); err != nil {
		return loadResult{}, domain.WrapRepositoryError("load", err)
	}
	caps, err := e.repo.Probe(ctx)
	if err != nil {
		return loadResult{}, err
	}

	var profiles []domain.Profile
	if !caps.MultiProfile {
		e.logger.Debug("multi-profile schema unsupported, using legacy profile", "account", accountID)
		profiles = mergePrimary(candidate, nil)
	} else {
		rows, err := e.repo.ReadMulti(ctx, caps, accountID)
		if err != nil {
			return loadResult{}, err
		}
		if len(rows) == 0 {
			rows, caps, err = e.provisionDefault(ctx, caps, accountID, candidate)
			if err != nil {
				return loadResult{}, err
			}
		}
		profiles = mergePrimary(candidate, rows)
	}

	persisted, err := e.selections.GetSelection(ctx, accountID)
	if err != nil {
		return loadResult{}, domain.WrapRepositoryError("read selection", err)
	}
	return loadResult{caps: caps, profiles: profiles, persisted: persisted}, nil
}

// provisionDefault mirrors the legacy profile into the empty multi-profile
// store and re-reads it once. A duplicate handle means another writer got
// there first and is not an error.
func (e *Engine) provisionDefault(ctx context.Context, caps Capabilities, accountID string, candidate domain.Profile) ([]domain.Profile, Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, caps, domain.WrapRepositoryError("provision default", err)
	}
	_, err := e.repo.Insert(ctx, domain.NewProfile{
		OwnerAccountID: accountID,
		Handle:         candidate.Handle,
		DisplayName:    candidate.DisplayName,
		AvatarURL:      candidate.AvatarURL,
		Bio:            candidate.Bio,
	})
	switch {
	case err == nil:
		e.logger.Info("provisioned default profile", "account", accountID, "handle", candidate.Handle)
	case errors.Is(err, domain.ErrDuplicateHandle):
		e.logger.Debug("default profile already provisioned", "account", accountID)
	case errors.Is(err, domain.ErrSchemaUnsupported):
		return nil, Capabilities{}, nil
	default:
		return nil, caps, err
	}
	rows, err := e.repo.ReadMulti(ctx, caps, accountID)
	if errors.Is(err, domain.ErrSchemaUnsupported) {
		return nil, Capabilities{}, nil
	}
	return rows, caps, err
}

// commit picks the active profile for a resolved load, persists it and
// publishes the result. It is entered and returns with e.mu held; the mutex is
// released around the selection write. If a queued switch or pending request
// changed during the write the choice is made again.
func (e *Engine) commit(ctx context.Context, accountID string, gen uint64, res loadResult) error {
	for {
		now := e.now()
		desired, pending := e.desiredID, e.pending
		active := res.profiles[0].ID
		if _, ok := findByID(res.profiles, res.persisted); ok {
			active = res.persisted
		}
		desiredFound := false
		if desired != "" {
			_, desiredFound = findByID(res.profiles, desired)
			if desiredFound {
				active = desired
			}
		}
		matched, pendingMatched := pending.match(res.profiles, now)
		if pendingMatched {
			active = matched.ID
		}

		e.mu.Unlock()
		e.selMu.Lock()
		err := e.selections.SetSelection(ctx, accountID, active)
		e.mu.Lock()
		e.selMu.Unlock()

		if e.gen != gen || e.accountID != accountID {
			return domain.ErrStaleLoad
		}
		if err != nil {
			return domain.WrapRepositoryError("persist selection", err)
		}
		if e.desiredID != desired || e.pending != pending {
			continue
		}

		if desired != "" && !desiredFound {
			e.logger.Debug("queued switch target not found", "account", accountID, "profile", desired)
		}
		e.desiredID = ""
		switch {
		case pendingMatched:
			e.logger.Info("pending handle request satisfied", "account", accountID, "request", pending.ID, "profile", matched.ID)
			e.pending = nil
		case pending != nil && pending.Expired(now):
			e.logger.Debug("pending handle request expired", "request", pending.ID)
			e.pending = nil
		}
		e.caps = res.caps
		e.profiles = res.profiles
		e.activeID = active
		return nil
	}
}

// persistActive writes profileID as the account's selection, then publishes
// it as active if the account is still signed in and the profile is still
// listed. The write runs without e.mu so readers and sign-out never wait on
// the selection store; selMu keeps concurrent writers applying in the order
// they persisted.
func (e *Engine) persistActive(ctx context.Context, accountID, profileID string) (domain.Profile, error) {
	e.selMu.Lock()
	defer e.selMu.Unlock()
	if err := e.selections.SetSelection(ctx, accountID, profileID); err != nil {
		return domain.Profile{}, domain.WrapRepositoryError("persist selection", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.accountID != accountID {
		return domain.Profile{}, domain.ErrStaleLoad
	}
	p, ok := findByID(e.profiles, profileID)
	if !ok {
		return domain.Profile{}, domain.ErrStaleLoad
	}
	e.activeID = profileID
	e.publishLocked()
	return p, nil
}
