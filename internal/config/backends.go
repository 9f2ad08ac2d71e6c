package config

import (
	"cardcore/internal/blob"
	"cardcore/internal/infra/persistence/memory"
	"cardcore/internal/infra/persistence/postgres"
	"cardcore/internal/infra/persistence/sqlite"
	selectionmem "cardcore/internal/infra/selection/memory"
	selectionredis "cardcore/internal/infra/selection/redis"
	selectionsqlite "cardcore/internal/infra/selection/sqlite"
	"cardcore/internal/observability"
	"cardcore/internal/profiles"
	"cardcore/pkg/domain"
	"context"
	"errors"
	"fmt"
)

// Backends holds the opened stores for one process.
type Backends struct {
	Legacy     domain.LegacyStore
	Multi      domain.MultiProfileStore
	Selections domain.SelectionStore
	Assets     blob.Locator

	migrate func(context.Context) error
	closers []func() error
}

// Open connects every backend cfg names. On error, whatever was already
// opened is closed.
func Open(ctx context.Context, cfg Config) (_ *Backends, err error) {
	b := &Backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	var sqliteStore *sqlite.Store
	switch cfg.StorageDriver {
	case StorageMemory:
		mem := memory.NewStore()
		b.Legacy, b.Multi = mem, mem
		b.migrate = func(context.Context) error {
			mem.SetMultiProfileEnabled(true)
			return nil
		}
	case StorageSQLite:
		var opts []sqlite.Option
		if cfg.SQLiteLegacyOnly {
			opts = append(opts, sqlite.LegacyOnly())
		}
		sqliteStore, err = sqlite.NewStore(cfg.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, sqliteStore.Close)
		b.Legacy, b.Multi = sqliteStore, sqliteStore
		b.migrate = sqliteStore.MigrateMultiProfile
	case StoragePostgres:
		pg, err := postgres.NewStore(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pg.Close)
		b.Legacy, b.Multi = pg, pg
		b.migrate = pg.Migrate
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.StorageDriver)
	}

	switch cfg.SelectionDriver {
	case SelectionMemory:
		b.Selections = selectionmem.New()
	case SelectionSQLite:
		if sqliteStore == nil {
			return nil, errors.New("selection driver sqlite requires sqlite storage")
		}
		sel, err := selectionsqlite.New(ctx, sqliteStore.DB())
		if err != nil {
			return nil, err
		}
		b.Selections = sel
	case SelectionRedis:
		sel, err := selectionredis.Dial(cfg.RedisAddrs, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, sel.Close)
		b.Selections = sel
	default:
		return nil, fmt.Errorf("unknown selection driver %s", cfg.SelectionDriver)
	}

	if b.Assets, err = blob.Open(ctx, cfg.Assets); err != nil {
		return nil, fmt.Errorf("open assets: %w", err)
	}
	return b, nil
}

// Migrate provisions the multi-profile schema on the configured storage.
func (b *Backends) Migrate(ctx context.Context) error {
	if b.migrate == nil {
		return errors.New("storage does not support migration")
	}
	return b.migrate(ctx)
}

// Repository builds the capability-negotiating repository over the backends.
func (b *Backends) Repository() *profiles.Repository {
	var assets domain.AssetLocator
	if b.Assets != nil {
		assets = b.Assets
	}
	return profiles.NewRepository(b.Legacy, b.Multi, assets)
}

// Close releases backends in reverse open order.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Telemetry is the logger and metrics pair cfg selects.
type Telemetry struct {
	Logger  *observability.ZapLogger
	Metrics profiles.MetricsRecorder
}

// EngineOptions converts the telemetry and ttl into engine options.
func (t Telemetry) EngineOptions(cfg Config) []profiles.Option {
	opts := []profiles.Option{profiles.WithPendingHandleTTL(cfg.PendingHandleTTL)}
	if t.Logger != nil {
		opts = append(opts, profiles.WithLogger(t.Logger))
	}
	if t.Metrics != nil {
		opts = append(opts, profiles.WithMetrics(t.Metrics))
	}
	return opts
}

// OpenTelemetry builds the zap logger and metrics recorder.
func OpenTelemetry(cfg Config) (Telemetry, error) {
	logger, err := observability.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return Telemetry{}, err
	}
	t := Telemetry{Logger: logger}
	switch cfg.Metrics {
	case MetricsExpvar:
		t.Metrics = observability.NewExpvarMetricsRecorder("")
	case MetricsPrometheus:
		t.Metrics = observability.NewPrometheusRecorder(nil)
	}
	return t, nil
}
