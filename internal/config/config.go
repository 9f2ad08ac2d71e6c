// Package config reads CARDCORE_* settings from the environment (and an
// optional .env file) and opens the matching backends.
package config

import (
	"cardcore/internal/blob"
	"cardcore/internal/profiles"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StorageDriver identifies a concrete profile storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// SelectionDriver identifies where active profile selections live.
type SelectionDriver string

const (
	SelectionMemory SelectionDriver = "memory"
	SelectionSQLite SelectionDriver = "sqlite"
	SelectionRedis  SelectionDriver = "redis"
)

// MetricsDriver selects the engine metrics recorder.
type MetricsDriver string

const (
	MetricsNone       MetricsDriver = "none"
	MetricsExpvar     MetricsDriver = "expvar"
	MetricsPrometheus MetricsDriver = "prometheus"
)

// Config is the resolved runtime configuration.
type Config struct {
	StorageDriver    StorageDriver
	SQLitePath       string
	SQLiteLegacyOnly bool
	PostgresDSN      string

	SelectionDriver SelectionDriver
	RedisAddrs      []string
	RedisPassword   string
	RedisDB         int

	Assets blob.Options

	LogLevel         string
	Metrics          MetricsDriver
	PendingHandleTTL time.Duration
}

// Load reads envFiles (default .env) into the process environment without
// overriding variables already set, then resolves the configuration.
// Missing env files are ignored.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv resolves the configuration through getenv.
//
//	CARDCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	CARDCORE_SQLITE_PATH: path to sqlite file (default ./cardcore.db)
//	CARDCORE_POSTGRES_DSN: postgres DSN when driver=postgres
//	CARDCORE_SELECTION_DRIVER: memory|sqlite|redis (default sqlite with sqlite storage, else memory)
//	CARDCORE_ASSET_DRIVER: fs|s3|memory (default fs)
func FromEnv(getenv func(string) string) (Config, error) {
	env := func(key string) string { return strings.TrimSpace(getenv("CARDCORE_" + key)) }
	cfg := Config{
		StorageDriver:   StorageDriver(strings.ToLower(env("STORAGE_DRIVER"))),
		SQLitePath:      env("SQLITE_PATH"),
		PostgresDSN:     env("POSTGRES_DSN"),
		SelectionDriver: SelectionDriver(strings.ToLower(env("SELECTION_DRIVER"))),
		RedisPassword:   env("REDIS_PASSWORD"),
		LogLevel:        env("LOG_LEVEL"),
		Metrics:         MetricsDriver(strings.ToLower(env("METRICS"))),
		Assets: blob.Options{
			Driver:        blob.Driver(strings.ToLower(env("ASSET_DRIVER"))),
			FSRoot:        env("ASSET_FS_ROOT"),
			PublicBaseURL: env("ASSET_PUBLIC_BASE_URL"),
			S3: blob.S3Config{
				Bucket:          env("ASSET_S3_BUCKET"),
				Region:          env("ASSET_S3_REGION"),
				Endpoint:        env("ASSET_S3_ENDPOINT"),
				PublicBaseURL:   env("ASSET_S3_PUBLIC_BASE_URL"),
				AccessKeyID:     env("ASSET_S3_ACCESS_KEY_ID"),
				SecretAccessKey: env("ASSET_S3_SECRET_ACCESS_KEY"),
			},
		},
		PendingHandleTTL: profiles.DefaultPendingHandleTTL,
	}
	var err error
	if cfg.SQLiteLegacyOnly, err = parseBool(env("SQLITE_LEGACY_ONLY")); err != nil {
		return Config{}, fmt.Errorf("CARDCORE_SQLITE_LEGACY_ONLY: %w", err)
	}
	if cfg.Assets.S3.PathStyle, err = parseBool(env("ASSET_S3_PATH_STYLE")); err != nil {
		return Config{}, fmt.Errorf("CARDCORE_ASSET_S3_PATH_STYLE: %w", err)
	}
	if raw := env("REDIS_DB"); raw != "" {
		if cfg.RedisDB, err = strconv.Atoi(raw); err != nil {
			return Config{}, fmt.Errorf("CARDCORE_REDIS_DB: %w", err)
		}
	}
	if raw := env("PENDING_HANDLE_TTL"); raw != "" {
		if cfg.PendingHandleTTL, err = time.ParseDuration(raw); err != nil {
			return Config{}, fmt.Errorf("CARDCORE_PENDING_HANDLE_TTL: %w", err)
		}
	}
	for _, addr := range strings.Split(env("REDIS_ADDR"), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			cfg.RedisAddrs = append(cfg.RedisAddrs, addr)
		}
	}

	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageSQLite
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "cardcore.db"
	}
	if cfg.SelectionDriver == "" {
		cfg.SelectionDriver = SelectionMemory
		if cfg.StorageDriver == StorageSQLite {
			cfg.SelectionDriver = SelectionSQLite
		}
	}
	if cfg.Metrics == "" {
		cfg.Metrics = MetricsExpvar
	}
	return cfg, cfg.Validate()
}

// Validate rejects unknown drivers and incomplete combinations.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %s", c.StorageDriver)
	}
	switch c.SelectionDriver {
	case SelectionMemory, SelectionRedis:
	case SelectionSQLite:
		if c.StorageDriver != StorageSQLite {
			return fmt.Errorf("selection driver sqlite requires sqlite storage")
		}
	default:
		return fmt.Errorf("unknown selection driver %s", c.SelectionDriver)
	}
	if c.SelectionDriver == SelectionRedis && len(c.RedisAddrs) == 0 {
		return fmt.Errorf("CARDCORE_REDIS_ADDR required for redis selection driver")
	}
	switch c.Metrics {
	case MetricsNone, MetricsExpvar, MetricsPrometheus:
	default:
		return fmt.Errorf("unknown metrics driver %s", c.Metrics)
	}
	if c.PendingHandleTTL <= 0 {
		return fmt.Errorf("pending handle ttl must be positive")
	}
	return nil
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
