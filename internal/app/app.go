// Package app assembles the repositories and services shared by the registry
// server and the admin CLI from environment configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tessera-labs/tessera/internal/patterns"
	"github.com/tessera-labs/tessera/internal/platform/auditlog"
	"github.com/tessera-labs/tessera/internal/platform/env"
	"github.com/tessera-labs/tessera/internal/platform/httpserver"
	"github.com/tessera-labs/tessera/internal/platform/metrics"
	"github.com/tessera-labs/tessera/internal/platform/postgres"
	"github.com/tessera-labs/tessera/internal/platform/redislock"
	"github.com/tessera-labs/tessera/internal/repo"
	"github.com/tessera-labs/tessera/internal/repo/memory"
	repopg "github.com/tessera-labs/tessera/internal/repo/postgres"
	"github.com/tessera-labs/tessera/internal/service/integration"
	"github.com/tessera-labs/tessera/internal/service/matcher"
	"github.com/tessera-labs/tessera/internal/service/versions"
	"github.com/tessera-labs/tessera/internal/versioning"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	LockPostgres = "postgres"
	LockRedis    = "redis"
	LockMemory   = "memory"
)

type Config struct {
	Store        string
	LockBackend  string
	PatternsPath string
	FixturesPath string
	Versions     versions.Config
	Sweep        integration.SweepConfig
}

func ConfigFromEnv() (Config, error) {
	store, err := env.OneOf("TESSERA_STORE", StorePostgres, StorePostgres, StoreMemory)
	if err != nil {
		return Config{}, err
	}
	defaultLock := LockPostgres
	if store == StoreMemory {
		defaultLock = LockMemory
	}
	lock, err := env.OneOf("TESSERA_LOCK_BACKEND", defaultLock, LockPostgres, LockRedis, LockMemory)
	if err != nil {
		return Config{}, err
	}
	versionsCfg, err := versions.ConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	sweepCfg, err := integration.SweepConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Store:        store,
		LockBackend:  lock,
		PatternsPath: strings.TrimSpace(env.String("TESSERA_DEPENDENCY_PATTERNS", "")),
		FixturesPath: strings.TrimSpace(env.String("TESSERA_MEMORY_FIXTURES", "")),
		Versions:     versionsCfg,
		Sweep:        sweepCfg,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.LockBackend == LockPostgres && c.Store != StorePostgres {
		return errors.New("TESSERA_LOCK_BACKEND=postgres requires TESSERA_STORE=postgres")
	}
	if c.FixturesPath != "" && c.Store != StoreMemory {
		return errors.New("TESSERA_MEMORY_FIXTURES requires TESSERA_STORE=memory")
	}
	if err := c.Versions.Validate(); err != nil {
		return err
	}
	return c.Sweep.Validate()
}

type stores struct {
	components  repo.ComponentRepository
	branches    repo.BranchRepository
	releases    repo.ReleaseRepository
	assignments repo.VersionAssignmentRepository
	checkpoints repo.SweepCheckpointRepository
}

// App holds the wired services. Close releases its connections.
type App struct {
	Config     Config
	DB         *sql.DB
	Metrics    *metrics.Metrics
	Versions   *versions.Engine
	Matcher    *matcher.Matcher
	Controller *integration.Controller

	dbCfg   postgres.Config
	redis   *redislock.Locker
	closers []func() error
}

func Build(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Metrics: metrics.New()}

	st, audit, err := a.openStores(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	locker, err := a.openLocker(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var resolver *patterns.Resolver
	if cfg.PatternsPath != "" {
		spec, err := patterns.LoadSpec(cfg.PatternsPath)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("dependency patterns: %w", err)
		}
		resolver, err = patterns.NewResolver(spec, st.branches)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("dependency patterns: %w", err)
		}
		logger.Info("dependency patterns loaded", "path", cfg.PatternsPath, "rules", len(spec.Rules))
	}

	a.Versions = versions.New(
		st.components,
		st.branches,
		st.assignments,
		versioning.Default(),
		versions.WithConfig(cfg.Versions),
		versions.WithLogger(logger),
		versions.WithMetrics(a.Metrics),
		versions.WithAudit(audit),
	)

	matcherOpts := []matcher.Option{matcher.WithLogger(logger), matcher.WithMetrics(a.Metrics)}
	if resolver != nil {
		matcherOpts = append(matcherOpts, matcher.WithDependencies(resolver))
	}
	a.Matcher = matcher.New(st.branches, st.releases, matcherOpts...)

	a.Controller, err = integration.New(
		integration.Deps{
			Components:  st.components,
			Branches:    st.branches,
			Releases:    st.releases,
			Checkpoints: st.checkpoints,
			Locker:      locker,
			Versions:    a.Versions,
			Matcher:     a.Matcher,
			Patterns:    resolver,
		},
		integration.WithSweepConfig(cfg.Sweep),
		integration.WithLogger(logger),
		integration.WithMetrics(a.Metrics),
		integration.WithAudit(audit),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg Config, logger *slog.Logger) (stores, auditlog.Recorder, error) {
	if cfg.Store == StoreMemory {
		store := memory.New()
		if cfg.FixturesPath != "" {
			if err := LoadFixtures(store, cfg.FixturesPath); err != nil {
				return stores{}, nil, fmt.Errorf("memory fixtures: %w", err)
			}
		}
		logger.Warn("using in-memory store; state is lost on exit")
		return stores{
			components:  store,
			branches:    store,
			releases:    store,
			assignments: store,
			checkpoints: store,
		}, &auditlog.Memory{}, nil
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return stores{}, nil, fmt.Errorf("database config: %w", err)
	}
	if cfg.LockBackend == LockPostgres {
		if err := dbCfg.ValidateLockWorkers(cfg.Sweep.Concurrency); err != nil {
			return stores{}, nil, fmt.Errorf("SWEEP_CONCURRENCY: %w", err)
		}
	}
	a.dbCfg = dbCfg
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return stores{}, nil, fmt.Errorf("database unavailable: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	return stores{
		components:  repopg.NewComponentStore(db),
		branches:    repopg.NewBranchStore(db),
		releases:    repopg.NewReleaseStore(db),
		assignments: repopg.NewAssignmentStore(db),
		checkpoints: repopg.NewCheckpointStore(db),
	}, auditlog.NewDBRecorder(db), nil
}

func (a *App) openLocker(ctx context.Context, cfg Config, logger *slog.Logger) (repo.BranchLocker, error) {
	switch cfg.LockBackend {
	case LockRedis:
		redisCfg, err := redislock.ConfigFromEnv()
		if err != nil {
			return nil, fmt.Errorf("redis config: %w", err)
		}
		locker, err := redislock.New(ctx, redisCfg, logger)
		if err != nil {
			return nil, err
		}
		a.redis = locker
		a.closers = append(a.closers, locker.Close)
		return locker, nil
	case LockPostgres:
		return repopg.NewAdvisoryLocker(a.DB, repopg.LockConfig{
			Wait:         a.dbCfg.LockWait,
			PollInterval: a.dbCfg.LockPollInterval,
			Slots:        a.dbCfg.LockSlots(),
		}), nil
	default:
		return memory.NewLocker(), nil
	}
}

// ReadinessChecks reports the backing services the app depends on.
func (a *App) ReadinessChecks() []httpserver.ReadinessCheck {
	checks := make([]httpserver.ReadinessCheck, 0, 2)
	if a.DB != nil {
		db := a.DB
		checks = append(checks, httpserver.ReadinessCheck{Name: "postgres", Check: db.PingContext})
	}
	if a.redis != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "redis", Check: a.redis.Ping})
	}
	return checks
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
