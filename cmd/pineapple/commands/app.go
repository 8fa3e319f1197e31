package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/policy"
	"github.com/athrane/pineapple-sub012/pkg/report"
	"github.com/athrane/pineapple-sub012/pkg/session"
	"github.com/athrane/pineapple-sub012/pkg/session/host"
	"github.com/athrane/pineapple-sub012/pkg/session/mbean"
	"github.com/athrane/pineapple-sub012/pkg/stores"
	"github.com/athrane/pineapple-sub012/pkg/telemetry"
	"github.com/athrane/pineapple-sub012/pkg/workspace"
)

const defaultDBPath = ".pineapple/runs.db"

// ErrRunNotSuccessful is returned when a run completed with failures or
// errors.
var ErrRunNotSuccessful = errors.New("run did not succeed")

// app holds the components shared by the commands.
type app struct {
	tel       *telemetry.Telemetry
	logger    zerolog.Logger
	workspace *workspace.Workspace
	policies  *policy.Engine
	store     *stores.SQLiteStore
	runner    *engine.Runner
}

// newApp wires telemetry, policies, the run store and the runner. The
// returned context carries the telemetry.
func newApp(ctx context.Context, version string) (context.Context, *app, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.ApplyEnv(os.Getenv)

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	ctx = tel.WithContext(ctx)
	if err := tel.StartMetricsServer(); err != nil {
		return ctx, nil, err
	}

	a := &app{
		tel:    tel,
		logger: log.Logger,
	}
	a.workspace = workspace.New(workDir, envFile, a.logger)

	a.policies, err = policy.NewEngine(a.logger)
	if err != nil {
		a.close(ctx)
		return ctx, nil, fmt.Errorf("failed to initialize policies: %w", err)
	}
	if len(policyPaths) > 0 {
		if err := a.policies.LoadPolicies(ctx, policyPaths); err != nil {
			a.close(ctx)
			return ctx, nil, err
		}
	}

	opts := []engine.RunnerOption{
		engine.WithPolicyChecker(a.policies),
		engine.WithLogger(a.logger),
	}
	if dbPath != "" {
		a.store, err = openStore(ctx, resolveDBPath())
		if err != nil {
			a.close(ctx)
			return ctx, nil, err
		}
		opts = append(opts, engine.WithStore(a.store))
	}

	a.runner = engine.NewRunner(newFactories(), opts...)
	return ctx, a, nil
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close run store")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// newFactories registers the supported live-system sessions.
func newFactories() *session.Factories {
	factories := session.NewFactories()
	factories.Register(mbean.Kind, mbean.Factory)
	factories.Register(host.Kind, host.Factory)
	return factories
}

func resolveDBPath() string {
	if filepath.IsAbs(dbPath) || dbPath == ":memory:" {
		return dbPath
	}
	return filepath.Join(workDir, dbPath)
}

// openStore opens the run store, creating its directory.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path, Actor: actor()})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openHistory opens the run store for commands that only read it.
func openHistory(ctx context.Context) (*stores.SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("run history is disabled (--db is empty)")
	}
	path := resolveDBPath()
	if path != ":memory:" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("no run history at %s: %w", path, err)
		}
	}
	return openStore(ctx, path)
}

func actor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "pineapple"
}

func reportFormat() (report.Format, error) {
	return report.ParseFormat(outputFormat)
}

func reportOptions() report.Options {
	return report.Options{
		Color:       !noColor && os.Getenv("NO_COLOR") == "",
		AllMessages: allMessages,
	}
}
