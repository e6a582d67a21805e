package main

import (
	"io"
	"log/slog"

	"github.com/iammorganparry/hive-sync/internal/config"
	"github.com/iammorganparry/hive-sync/internal/credentials"
	"github.com/iammorganparry/hive-sync/internal/logging"
	"github.com/iammorganparry/hive-sync/internal/reconcile"
	"github.com/iammorganparry/hive-sync/internal/scheduler"
	"github.com/iammorganparry/hive-sync/internal/store"
	"github.com/iammorganparry/hive-sync/internal/tracker"
)

// app holds the wired service graph shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer

	db           *store.DB
	items        *store.ItemStore
	runs         *store.RunStore
	keys         *store.APIKeyStore
	integrations *store.IntegrationStore

	box      *credentials.Box
	registry *tracker.Registry
	engine   *reconcile.Engine
	resolver *reconcile.Resolver
	runner   *scheduler.Runner
}

// newApp loads config and opens the database. One-shot commands log to
// stderr so stdout stays readable; serve logs to stdout or the log file.
func newApp(serve bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, closer := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
		Stderr: !serve,
	})
	slog.SetDefault(logger)

	box, err := credentials.NewBox(cfg.SecretKey)
	if err != nil {
		closer.Close()
		return nil, err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		closer.Close()
		return nil, err
	}

	a := &app{
		cfg:          cfg,
		logger:       logger,
		closer:       closer,
		db:           db,
		items:        store.NewItemStore(db),
		runs:         store.NewRunStore(db),
		keys:         store.NewAPIKeyStore(db),
		integrations: store.NewIntegrationStore(db),
		box:          box,
		registry: tracker.NewRegistry(
			tracker.NewAzureDevOpsClient(cfg.AzureDevOpsURL),
			tracker.NewGitHubClient(cfg.GitHubAPIURL),
		),
	}

	creds := credentials.NewResolver(a.integrations, box)
	opts := reconcile.Options{
		CallTimeout: cfg.CallTimeout,
		Backoff:     reconcile.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
	}
	a.engine = reconcile.NewEngine(a.items, a.runs, creds, a.registry, opts, logger)
	a.resolver = reconcile.NewResolver(a.items, creds, a.registry, opts, logger)
	a.runner = scheduler.NewRunner(a.engine, logger)

	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("close database", "error", err)
	}
	a.closer.Close()
}
