package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iammorganparry/hive-sync/internal/api"
	"github.com/iammorganparry/hive-sync/internal/credentials"
)

func serveCmd() *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic reconciliation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a, !noScheduler)
		},
	}

	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve the API without periodic runs")

	return cmd
}

func serve(parent context.Context, a *app, schedule bool) error {
	logger := a.logger

	if a.cfg.IntegrationsFile != "" {
		n, err := credentials.ImportFile(parent, a.cfg.IntegrationsFile, a.integrations, a.box, time.Now())
		if err != nil {
			return fmt.Errorf("import integrations: %w", err)
		}
		logger.Info("integrations imported", "file", a.cfg.IntegrationsFile, "count", n)
	}

	if a.cfg.APIKey == "" {
		logger.Warn("HIVE_API_KEY not set, only stored API keys are accepted")
	}

	router := api.NewRouter(a.db, a.items, a.runs, a.keys, a.resolver, a.runner, a.cfg.APIKey, logger)

	addr := fmt.Sprintf(":%d", a.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("hive-sync server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	// A zero SYNC_INTERVAL leaves runs to POST /sync/run.
	if schedule && a.cfg.SyncInterval > 0 {
		g.Go(func() error {
			a.runner.Start(gctx, a.cfg.SyncInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
