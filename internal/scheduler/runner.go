// Package scheduler triggers reconciliation runs, one at a time.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/iammorganparry/hive-sync/internal/models"
)

var ErrRunInProgress = errors.New("a reconciliation run is already in progress")

// Reconciler performs one reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context) (*models.RunReport, error)
}

// Runner serializes runs triggered by the interval loop and by callers.
type Runner struct {
	engine Reconciler
	logger *slog.Logger
	mu     sync.Mutex
}

func NewRunner(engine Reconciler, logger *slog.Logger) *Runner {
	return &Runner{engine: engine, logger: logger}
}

// RunOnce performs a run now. It fails fast with ErrRunInProgress when
// another run holds the lock.
func (r *Runner) RunOnce(ctx context.Context) (*models.RunReport, error) {
	if !r.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.mu.Unlock()
	return r.engine.Run(ctx)
}

// Start runs immediately and then every interval until ctx is done. A
// failed run is logged and the loop continues.
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	r.logger.Info("sync scheduler started", "interval", interval.String())
	r.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := r.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		r.logger.Debug("scheduled run skipped, previous run still active")
	case err != nil:
		r.logger.Error("scheduled run failed", "error", err)
	}
}
