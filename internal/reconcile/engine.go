// Package reconcile compares tracked items with their external counterparts,
// pulls external edits, flags conflicts and settles them on request.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/tracker"
)

// DefaultCallTimeout bounds each external call when Options leaves it unset.
const DefaultCallTimeout = 20 * time.Second

// ItemStore is the persistence the engine and resolver need. Every write
// touches exactly one row.
type ItemStore interface {
	ListSyncEnabled(ctx context.Context) ([]*models.TrackedItem, error)
	GetByID(ctx context.Context, id string) (*models.TrackedItem, error)
	ApplyPull(ctx context.Context, id string, u models.PullUpdate) error
	MarkConflict(ctx context.Context, id string, u models.ConflictUpdate) error
	RecordFailure(ctx context.Context, id string, u models.FailureUpdate) error
	MarkStable(ctx context.Context, id string, u models.StableUpdate) error
	ResolveKeepLocal(ctx context.Context, id string, u models.ResolveUpdate) error
}

// RunRecorder stores finished run reports.
type RunRecorder interface {
	RecordRun(ctx context.Context, r *models.RunReport) error
}

// CredentialSource resolves the credentials for an item's category. It
// returns an error wrapping ErrConfigIncomplete when settings are missing.
type CredentialSource interface {
	Lookup(ctx context.Context, item *models.TrackedItem) (tracker.Credentials, error)
}

// Options tunes an Engine or Resolver. Zero values pick defaults.
type Options struct {
	CallTimeout time.Duration
	Backoff     Backoff
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine runs reconciliation passes over all sync-enabled items.
type Engine struct {
	items    ItemStore
	runs     RunRecorder
	creds    CredentialSource
	registry *tracker.Registry
	opts     Options
	logger   *slog.Logger
}

func NewEngine(
	items ItemStore,
	runs RunRecorder,
	creds CredentialSource,
	registry *tracker.Registry,
	opts Options,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		items:    items,
		runs:     runs,
		creds:    creds,
		registry: registry,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Run reconciles every sync-enabled item once, in sequence. Per-item
// failures are recorded on the item and never stop the batch. Only a
// failure to load the item list fails the run. ctx is checked between
// items; an item already in progress always finishes.
func (e *Engine) Run(ctx context.Context) (*models.RunReport, error) {
	report := &models.RunReport{
		ID:        uuid.New().String(),
		StartedAt: e.opts.Now(),
		Status:    models.RunStatusCompleted,
	}

	items, err := e.items.ListSyncEnabled(ctx)
	if err != nil {
		err = fmt.Errorf("load sync-enabled items: %w", err)
		report.Status = models.RunStatusFailed
		report.Error = err.Error()
		report.FinishedAt = e.opts.Now()
		e.logger.Error("reconciliation run failed", "run_id", report.ID, "error", err)
		e.record(ctx, report)
		return report, err
	}
	report.Total = len(items)

	for _, it := range items {
		if ctx.Err() != nil {
			report.Status = models.RunStatusCancelled
			e.logger.Info("reconciliation run cancelled", "run_id", report.ID, "processed", len(report.Items))
			break
		}
		report.Record(e.reconcileItem(ctx, it))
	}

	report.FinishedAt = e.opts.Now()
	e.record(ctx, report)

	e.logger.Info("reconciliation run finished",
		"run_id", report.ID,
		"status", report.Status,
		"total", report.Total,
		"stable", report.Stable,
		"pulled", report.Pulled,
		"conflicts", report.Conflicts,
		"not_found", report.NotFound,
		"errors", report.Errors,
		"skipped", report.Skipped,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

func (e *Engine) record(ctx context.Context, report *models.RunReport) {
	if e.runs == nil {
		return
	}
	if err := e.runs.RecordRun(context.WithoutCancel(ctx), report); err != nil {
		e.logger.Error("failed to record run", "run_id", report.ID, "error", err)
	}
}

func (e *Engine) reconcileItem(ctx context.Context, it *models.TrackedItem) models.ItemOutcome {
	now := e.opts.Now()
	log := e.logger.With("item_id", it.ID, "system", it.ExternalSystem, "external_id", it.ExternalID)

	if it.NextAttemptAt != nil && now.Before(*it.NextAttemptAt) {
		log.Debug("item in cool-down, skipping", "next_attempt_at", it.NextAttemptAt)
		return models.ItemOutcome{ItemID: it.ID, Outcome: models.OutcomeSkipped}
	}

	// Cancellation of ctx must not interrupt the item once started.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.CallTimeout)
	defer cancel()

	client, creds, err := prepare(callCtx, e.creds, e.registry, it)
	if err != nil {
		return e.fail(ctx, log, it, err, now)
	}

	ext, err := client.FetchItem(callCtx, it.ExternalID, creds)
	if err != nil {
		return e.fail(ctx, log, it, err, now)
	}
	if ext == nil {
		log.Info("external item not found, skipping")
		return models.ItemOutcome{
			ItemID:  it.ID,
			Outcome: models.OutcomeNotFound,
			Kind:    models.ErrorKindNotFound,
			Message: ErrExternalNotFound.Error(),
		}
	}

	local := toLocal(client, ext)
	d := Classify(it, local)

	// Writes get their own deadline; a slow fetch must not starve them.
	writeCtx, writeCancel := e.writeContext(ctx)
	defer writeCancel()

	switch d.State {
	case StatePullPending:
		err := e.items.ApplyPull(writeCtx, it.ID, pullUpdate(local, now))
		if err != nil {
			return e.fail(ctx, log, it, err, now)
		}
		log.Info("pulled external changes", "converged", d.Converged)
		return models.ItemOutcome{ItemID: it.ID, Outcome: models.OutcomePulled}

	case StateConflict:
		msg := conflictMessage(it, local)
		err := e.items.MarkConflict(writeCtx, it.ID, models.ConflictUpdate{
			ExternalUpdatedAt: local.UpdatedAt,
			ExternalState:     local.State,
			Message:           msg,
		})
		if err != nil {
			return e.fail(ctx, log, it, err, now)
		}
		log.Warn("sync conflict", "local_title", it.Title, "external_title", local.Title)
		return models.ItemOutcome{
			ItemID:  it.ID,
			Outcome: models.OutcomeConflict,
			Kind:    models.ErrorKindConflict,
			Message: msg,
		}

	default:
		if needsStableWrite(it, local) {
			err := e.items.MarkStable(writeCtx, it.ID, models.StableUpdate{
				ExternalUpdatedAt: latest(it.ExternalUpdatedAt, local.UpdatedAt),
				ExternalState:     local.State,
			})
			if err != nil {
				return e.fail(ctx, log, it, err, now)
			}
			log.Debug("refreshed stable item", "noise", d.Noise)
		}
		return models.ItemOutcome{ItemID: it.ID, Outcome: models.OutcomeStable}
	}
}

func (e *Engine) fail(ctx context.Context, log *slog.Logger, it *models.TrackedItem, err error, now time.Time) models.ItemOutcome {
	se := newSyncError(it.ID, err)
	next := e.opts.Backoff.Next(now, it.ErrorCount+1)

	log.Warn("item sync failed", "kind", se.Kind, "error", se.Err, "next_attempt_at", next)

	writeCtx, cancel := e.writeContext(ctx)
	defer cancel()

	werr := e.items.RecordFailure(writeCtx, it.ID, models.FailureUpdate{
		Kind:          se.Kind,
		Message:       se.Err.Error(),
		NextAttemptAt: next,
	})
	if werr != nil {
		log.Error("failed to record item failure", "error", werr)
	}

	return models.ItemOutcome{
		ItemID:  it.ID,
		Outcome: models.OutcomeError,
		Kind:    se.Kind,
		Message: se.Err.Error(),
	}
}

// writeContext bounds a store write independently of the run's cancellation
// and of any expired call deadline.
func (e *Engine) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.opts.CallTimeout)
}

// prepare resolves the adapter and credentials for it. Configuration errors
// surface here, before any external call.
func prepare(ctx context.Context, creds CredentialSource, registry *tracker.Registry, it *models.TrackedItem) (tracker.Client, tracker.Credentials, error) {
	client, err := registry.Get(it.ExternalSystem)
	if err != nil {
		return nil, tracker.Credentials{}, fmt.Errorf("%w: %v", ErrConfigIncomplete, err)
	}
	c, err := creds.Lookup(ctx, it)
	if err != nil {
		if !errors.Is(err, ErrConfigIncomplete) {
			err = fmt.Errorf("lookup credentials: %w", err)
		}
		return nil, tracker.Credentials{}, err
	}
	return client, c, nil
}

// toLocal returns a copy of ext with its description in local Markdown.
func toLocal(client tracker.Client, ext *models.ExternalItem) *models.ExternalItem {
	out := *ext
	out.Description = client.ToLocal(ext.Description)
	return &out
}

func pullUpdate(ext *models.ExternalItem, now time.Time) models.PullUpdate {
	return models.PullUpdate{
		Title:             ext.Title,
		Description:       ext.Description,
		ExternalUpdatedAt: ext.UpdatedAt,
		ExternalState:     ext.State,
		SyncedAt:          now,
	}
}

func conflictMessage(it *models.TrackedItem, ext *models.ExternalItem) string {
	return fmt.Sprintf("conflict: local and %s both changed since last sync (local title %q, external title %q)",
		it.ExternalSystem, it.Title, ext.Title)
}

// needsStableWrite reports whether a stable item's stored sync fields are
// out of date. A second run over unchanged data must write nothing.
func needsStableWrite(it *models.TrackedItem, ext *models.ExternalItem) bool {
	if it.ExternalUpdatedAt == nil || ext.UpdatedAt.After(*it.ExternalUpdatedAt) {
		return true
	}
	if it.ExternalState != ext.State {
		return true
	}
	if it.ErrorCount > 0 || it.NextAttemptAt != nil {
		return true
	}
	if it.SyncConflict {
		return false
	}
	return it.SyncStatus != models.SyncStatusSynced ||
		it.SyncErrorKind != models.ErrorKindNone ||
		it.SyncError != ""
}

func latest(stored *time.Time, t time.Time) time.Time {
	if stored != nil && stored.After(t) {
		return *stored
	}
	return t
}
