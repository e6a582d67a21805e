package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/tracker"
)

// Resolver settles conflicts flagged by the Engine.
type Resolver struct {
	items    ItemStore
	creds    CredentialSource
	registry *tracker.Registry
	opts     Options
	logger   *slog.Logger
}

func NewResolver(
	items ItemStore,
	creds CredentialSource,
	registry *tracker.Registry,
	opts Options,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		items:    items,
		creds:    creds,
		registry: registry,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Resolve settles the conflict on itemID and returns the updated item.
// keep-local pushes local content to the external tracker; keep-external
// re-fetches and pulls unconditionally. merge is rejected with
// ErrMergeNotImplemented. On any failure the item is left untouched.
func (r *Resolver) Resolve(ctx context.Context, itemID string, res models.Resolution) (*models.TrackedItem, error) {
	if !res.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, res)
	}

	it, err := r.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if it == nil {
		return nil, ErrItemNotFound
	}
	if !it.SyncConflict {
		return nil, ErrNotInConflict
	}
	if res == models.ResolutionMerge {
		return nil, ErrMergeNotImplemented
	}

	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	client, creds, err := prepare(callCtx, r.creds, r.registry, it)
	if err != nil {
		return nil, newSyncError(it.ID, err)
	}

	now := r.opts.Now()
	switch res {
	case models.ResolutionKeepLocal:
		desc, err := client.ToExternal(it.Description)
		if err != nil {
			return nil, fmt.Errorf("convert description: %w", err)
		}
		ext, err := client.UpdateItem(callCtx, it.ExternalID, creds, tracker.ItemUpdate{
			Title:       it.Title,
			Description: desc,
		})
		if err != nil {
			return nil, newSyncError(it.ID, err)
		}
		// The push already happened; record it even if the caller went away.
		err = r.items.ResolveKeepLocal(context.WithoutCancel(ctx), it.ID, models.ResolveUpdate{
			ExternalUpdatedAt: ext.UpdatedAt,
			ExternalState:     ext.State,
			SyncedAt:          now,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve keep-local: %w", err)
		}

	case models.ResolutionKeepExternal:
		ext, err := client.FetchItem(callCtx, it.ExternalID, creds)
		if err != nil {
			return nil, newSyncError(it.ID, err)
		}
		if ext == nil {
			return nil, &SyncError{Kind: models.ErrorKindNotFound, ItemID: it.ID, Err: ErrExternalNotFound}
		}
		if err := r.items.ApplyPull(ctx, it.ID, pullUpdate(toLocal(client, ext), now)); err != nil {
			return nil, fmt.Errorf("resolve keep-external: %w", err)
		}
	}

	r.logger.Info("conflict resolved", "item_id", it.ID, "resolution", res)

	updated, err := r.items.GetByID(ctx, it.ID)
	if err != nil {
		return nil, fmt.Errorf("reload item: %w", err)
	}
	return updated, nil
}
