package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/reconcile"
	"github.com/iammorganparry/hive-sync/internal/scheduler"
	"github.com/iammorganparry/hive-sync/internal/store"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	db *store.DB,
	items *store.ItemStore,
	runs *store.RunStore,
	keys KeyLookup,
	resolver *reconcile.Resolver,
	runner *scheduler.Runner,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(db, items, runs)
	itemH := NewItemHandler(items, resolver, logger)
	syncH := NewSyncHandler(runner, runs)

	r.Get("/health", healthH.Health)

	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(apiKey, keys, logger))

		r.Route("/items", func(r chi.Router) {
			r.With(RequirePermission(models.PermissionItemsRead)).Get("/", itemH.List)
			r.With(RequirePermission(models.PermissionItemsWrite)).Post("/", itemH.Create)
			r.With(RequirePermission(models.PermissionItemsRead)).Get("/{id}", itemH.Get)
			r.With(RequirePermission(models.PermissionItemsWrite)).Patch("/{id}", itemH.Update)
			r.With(RequirePermission(models.PermissionConflictsWrite)).Post("/{id}/resolve", itemH.Resolve)
		})

		r.Route("/sync", func(r chi.Router) {
			r.With(RequirePermission(models.PermissionSyncRun)).Post("/run", syncH.Run)
			r.With(RequirePermission(models.PermissionItemsRead)).Get("/runs", syncH.Runs)
		})
	})

	return r
}
