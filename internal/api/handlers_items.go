package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/reconcile"
	"github.com/iammorganparry/hive-sync/internal/store"
)

type ItemHandler struct {
	items    *store.ItemStore
	resolver *reconcile.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

func NewItemHandler(items *store.ItemStore, resolver *reconcile.Resolver, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{items: items, resolver: resolver, logger: logger, now: time.Now}
}

// List handles GET /items
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	conflicts, _ := strconv.ParseBool(q.Get("conflicts"))

	req := &models.ListItemsRequest{
		CategoryID:   q.Get("category_id"),
		Status:       models.SyncStatus(q.Get("status")),
		ConflictOnly: conflicts,
		Limit:        limit,
	}

	items, err := h.items.List(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []*models.TrackedItem{}
	}

	writeJSON(w, http.StatusOK, models.ListItemsResponse{Items: items, Total: len(items)})
}

// Get handles GET /items/{id}
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	it, err := h.items.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if it == nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// Create handles POST /items
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	switch {
	case strings.TrimSpace(req.CategoryID) == "":
		writeError(w, http.StatusBadRequest, "categoryId is required")
		return
	case !req.ExternalSystem.IsValid():
		writeError(w, http.StatusBadRequest, "invalid externalSystem")
		return
	case strings.TrimSpace(req.ExternalID) == "":
		writeError(w, http.StatusBadRequest, "externalId is required")
		return
	case strings.TrimSpace(req.Title) == "":
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	now := h.now().UTC().Truncate(time.Millisecond)
	it := &models.TrackedItem{
		ID:             uuid.New().String(),
		CategoryID:     req.CategoryID,
		ExternalSystem: req.ExternalSystem,
		ExternalID:     strings.TrimSpace(req.ExternalID),
		Title:          req.Title,
		Description:    req.Description,
		SyncEnabled:    req.SyncEnabled == nil || *req.SyncEnabled,
		LocalUpdatedAt: now,
		SyncStatus:     models.SyncStatusSynced,
		CreatedAt:      now,
	}
	if err := h.items.Create(r.Context(), it); err != nil {
		writeSyncError(w, err)
		return
	}

	h.logger.Info("tracked item created", "item_id", it.ID, "system", it.ExternalSystem, "external_id", it.ExternalID)
	writeJSON(w, http.StatusCreated, it)
}

// Update handles PATCH /items/{id}
func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title must not be empty")
		return
	}

	it, err := h.items.UpdateLocal(r.Context(), chi.URLParam(r, "id"), &req, h.now().UTC().Truncate(time.Millisecond))
	if err != nil {
		writeSyncError(w, err)
		return
	}
	if it == nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// Resolve handles POST /items/{id}/resolve
func (h *ItemHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	it, err := h.resolver.Resolve(r.Context(), chi.URLParam(r, "id"), req.Resolution)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}
