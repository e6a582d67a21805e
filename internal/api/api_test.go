package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/reconcile"
	"github.com/iammorganparry/hive-sync/internal/scheduler"
	"github.com/iammorganparry/hive-sync/internal/store"
	"github.com/iammorganparry/hive-sync/internal/tracker"
)

const testAPIKey = "test-static-key"

type staticCreds struct{}

func (staticCreds) Lookup(ctx context.Context, item *models.TrackedItem) (tracker.Credentials, error) {
	return tracker.Credentials{Token: "ghp", Owner: "acme", Repo: "web"}, nil
}

type testServer struct {
	handler http.Handler
	items   *store.ItemStore
	keys    *store.APIKeyStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "hive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	github := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number": 1, "title": "Remote title", "body": "Remote body", "state": "open", "updated_at": "2024-06-01T00:00:00Z"}`)
	}))
	t.Cleanup(github.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	items := store.NewItemStore(db)
	runs := store.NewRunStore(db)
	keys := store.NewAPIKeyStore(db)
	registry := tracker.NewRegistry(tracker.NewGitHubClient(github.URL))

	engine := reconcile.NewEngine(items, runs, staticCreds{}, registry, reconcile.Options{}, logger)
	resolver := reconcile.NewResolver(items, staticCreds{}, registry, reconcile.Options{}, logger)
	runner := scheduler.NewRunner(engine, logger)

	return &testServer{
		handler: NewRouter(db, items, runs, keys, resolver, runner, testAPIKey, logger),
		items:   items,
		keys:    keys,
	}
}

func (s *testServer) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seedConflict(t *testing.T) *models.TrackedItem {
	t.Helper()
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	it := &models.TrackedItem{
		ID:             "conflicted",
		CategoryID:     "web",
		ExternalSystem: models.SystemGitHub,
		ExternalID:     "1",
		Title:          "Local title",
		SyncEnabled:    true,
		LocalUpdatedAt: t0,
		SyncStatus:     models.SyncStatusError,
		SyncConflict:   true,
		SyncErrorKind:  models.ErrorKindConflict,
		SyncError:      "conflict",
		CreatedAt:      t0,
	}
	require.NoError(t, s.items.Create(context.Background(), it))
	return it
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	s.seedConflict(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[models.HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.OpenConflicts)
	assert.Equal(t, 1, resp.ItemCounts["conflict"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/items", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/items", "wrong", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/items", testAPIKey, nil).Code)

	raw, _, err := s.keys.Create(context.Background(), "viewer", []models.Permission{models.PermissionItemsRead})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/items", raw, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/sync/runs", raw, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/sync/run", raw, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/items/x/resolve", raw,
		models.ResolveRequest{Resolution: models.ResolutionKeepLocal}).Code)
}

func TestItemsCRUD(t *testing.T) {
	s := newTestServer(t)

	create := models.CreateItemRequest{
		CategoryID:     "web",
		ExternalSystem: models.SystemGitHub,
		ExternalID:     "12",
		Title:          "Dark mode",
		Description:    "Add a theme",
	}
	rec := s.do(t, http.MethodPost, "/items", testAPIKey, create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.TrackedItem](t, rec)
	assert.True(t, created.SyncEnabled)
	assert.Nil(t, created.LastSyncAt)

	rec = s.do(t, http.MethodPost, "/items", testAPIKey, create)
	assert.Equal(t, http.StatusConflict, rec.Code)

	bad := create
	bad.ExternalSystem = "jira"
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/items", testAPIKey, bad).Code)

	rec = s.do(t, http.MethodGet, "/items/"+created.ID, testAPIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Dark mode", decode[models.TrackedItem](t, rec).Title)

	title := "Dark mode v2"
	rec = s.do(t, http.MethodPatch, "/items/"+created.ID, testAPIKey, models.UpdateItemRequest{Title: &title})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[models.TrackedItem](t, rec)
	assert.Equal(t, "Dark mode v2", updated.Title)
	assert.False(t, updated.LocalUpdatedAt.Before(created.LocalUpdatedAt))

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/items/missing", testAPIKey, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPatch, "/items/missing", testAPIKey,
		models.UpdateItemRequest{Title: &title}).Code)

	rec = s.do(t, http.MethodGet, "/items", testAPIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[models.ListItemsResponse](t, rec).Total)
}

func TestResolveEndpoint(t *testing.T) {
	s := newTestServer(t)
	it := s.seedConflict(t)
	path := "/items/" + it.ID + "/resolve"

	rec := s.do(t, http.MethodPost, path, testAPIKey, models.ResolveRequest{Resolution: models.ResolutionMerge})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = s.do(t, http.MethodPost, path, testAPIKey, models.ResolveRequest{Resolution: "both"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/items/missing/resolve", testAPIKey, models.ResolveRequest{Resolution: models.ResolutionKeepExternal})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, path, testAPIKey, models.ResolveRequest{Resolution: models.ResolutionKeepExternal})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode[models.TrackedItem](t, rec)
	assert.False(t, resolved.SyncConflict)
	assert.Equal(t, "Remote title", resolved.Title)
	assert.Equal(t, "Remote body", resolved.Description)

	rec = s.do(t, http.MethodPost, path, testAPIKey, models.ResolveRequest{Resolution: models.ResolutionKeepExternal})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSyncRun(t *testing.T) {
	s := newTestServer(t)
	s.seedConflict(t)

	rec := s.do(t, http.MethodPost, "/sync/run", testAPIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[models.RunReport](t, rec)
	assert.Equal(t, models.RunStatusCompleted, report.Status)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Conflicts)

	rec = s.do(t, http.MethodGet, "/sync/runs", testAPIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]models.RunReport](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, report.ID, runs[0].ID)

	rec = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, report.ID, decode[models.HealthResponse](t, rec).LastRun.ID)
}
