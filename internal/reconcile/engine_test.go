package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/store"
	"github.com/iammorganparry/hive-sync/internal/tracker"
)

// fakeTracker serves GitHub issues and Azure DevOps work items from memory.
type fakeTracker struct {
	mu      sync.Mutex
	items   map[string]*fakeRemote
	patches int
	delay   time.Duration
}

type fakeRemote struct {
	Title       string
	Description string
	UpdatedAt   time.Time
	Status      int
}

func newFakeTracker(t *testing.T) (*fakeTracker, *httptest.Server) {
	f := &fakeTracker{items: make(map[string]*fakeRemote)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeTracker) set(id, title, desc string, updated time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id] = &fakeRemote{Title: title, Description: desc, UpdatedAt: updated}
}

func (f *fakeTracker) failWith(id string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id] = &fakeRemote{Status: status}
}

func (f *fakeTracker) slowDown(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeTracker) get(id string) fakeRemote {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *fakeTracker) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	azure := strings.Contains(r.URL.Path, "/_apis/wit/workitems/")
	id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	it, ok := f.items[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if it.Status != 0 {
		w.WriteHeader(it.Status)
		return
	}

	if r.Method == http.MethodPatch {
		f.patches++
		it.UpdatedAt = it.UpdatedAt.Add(time.Minute)
		if azure {
			var ops []struct {
				Path  string `json:"path"`
				Value string `json:"value"`
			}
			json.NewDecoder(r.Body).Decode(&ops)
			for _, op := range ops {
				switch op.Path {
				case "/fields/System.Title":
					it.Title = op.Value
				case "/fields/System.Description":
					it.Description = op.Value
				}
			}
		} else {
			var body struct {
				Title string `json:"title"`
				Body  string `json:"body"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			it.Title, it.Description = body.Title, body.Body
		}
	}

	updated := it.UpdatedAt.Format(time.RFC3339Nano)
	if azure {
		fmt.Fprintf(w, `{"id": %s, "fields": {"System.Title": %q, "System.Description": %q, "System.ChangedDate": %q, "System.State": "Active"}}`,
			id, it.Title, it.Description, updated)
		return
	}
	fmt.Fprintf(w, `{"number": %s, "title": %q, "body": %q, "state": "open", "updated_at": %q}`,
		id, it.Title, it.Description, updated)
}

// countingStore counts sync writes.
type countingStore struct {
	*store.ItemStore
	mu     sync.Mutex
	writes int
}

func (s *countingStore) count() {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
}

func (s *countingStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *countingStore) ApplyPull(ctx context.Context, id string, u models.PullUpdate) error {
	s.count()
	return s.ItemStore.ApplyPull(ctx, id, u)
}

func (s *countingStore) MarkConflict(ctx context.Context, id string, u models.ConflictUpdate) error {
	s.count()
	return s.ItemStore.MarkConflict(ctx, id, u)
}

func (s *countingStore) RecordFailure(ctx context.Context, id string, u models.FailureUpdate) error {
	s.count()
	return s.ItemStore.RecordFailure(ctx, id, u)
}

func (s *countingStore) MarkStable(ctx context.Context, id string, u models.StableUpdate) error {
	s.count()
	return s.ItemStore.MarkStable(ctx, id, u)
}

func (s *countingStore) ResolveKeepLocal(ctx context.Context, id string, u models.ResolveUpdate) error {
	s.count()
	return s.ItemStore.ResolveKeepLocal(ctx, id, u)
}

type fakeCreds map[string]tracker.Credentials

func (f fakeCreds) Lookup(ctx context.Context, item *models.TrackedItem) (tracker.Credentials, error) {
	c, ok := f[item.CategoryID]
	if !ok {
		return tracker.Credentials{}, fmt.Errorf("%w: category %s has no integration", ErrConfigIncomplete, item.CategoryID)
	}
	return c, nil
}

type harness struct {
	registry *tracker.Registry
	creds    fakeCreds
	items    *countingStore
	runs     *store.RunStore
	remote   *fakeTracker
	engine   *Engine
	resolver *Resolver
	now      time.Time
	created  time.Time
}

var (
	t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "hive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	remote, srv := newFakeTracker(t)
	registry := tracker.NewRegistry(
		tracker.NewGitHubClient(srv.URL),
		tracker.NewAzureDevOpsClient(srv.URL),
	)
	creds := fakeCreds{
		"web":    {Token: "ghp", Owner: "acme", Repo: "web"},
		"boards": {Token: "pat", Organization: "acme", Project: "boards"},
	}

	h := &harness{
		registry: registry,
		creds:    creds,
		items:    &countingStore{ItemStore: store.NewItemStore(db)},
		runs:     store.NewRunStore(db),
		remote:   remote,
		now:      t2.Add(time.Hour),
		created:  t0,
	}
	opts := h.options()
	opts.CallTimeout = 5 * time.Second
	h.engine = NewEngine(h.items, h.runs, creds, registry, opts, discardLogger())
	h.resolver = NewResolver(h.items, creds, registry, opts, discardLogger())
	return h
}

func (h *harness) options() Options {
	return Options{
		Backoff: Backoff{Base: time.Minute, Max: time.Hour},
		Now:     func() time.Time { return h.now },
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seed stores an item last synced at t0 with unchanged local content.
func (h *harness) seed(t *testing.T, id, externalID, title, desc string, opts ...func(*models.TrackedItem)) *models.TrackedItem {
	t.Helper()
	h.created = h.created.Add(time.Second)
	it := &models.TrackedItem{
		ID:                id,
		CategoryID:        "web",
		ExternalSystem:    models.SystemGitHub,
		ExternalID:        externalID,
		Title:             title,
		Description:       desc,
		SyncEnabled:       true,
		LocalUpdatedAt:    t0,
		ExternalUpdatedAt: ptr(t0),
		LastSyncAt:        ptr(t0),
		ExternalState:     "open",
		SyncedTitle:       title,
		SyncedDescription: desc,
		CreatedAt:         h.created,
	}
	for _, opt := range opts {
		opt(it)
	}
	require.NoError(t, h.items.Create(context.Background(), it))
	return it
}

func (h *harness) editLocally(t *testing.T, id, title string, at time.Time) {
	t.Helper()
	_, err := h.items.UpdateLocal(context.Background(), id, &models.UpdateItemRequest{Title: &title}, at)
	require.NoError(t, err)
}

func (h *harness) load(t *testing.T, id string) *models.TrackedItem {
	t.Helper()
	it, err := h.items.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, it)
	return it
}

func (h *harness) run(t *testing.T) *models.RunReport {
	t.Helper()
	report, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	return report
}

func TestRunPullsExternalOnlyChange(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "a", "1", "Dark mode", "Add a theme")
	h.remote.set("1", "Dark mode v2", "Add a **dark** theme", t1)

	report := h.run(t)
	assert.Equal(t, 1, report.Pulled)
	assert.Equal(t, 0, report.Conflicts)
	assert.Equal(t, models.RunStatusCompleted, report.Status)

	it := h.load(t, "a")
	assert.Equal(t, "Dark mode v2", it.Title)
	assert.Equal(t, "Add a **dark** theme", it.Description)
	assert.Equal(t, models.SyncStatusSynced, it.SyncStatus)
	assert.False(t, it.SyncConflict)
	assert.True(t, it.LastSyncAt.Equal(h.now))
	assert.True(t, it.ExternalUpdatedAt.Equal(t1))
}

func TestRunFlagsConflictWithoutOverwriting(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "a", "1", "Dark mode", "Add a theme")
	h.editLocally(t, "a", "Dark mode (local)", t2)
	h.remote.set("1", "Dark mode (external)", "Add a theme", t1)

	report := h.run(t)
	assert.Equal(t, 1, report.Conflicts)
	require.Len(t, report.Items, 1)
	assert.Equal(t, models.ErrorKindConflict, report.Items[0].Kind)

	it := h.load(t, "a")
	assert.True(t, it.SyncConflict)
	assert.Equal(t, models.SyncStatusError, it.SyncStatus)
	assert.Equal(t, models.ErrorKindConflict, it.SyncErrorKind)
	assert.Equal(t, "Dark mode (local)", it.Title)
	assert.Equal(t, "Add a theme", it.Description)
	assert.True(t, it.ExternalUpdatedAt.Equal(t1))
	assert.True(t, it.LastSyncAt.Equal(t0))
	assert.Contains(t, it.SyncError, "Dark mode (local)")
	assert.Contains(t, it.SyncError, "Dark mode (external)")
}

func TestRunSkipsDeletedExternalItem(t *testing.T) {
	h := newHarness(t)
	before := h.seed(t, "gone", "404", "Old", "text")
	h.seed(t, "b", "2", "Next", "text")
	h.remote.set("2", "Next v2", "text", t1)

	report := h.run(t)
	assert.Equal(t, 1, report.NotFound)
	assert.Equal(t, 1, report.Pulled)

	after := h.load(t, "gone")
	assert.Equal(t, before.Title, after.Title)
	assert.Equal(t, before.Description, after.Description)
	assert.Equal(t, before.SyncStatus, after.SyncStatus)
	assert.Empty(t, after.SyncError)
	assert.True(t, after.ExternalUpdatedAt.Equal(t0))
	assert.True(t, after.LastSyncAt.Equal(t0))
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "pull", "1", "A", "a")
	h.seed(t, "conflict", "2", "B", "b")
	h.seed(t, "stable", "3", "C", "c")
	h.editLocally(t, "conflict", "B local", t2)
	h.remote.set("1", "A remote", "a", t1)
	h.remote.set("2", "B remote", "b", t1)
	h.remote.set("3", "C", "c", t0)

	h.run(t)
	first := h.items.Writes()
	assert.Equal(t, 2, first)

	h.now = h.now.Add(time.Hour)
	report := h.run(t)
	assert.Equal(t, first, h.items.Writes(), "second run must not write")
	assert.Equal(t, 3, report.Stable)
}

func TestRunNoiseDoesNotConflict(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "a", "1", "Dark mode", "Add a theme")
	h.editLocally(t, "a", "Dark mode (local)", t2)
	// Timestamp moved, content did not.
	h.remote.set("1", "Dark mode", "Add a theme", t1)

	report := h.run(t)
	assert.Equal(t, 1, report.Stable)

	it := h.load(t, "a")
	assert.False(t, it.SyncConflict)
	assert.Equal(t, "Dark mode (local)", it.Title)
	assert.True(t, it.ExternalUpdatedAt.Equal(t1))

	writes := h.items.Writes()
	h.run(t)
	assert.Equal(t, writes, h.items.Writes())
}

func TestRunIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "nocreds", "7", "A", "a", func(it *models.TrackedItem) {
		it.CategoryID = "unknown"
	})
	h.seed(t, "broken", "5", "B", "b")
	h.seed(t, "ok", "6", "C", "c")
	h.remote.set("7", "A remote", "a", t1)
	h.remote.failWith("5", http.StatusInternalServerError)
	h.remote.set("6", "C remote", "c", t1)

	report := h.run(t)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Errors)
	assert.Equal(t, 1, report.Pulled)

	cfg := h.load(t, "nocreds")
	assert.Equal(t, models.SyncStatusError, cfg.SyncStatus)
	assert.Equal(t, models.ErrorKindConfigIncomplete, cfg.SyncErrorKind)
	assert.Equal(t, "A", cfg.Title)

	broken := h.load(t, "broken")
	assert.Equal(t, models.SyncStatusError, broken.SyncStatus)
	assert.Equal(t, models.ErrorKindTransient, broken.SyncErrorKind)
	assert.Equal(t, "B", broken.Title)
	assert.Equal(t, 1, broken.ErrorCount)

	assert.Equal(t, "C remote", h.load(t, "ok").Title)
}

func TestRunBacksOffFailingItems(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "a", "1", "A", "a")
	h.remote.failWith("1", http.StatusBadGateway)

	report := h.run(t)
	assert.Equal(t, 1, report.Errors)
	it := h.load(t, "a")
	require.NotNil(t, it.NextAttemptAt)
	assert.True(t, it.NextAttemptAt.Equal(h.now.Add(time.Minute)))

	report = h.run(t)
	assert.Equal(t, 1, report.Skipped)

	h.now = h.now.Add(2 * time.Minute)
	report = h.run(t)
	assert.Equal(t, 1, report.Errors)
	it = h.load(t, "a")
	assert.Equal(t, 2, it.ErrorCount)
	assert.True(t, it.NextAttemptAt.Equal(h.now.Add(2*time.Minute)))

	h.now = h.now.Add(time.Hour)
	h.remote.set("1", "A", "a", t0)
	report = h.run(t)
	assert.Equal(t, 1, report.Stable)
	it = h.load(t, "a")
	assert.Equal(t, 0, it.ErrorCount)
	assert.Nil(t, it.NextAttemptAt)
	assert.Equal(t, models.SyncStatusSynced, it.SyncStatus)
	assert.Empty(t, it.SyncError)
}

func TestRunRecordsCallTimeoutOnItem(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "slow", "1", "A", "a")
	h.remote.set("1", "A remote", "a", t1)
	h.remote.slowDown(300 * time.Millisecond)

	opts := h.options()
	opts.CallTimeout = 50 * time.Millisecond
	e := NewEngine(h.items, h.runs, h.creds, h.registry, opts, discardLogger())

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	require.Len(t, report.Items, 1)
	assert.Equal(t, models.ErrorKindTransient, report.Items[0].Kind)

	it := h.load(t, "slow")
	assert.Equal(t, models.SyncStatusError, it.SyncStatus)
	assert.Equal(t, models.ErrorKindTransient, it.SyncErrorKind)
	assert.NotEmpty(t, it.SyncError)
	assert.Equal(t, 1, it.ErrorCount)
	require.NotNil(t, it.NextAttemptAt)
	assert.True(t, it.NextAttemptAt.Equal(h.now.Add(time.Minute)))
	assert.Equal(t, "A", it.Title)
}

func TestRunKeepsConflictWhenSidesConverge(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "a", "1", "Dark mode", "Add a theme")
	h.editLocally(t, "a", "Dark mode (local)", t2)
	h.remote.set("1", "Dark mode (external)", "Add a theme", t1)
	h.run(t)
	require.True(t, h.load(t, "a").SyncConflict)

	// The remote side is edited to match local; only Resolve may close it.
	h.remote.set("1", "Dark mode (local)", "Add a theme", t2)
	report := h.run(t)
	assert.Equal(t, 0, report.Pulled)
	assert.Equal(t, 1, report.Stable)

	it := h.load(t, "a")
	assert.True(t, it.SyncConflict)
	assert.Equal(t, models.SyncStatusError, it.SyncStatus)
	assert.Equal(t, models.ErrorKindConflict, it.SyncErrorKind)
	assert.True(t, it.LastSyncAt.Equal(t0))
	assert.True(t, it.ExternalUpdatedAt.Equal(t2))

	resolved, err := h.resolver.Resolve(context.Background(), "a", models.ResolutionKeepLocal)
	require.NoError(t, err)
	assert.False(t, resolved.SyncConflict)
	assert.Equal(t, "Dark mode (local)", resolved.Title)
}

func TestRunConvertsAzureDescriptions(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "az", "100", "Login", "old", func(it *models.TrackedItem) {
		it.CategoryID = "boards"
		it.ExternalSystem = models.SystemAzureDevOps
		it.ExternalState = "Active"
	})
	h.remote.set("100", "Login", "<p>Fix <b>login</b></p>", t1)

	report := h.run(t)
	assert.Equal(t, 1, report.Pulled)
	assert.Equal(t, "Fix **login**", h.load(t, "az").Description)

	writes := h.items.Writes()
	h.run(t)
	assert.Equal(t, writes, h.items.Writes())
}

func TestRunHonoursCancellation(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "a", "1", "A", "a")
	h.remote.set("1", "A remote", "a", t1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, report.Status)
	assert.Empty(t, report.Items)
	assert.Equal(t, "A", h.load(t, "a").Title)

	latest, err := h.runs.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.RunStatusCancelled, latest.Status)
}

type failingList struct {
	ItemStore
}

func (failingList) ListSyncEnabled(ctx context.Context) ([]*models.TrackedItem, error) {
	return nil, errors.New("database is locked")
}

func TestRunFailsWhenItemsCannotLoad(t *testing.T) {
	h := newHarness(t)
	e := NewEngine(failingList{h.items}, h.runs, fakeCreds{}, tracker.NewRegistry(), Options{}, discardLogger())

	report, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, report.Status)
	assert.Contains(t, report.Error, "database is locked")

	runs, err := h.runs.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
}

func TestResolve(t *testing.T) {
	conflicted := func(t *testing.T) *harness {
		h := newHarness(t)
		h.seed(t, "a", "1", "Dark mode", "Add a theme")
		h.editLocally(t, "a", "Dark mode (local)", t2)
		h.remote.set("1", "Dark mode (external)", "External text", t1)
		h.run(t)
		require.True(t, h.load(t, "a").SyncConflict)
		return h
	}

	t.Run("keep-external", func(t *testing.T) {
		h := conflicted(t)
		it, err := h.resolver.Resolve(context.Background(), "a", models.ResolutionKeepExternal)
		require.NoError(t, err)

		assert.False(t, it.SyncConflict)
		assert.Equal(t, models.SyncStatusSynced, it.SyncStatus)
		assert.Equal(t, "Dark mode (external)", it.Title)
		assert.Equal(t, "External text", it.Description)
		assert.Empty(t, it.SyncError)
	})

	t.Run("keep-local", func(t *testing.T) {
		h := conflicted(t)
		it, err := h.resolver.Resolve(context.Background(), "a", models.ResolutionKeepLocal)
		require.NoError(t, err)

		assert.False(t, it.SyncConflict)
		assert.Equal(t, models.SyncStatusSynced, it.SyncStatus)
		assert.Equal(t, "Dark mode (local)", it.Title)
		assert.True(t, it.LastSyncAt.Equal(h.now))

		remote := h.remote.get("1")
		assert.Equal(t, "Dark mode (local)", remote.Title)
		assert.Equal(t, "Add a theme", remote.Description)
		assert.True(t, it.ExternalUpdatedAt.Equal(remote.UpdatedAt))

		writes := h.items.Writes()
		h.now = h.now.Add(time.Hour)
		report := h.run(t)
		assert.Equal(t, 1, report.Stable)
		assert.Equal(t, writes, h.items.Writes())
	})

	t.Run("merge is not implemented", func(t *testing.T) {
		h := conflicted(t)
		_, err := h.resolver.Resolve(context.Background(), "a", models.ResolutionMerge)
		assert.ErrorIs(t, err, ErrMergeNotImplemented)
		assert.True(t, h.load(t, "a").SyncConflict)
	})

	t.Run("not in conflict", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, "a", "1", "A", "a")
		_, err := h.resolver.Resolve(context.Background(), "a", models.ResolutionKeepExternal)
		assert.ErrorIs(t, err, ErrNotInConflict)
	})

	t.Run("unknown item", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.resolver.Resolve(context.Background(), "missing", models.ResolutionKeepLocal)
		assert.ErrorIs(t, err, ErrItemNotFound)
	})

	t.Run("invalid resolution", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.resolver.Resolve(context.Background(), "a", models.Resolution("both"))
		assert.ErrorIs(t, err, ErrInvalidResolution)
	})

	t.Run("keep-external on deleted item", func(t *testing.T) {
		h := conflicted(t)
		h.remote.mu.Lock()
		delete(h.remote.items, "1")
		h.remote.mu.Unlock()

		_, err := h.resolver.Resolve(context.Background(), "a", models.ResolutionKeepExternal)
		assert.ErrorIs(t, err, ErrExternalNotFound)
		assert.Equal(t, models.ErrorKindNotFound, KindOf(err))
		assert.True(t, h.load(t, "a").SyncConflict)
	})

	t.Run("push failure leaves item untouched", func(t *testing.T) {
		h := conflicted(t)
		h.remote.failWith("1", http.StatusServiceUnavailable)

		_, err := h.resolver.Resolve(context.Background(), "a", models.ResolutionKeepLocal)
		require.Error(t, err)
		assert.Equal(t, models.ErrorKindTransient, KindOf(err))

		it := h.load(t, "a")
		assert.True(t, it.SyncConflict)
		assert.Equal(t, "Dark mode (local)", it.Title)
	})
}
