package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"gemindex/internal/config"
	"gemindex/internal/models"
	"gemindex/internal/storage"
	"gemindex/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	starts int
}

func (f *fakeScheduler) Start(context.Context) bool {
	f.starts++
	return f.starts == 1
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Port: 0},
		Auth: config.APIAuthConfig{
			HeaderAPIKey: "x-api-key",
			CronSecret:   "cron-secret-1",
			APIKeys: []config.APIClientKey{
				{Key: "admin-key", Name: "admin", Permissions: []string{"admin"}},
				{Key: "writer-key", Name: "writer", Permissions: []string{"write:sync"}},
				{Key: "reader-key", Name: "dashboard", Permissions: []string{"read:sync"}},
			},
		},
	}
}

func newTestServer(t *testing.T) (*HTTPServer, *fakeScheduler, *storage.Store) {
	t.Helper()
	logger := zerolog.New(io.Discard)

	store := storage.NewStore(storage.Options{
		Fallback: storage.NewFileBackend(filepath.Join(t.TempDir(), "state.json")),
		Logger:   &logger,
	})
	t.Cleanup(store.Close)

	// Keep the built-in jobs quiet during tick tests.
	err := store.Mutate(context.Background(), func(doc *models.Document) error {
		for i := range doc.SyncJobs {
			doc.SyncJobs[i].Enabled = false
		}
		return nil
	})
	require.NoError(t, err)

	runner := worker.NewRunner()
	runner.Register(models.JobTypeCatalogSync, func(ctx context.Context, opts *models.SyncOptions) (map[string]int, error) {
		return map[string]int{"setsUpserted": 1}, nil
	})

	orch := worker.NewOrchestrator(store, runner, &logger)
	tasks := worker.NewTasks(store, nil, &logger)
	scheduler := &fakeScheduler{}

	srv := NewHTTPServer(testAPIConfig(), store, tasks, orch, scheduler, &logger)
	return srv, scheduler, store
}

func doRequest(t *testing.T, srv *HTTPServer, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "file", body["storageMode"])
	assert.Contains(t, body, "uptime")
}

func TestMissingAndInvalidAPIKey(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/sync/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/sync/status", "not-a-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPermissionEnforcement(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// A write-only key cannot read status.
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/sync/status", "writer-key", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A read-only key cannot enqueue tasks.
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/sync/tasks", "reader-key",
		map[string]any{"type": models.JobTypeCatalogSync})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Admin passes everywhere.
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/sync/status", "admin-key", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTask(t *testing.T) {
	srv, _, store := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sync/tasks", "writer-key",
		map[string]any{"type": models.JobTypeSalesSync, "options": map[string]int{"pageLimit": 3}})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body struct {
		Task models.SyncTaskRecord `json:"task"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.TaskStatusPending, body.Task.Status)
	assert.Equal(t, "writer", body.Task.RequestedBy)

	doc, err := store.Read(context.Background(), true)
	require.NoError(t, err)
	assert.NotNil(t, doc.FindTask(body.Task.ID))
}

func TestCreateTaskRejectsUnknownType(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sync/tasks", "writer-key",
		map[string]any{"type": "GEM_POLISH"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/sync/tasks", "writer-key", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTickViaCronSecret(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/tick", nil)
	req.Header.Set("X-Cron-Secret", "cron-secret-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result worker.TickResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Skipped)
	assert.Equal(t, "cron", result.Source)
}

func TestTickViaQueryToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sync/tick?token=cron-secret-1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/sync/tick?token=wrong", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTickWithAdminKey(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sync/tick", "admin-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result worker.TickResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "manual", result.Source)

	// Non-admin keys cannot force ticks.
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/sync/tick", "reader-key", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusShapeAndSchedulerArming(t *testing.T) {
	srv, scheduler, store := newTestServer(t)

	err := store.Mutate(context.Background(), func(doc *models.Document) error {
		doc.SyncTasks = append(doc.SyncTasks,
			models.SyncTaskRecord{ID: "task_1", Status: models.TaskStatusPending},
			models.SyncTaskRecord{ID: "task_2", Status: models.TaskStatusRunning},
			models.SyncTaskRecord{ID: "task_3", Status: models.TaskStatusCompleted},
		)
		return nil
	})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/sync/status", "reader-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs         []models.SyncJobRecord  `json:"jobs"`
		Tasks        []models.SyncTaskRecord `json:"tasks"`
		PendingCount int                     `json:"pendingCount"`
		RunningCount int                     `json:"runningCount"`
		StorageMode  string                  `json:"storageMode"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Jobs, 3)
	assert.Len(t, body.Tasks, 3)
	assert.Equal(t, 1, body.PendingCount)
	assert.Equal(t, 1, body.RunningCount)
	assert.Equal(t, "file", body.StorageMode)

	assert.Positive(t, scheduler.starts, "reading status must arm the scheduler")
}

func TestSchedulerEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sync/scheduler", "admin-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["started"])

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/sync/scheduler", "admin-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body["started"])
}

func TestExportDownloadsWorkbook(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/sync/export", "reader-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotZero(t, rec.Body.Len())
}
