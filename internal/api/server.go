// Package api exposes the sync control surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"gemindex/internal/config"
	"gemindex/internal/export"
	"gemindex/internal/metrics"
	"gemindex/internal/models"
	"gemindex/internal/storage"
	"gemindex/internal/worker"

	"github.com/rs/zerolog"
)

const statusTaskLimit = 100

// Scheduler is the in-process timer armed on first API use.
type Scheduler interface {
	Start(ctx context.Context) bool
}

type HTTPServer struct {
	cfg       config.APIConfig
	store     *storage.Store
	tasks     *worker.Tasks
	orch      *worker.Orchestrator
	scheduler Scheduler
	server    *http.Server
	auth      *HTTPAuth
	logger    zerolog.Logger
	startedAt time.Time
}

func NewHTTPServer(cfg config.APIConfig, store *storage.Store, tasks *worker.Tasks, orch *worker.Orchestrator, scheduler Scheduler, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:       cfg,
		store:     store,
		tasks:     tasks,
		orch:      orch,
		scheduler: scheduler,
		logger:    l,
		startedAt: time.Now(),
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/sync/tasks", srv.handleCreateTask)
	mux.HandleFunc("/api/v1/sync/tick", srv.handleTick)
	mux.HandleFunc("/api/v1/sync/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/sync/scheduler", srv.handleScheduler)
	mux.HandleFunc("/api/v1/sync/export", srv.handleExport)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the wrapped mux for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type request struct {
		Type    string              `json:"type"`
		Options *models.SyncOptions `json:"options"`
	}

	var body request
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch body.Type {
	case models.JobTypeCatalogSync, models.JobTypeSalesSync, models.JobTypeTCGPlayerDirectSync:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown sync type: %s", body.Type))
		return
	}

	requestedBy := s.auth.ClientName(r)
	task, err := s.tasks.Enqueue(r.Context(), body.Type, requestedBy, body.Options)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue task")
		return
	}

	s.armScheduler()
	writeJSON(w, http.StatusAccepted, map[string]any{"task": task})
}

func (s *HTTPServer) handleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	source := "manual"
	if s.auth.cronAuthorized(r) {
		source = "cron"
	}

	result, err := s.orch.Tick(r.Context(), source, worker.DefaultMaxTasks)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tick failed")
		return
	}

	s.armScheduler()
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	doc, err := s.store.Read(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read state")
		return
	}

	tasks := make([]models.SyncTaskRecord, len(doc.SyncTasks))
	copy(tasks, doc.SyncTasks)
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	if len(tasks) > statusTaskLimit {
		tasks = tasks[:statusTaskLimit]
	}

	var pending, running int
	for _, task := range doc.SyncTasks {
		switch task.Status {
		case models.TaskStatusPending:
			pending++
		case models.TaskStatusRunning:
			running++
		}
	}

	s.armScheduler()
	writeJSON(w, http.StatusOK, map[string]any{
		"sync":         doc.Sync,
		"jobs":         doc.SyncJobs,
		"tasks":        tasks,
		"pendingCount": pending,
		"runningCount": running,
		"storageMode":  s.store.Mode(),
	})
}

func (s *HTTPServer) handleScheduler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	started := false
	if s.scheduler != nil {
		started = s.scheduler.Start(context.WithoutCancel(r.Context()))
	}
	writeJSON(w, http.StatusOK, map[string]any{"started": started})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	doc, err := s.store.Read(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read state")
		return
	}

	book, err := export.Workbook(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}
	defer book.Close()

	filename := fmt.Sprintf("gemindex-sync-%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := book.Write(w); err != nil {
		s.logger.Warn().Err(err).Msg("export write aborted")
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"storageMode": s.store.Mode(),
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// armScheduler lazily starts the in-process timer. Any successful API
// interaction is enough to arm it; repeated calls are no-ops.
func (s *HTTPServer) armScheduler() {
	if s.scheduler != nil {
		s.scheduler.Start(context.Background())
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(r.URL.Path)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
