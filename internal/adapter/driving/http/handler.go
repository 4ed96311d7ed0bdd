package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/PDI-Technologies/ns-sub003/internal/application"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/port/driven"
	"github.com/PDI-Technologies/ns-sub003/internal/metrics"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// Syncer is the part of the sync service the API drives.
type Syncer interface {
	Trigger(ctx context.Context, entity model.EntityType, full bool) (*model.SyncResult, error)
	Status(ctx context.Context) ([]model.EntityStatus, error)
}

// Pinger reports whether the local store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	syncer  Syncer
	records driven.RecordStore
	runs    driven.SyncRunStore
	db      Pinger
	logger  *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	syncer Syncer,
	records driven.RecordStore,
	runs driven.SyncRunStore,
	db Pinger,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		syncer:  syncer,
		records: records,
		runs:    runs,
		db:      db,
		logger:  logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. m may be nil.
func NewServeMux(h *Handler, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/sync/status", h.SyncStatus)
	mux.HandleFunc("GET /api/v1/sync/runs", h.ListRuns)
	mux.HandleFunc("POST /api/v1/sync/{entity}", h.TriggerSync)
	mux.HandleFunc("GET /api/v1/records/{entity}/{id}", h.GetRecord)
	mux.Handle("GET /metrics", m.Handler())

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, m, wrapped)

	return wrapped
}

// Health pings the local store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Time: now})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: now})
}

// SyncStatus returns the state, record count and watermark of every entity type.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.syncer.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to read sync status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]EntityStatusResponse, 0, len(statuses))
	for _, s := range statuses {
		resp = append(resp, toEntityStatusResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns returns recent sync runs, newest first. Optional query parameters:
// entity and limit.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	var entity model.EntityType
	if raw := r.URL.Query().Get("entity"); raw != "" {
		parsed, err := model.ParseEntityType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown entity type")
			return
		}
		entity = parsed
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.runs.List(r.Context(), entity, limit)
	if err != nil {
		h.logger.Error("failed to list sync runs", "entity", entity, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]SyncRunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toSyncRunResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

// TriggerSync runs a pass for one entity type and returns its result.
// ?full=true ignores the watermark.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	entity, err := model.ParseEntityType(r.PathValue("entity"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown entity type")
		return
	}

	full := false
	if raw := r.URL.Query().Get("full"); raw != "" {
		full, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "full must be a boolean")
			return
		}
	}

	res, err := h.syncer.Trigger(r.Context(), entity, full)
	switch {
	case errors.Is(err, application.ErrSyncInProgress):
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	case err != nil && res == nil:
		h.logger.Error("sync trigger failed", "entity", entity, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	case err != nil:
		writeJSON(w, syncFailureStatus(err), toSyncResultResponse(*res))
		return
	}

	writeJSON(w, http.StatusOK, toSyncResultResponse(*res))
}

// GetRecord returns one stored record with its known fields, custom field
// snapshots and last raw payload.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	entity, err := model.ParseEntityType(r.PathValue("entity"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown entity type")
		return
	}
	id := r.PathValue("id")

	rec, err := h.records.Get(r.Context(), entity, id)
	if err != nil {
		h.logger.Error("failed to get record", "entity", entity, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}

	writeJSON(w, http.StatusOK, toRecordResponse(*rec))
}

// syncFailureStatus maps a failed pass to a response code: remote failures
// are a bad gateway, cancellation is unavailable, the rest are internal.
func syncFailureStatus(err error) int {
	var remote *model.RemoteError
	switch {
	case errors.As(err, &remote):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
