package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// WatermarkResponse is the JSON representation of a sync watermark.
type WatermarkResponse struct {
	LastSuccessfulSyncAt string `json:"last_successful_sync_at"`
	LastSyncStatus       string `json:"last_sync_status"`
	RecordsSynced        int    `json:"records_synced"`
	IsFullSync           bool   `json:"is_full_sync"`
}

// EntityStatusResponse is the JSON representation of one entity type's status.
type EntityStatusResponse struct {
	EntityType string             `json:"entity_type"`
	State      string             `json:"state"`
	Records    int                `json:"records"`
	Watermark  *WatermarkResponse `json:"watermark"`
}

// SyncRunResponse is the JSON representation of a sync run history entry.
type SyncRunResponse struct {
	ID         string `json:"id"`
	EntityType string `json:"entity_type"`
	Mode       string `json:"mode"`
	Status     string `json:"status"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// RecordFailureResponse is one identifier that failed to fetch.
type RecordFailureResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// SyncResultResponse is the JSON representation of a completed or failed pass.
type SyncResultResponse struct {
	RunID      string                  `json:"run_id"`
	EntityType string                  `json:"entity_type"`
	Mode       string                  `json:"mode"`
	Status     string                  `json:"status"`
	Processed  int                     `json:"processed"`
	Batches    int                     `json:"batches"`
	Skipped    int                     `json:"skipped"`
	Deleted    int                     `json:"deleted"`
	Failures   []RecordFailureResponse `json:"failures"`
	Error      string                  `json:"error,omitempty"`
	StartedAt  string                  `json:"started_at"`
	FinishedAt string                  `json:"finished_at"`
	DurationMS int64                   `json:"duration_ms"`
}

// CustomFieldResponse is the JSON representation of one custom field snapshot.
type CustomFieldResponse struct {
	Value      any    `json:"value"`
	FirstSeen  string `json:"first_seen"`
	LastSeen   string `json:"last_seen"`
	Deprecated bool   `json:"deprecated"`
}

// RecordResponse is the JSON representation of a stored record. CustomValues
// holds the current value of every custom field that is not deprecated.
type RecordResponse struct {
	ID            string                         `json:"id"`
	EntityType    string                         `json:"entity_type"`
	KnownFields   map[string]any                 `json:"known_fields"`
	CustomFields  map[string]CustomFieldResponse `json:"custom_fields"`
	CustomValues  map[string]any                 `json:"custom_values"`
	RawPayload    json.RawMessage                `json:"raw_payload"`
	FirstSyncedAt string                         `json:"first_synced_at"`
	LastSyncedAt  string                         `json:"last_synced_at"`
	IsDeleted     bool                           `json:"is_deleted"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toEntityStatusResponse(s model.EntityStatus) EntityStatusResponse {
	resp := EntityStatusResponse{
		EntityType: string(s.EntityType),
		State:      string(s.State),
		Records:    s.Records,
	}
	if s.Watermark != nil {
		resp.Watermark = &WatermarkResponse{
			LastSuccessfulSyncAt: formatTime(s.Watermark.LastSuccessfulSyncAt),
			LastSyncStatus:       string(s.Watermark.LastSyncStatus),
			RecordsSynced:        s.Watermark.RecordsSynced,
			IsFullSync:           s.Watermark.IsFullSync,
		}
	}
	return resp
}

func toSyncRunResponse(r model.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:         r.ID,
		EntityType: string(r.EntityType),
		Mode:       string(r.Mode),
		Status:     string(r.Status),
		Processed:  r.Processed,
		Failed:     r.Failed,
		Error:      r.Error,
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTime(r.FinishedAt),
	}
}

// toSyncResultResponse always emits failures as an array, never null.
func toSyncResultResponse(r model.SyncResult) SyncResultResponse {
	failures := make([]RecordFailureResponse, 0, len(r.Failures))
	for _, f := range r.Failures {
		failures = append(failures, RecordFailureResponse{ID: f.ID, Error: f.Message})
	}

	return SyncResultResponse{
		RunID:      r.RunID,
		EntityType: string(r.EntityType),
		Mode:       string(r.Mode),
		Status:     string(r.Status),
		Processed:  r.Processed,
		Batches:    r.Batches,
		Skipped:    r.Skipped,
		Deleted:    r.Deleted,
		Failures:   failures,
		Error:      r.Error,
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTime(r.FinishedAt),
		DurationMS: r.Duration().Milliseconds(),
	}
}

func toRecordResponse(rec model.ResourceRecord) RecordResponse {
	known := rec.KnownFields
	if known == nil {
		known = map[string]any{}
	}

	custom := make(map[string]CustomFieldResponse, len(rec.CustomFields))
	for key, snap := range rec.CustomFields {
		custom[key] = CustomFieldResponse{
			Value:      snap.Value,
			FirstSeen:  formatTime(snap.FirstSeen),
			LastSeen:   formatTime(snap.LastSeen),
			Deprecated: snap.Deprecated,
		}
	}

	raw := rec.RawPayload
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	return RecordResponse{
		ID:            rec.ID,
		EntityType:    string(rec.EntityType),
		KnownFields:   known,
		CustomFields:  custom,
		CustomValues:  model.CustomValues(rec.CustomFields, false),
		RawPayload:    raw,
		FirstSyncedAt: formatTime(rec.FirstSyncedAt),
		LastSyncedAt:  formatTime(rec.LastSyncedAt),
		IsDeleted:     rec.IsDeleted,
	}
}
