package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RemoteRecord is the complete payload of one resource as returned by the
// per-identifier fetch endpoint. Raw is kept verbatim for audit and replay.
type RemoteRecord struct {
	EntityType EntityType
	ID         string
	Raw        json.RawMessage
	Fields     map[string]any
}

// DecodeRemoteRecord parses a record payload. The id is taken from the payload
// when present, falling back to the identifier it was requested by.
func DecodeRemoteRecord(entity EntityType, requestedID string, raw []byte) (*RemoteRecord, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode %s/%s payload: %w", entity, requestedID, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decode %s/%s payload: not a JSON object", entity, requestedID)
	}

	id := requestedID
	if v, ok := fields["id"]; ok && v != nil {
		id = stringify(v)
	}

	return &RemoteRecord{
		EntityType: entity,
		ID:         id,
		Raw:        append(json.RawMessage(nil), raw...),
		Fields:     fields,
	}, nil
}

// ResourceRecord is the locally persisted form of a remote resource: typed known
// fields, lifecycle-tracked custom fields and the verbatim last payload.
type ResourceRecord struct {
	ID            string
	EntityType    EntityType
	KnownFields   map[string]any
	CustomFields  map[string]FieldSnapshot
	RawPayload    json.RawMessage
	FirstSyncedAt time.Time
	LastSyncedAt  time.Time
	IsDeleted     bool
}

// PageRequest selects one page of the identifier listing.
type PageRequest struct {
	Limit  int
	Offset int
	Filter string
}

// IDPage is one page of the identifier listing. It never carries field data.
type IDPage struct {
	IDs          []string
	HasMore      bool
	Offset       int
	Count        int
	TotalResults int
}

// RecordFailure describes one identifier that could not be fetched.
type RecordFailure struct {
	ID      string `json:"id"`
	Err     error  `json:"-"`
	Message string `json:"error"`
}

// NewRecordFailure builds a RecordFailure for id.
func NewRecordFailure(id string, err error) RecordFailure {
	return RecordFailure{ID: id, Err: err, Message: err.Error()}
}

// FetchBatch is one fixed-size slice of the fetch phase. A batch with any
// failures must not be committed.
type FetchBatch struct {
	Index    int
	Records  []RemoteRecord
	Failures []RecordFailure
	Skipped  []string
	// Fatal is the auth or permission error that stopped the batch early.
	Fatal    error
}

// Size returns the number of identifiers the batch covered.
func (b FetchBatch) Size() int {
	return len(b.Records) + len(b.Failures) + len(b.Skipped)
}
