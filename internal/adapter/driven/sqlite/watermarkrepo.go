package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WatermarkStore = (*WatermarkRepo)(nil)

// WatermarkRepo is the SQLite implementation of the WatermarkStore port.
type WatermarkRepo struct {
	db *DB
}

// NewWatermarkRepo creates a new WatermarkRepo backed by the given DB.
func NewWatermarkRepo(db *DB) *WatermarkRepo {
	return &WatermarkRepo{db: db}
}

// Get returns the watermark for entity, or nil, nil if none exists.
func (r *WatermarkRepo) Get(ctx context.Context, entity model.EntityType) (*model.SyncWatermark, error) {
	const query = `SELECT entity_type, last_successful_sync_at, last_sync_status, records_synced, is_full_sync, updated_at
		FROM sync_watermarks WHERE entity_type = ?`

	wm, err := scanWatermark(r.db.Reader.QueryRowContext(ctx, query, string(entity)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watermark %s: %w", entity, err)
	}
	return wm, nil
}

// Advance upserts the watermark in one statement. The conflict clause only
// applies when the new boundary is not older than the stored one.
func (r *WatermarkRepo) Advance(ctx context.Context, wm model.SyncWatermark) error {
	const query = `INSERT INTO sync_watermarks
		(entity_type, last_successful_sync_at, last_sync_status, records_synced, is_full_sync, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type) DO UPDATE SET
			last_successful_sync_at = excluded.last_successful_sync_at,
			last_sync_status = excluded.last_sync_status,
			records_synced = excluded.records_synced,
			is_full_sync = excluded.is_full_sync,
			updated_at = excluded.updated_at
		WHERE excluded.last_successful_sync_at >= sync_watermarks.last_successful_sync_at`

	updatedAt := wm.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		string(wm.EntityType),
		formatTime(wm.LastSuccessfulSyncAt),
		string(wm.LastSyncStatus),
		wm.RecordsSynced,
		boolInt(wm.IsFullSync),
		formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("advance watermark %s: %w", wm.EntityType, err)
	}
	return nil
}

// List returns all watermarks ordered by entity type.
func (r *WatermarkRepo) List(ctx context.Context) ([]model.SyncWatermark, error) {
	const query = `SELECT entity_type, last_successful_sync_at, last_sync_status, records_synced, is_full_sync, updated_at
		FROM sync_watermarks ORDER BY entity_type`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	defer rows.Close()

	var wms []model.SyncWatermark
	for rows.Next() {
		wm, err := scanWatermark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		wms = append(wms, *wm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}
	return wms, nil
}

func scanWatermark(s scanner) (*model.SyncWatermark, error) {
	var wm model.SyncWatermark
	var entity, status, lastSync, updatedAt string
	var full int

	if err := s.Scan(&entity, &lastSync, &status, &wm.RecordsSynced, &full, &updatedAt); err != nil {
		return nil, err
	}
	wm.EntityType = model.EntityType(entity)
	wm.LastSyncStatus = model.SyncStatus(status)
	wm.IsFullSync = full != 0

	var err error
	wm.LastSuccessfulSyncAt, err = parseTime(lastSync)
	if err != nil {
		return nil, fmt.Errorf("parse last_successful_sync_at: %w", err)
	}
	wm.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &wm, nil
}
