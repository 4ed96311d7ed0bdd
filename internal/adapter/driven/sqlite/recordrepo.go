package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RecordStore = (*RecordRepo)(nil)

// RecordRepo is the SQLite implementation of the RecordStore port. Each entity
// type has its own table holding typed known-field columns next to the
// known-field document, the custom-field snapshots and the raw payload.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new RecordRepo backed by the given DB.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// MergeBatch persists records in a single transaction. Known fields overwrite
// the stored values; custom fields are merged snapshot by snapshot. A record
// observed again after being flagged deleted is restored.
func (r *RecordRepo) MergeBatch(ctx context.Context, entity model.EntityType, records []model.RemoteRecord, syncedAt time.Time) error {
	schema, err := model.LookupSchema(entity)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge %s batch: %w", entity, err)
	}
	defer tx.Rollback() //nolint:errcheck

	selectQuery := fmt.Sprintf(`SELECT custom_fields FROM %s WHERE id = ?`, schema.Table)
	upsertQuery := upsertStatement(schema)

	for _, rec := range records {
		existing, err := loadCustomFields(ctx, tx, selectQuery, rec.ID)
		if err != nil {
			return fmt.Errorf("load %s/%s: %w", entity, rec.ID, err)
		}

		known, custom := schema.Split(rec.Fields)
		merged := model.MergeCustomFields(existing, custom, syncedAt)

		knownJSON, err := json.Marshal(known)
		if err != nil {
			return fmt.Errorf("encode known fields for %s/%s: %w", entity, rec.ID, err)
		}
		customJSON, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode custom fields for %s/%s: %w", entity, rec.ID, err)
		}

		args := []any{rec.ID}
		for _, col := range schema.Columns() {
			args = append(args, model.ColumnValue(col, known[col.Name]))
		}
		args = append(args, string(knownJSON), string(customJSON), string(rec.Raw), formatTime(syncedAt), formatTime(syncedAt))

		if _, err := tx.ExecContext(ctx, upsertQuery, args...); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", entity, rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s batch: %w", entity, err)
	}
	return nil
}

func upsertStatement(schema model.EntitySchema) string {
	cols := []string{"id"}
	for _, f := range schema.Columns() {
		cols = append(cols, f.Column)
	}
	cols = append(cols, "known_fields", "custom_fields", "raw_payload", "first_synced_at", "last_synced_at")

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	updates := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == "id" || c == "first_synced_at" {
			continue
		}
		updates = append(updates, c+" = excluded."+c)
	}
	updates = append(updates, "is_deleted = 0", "deleted_at = NULL")

	return fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
		schema.Table, strings.Join(cols, ", "), placeholders, strings.Join(updates, ", "),
	)
}

func loadCustomFields(ctx context.Context, tx *sql.Tx, query, id string) (map[string]model.FieldSnapshot, error) {
	var raw string
	err := tx.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeCustomFields(raw)
}

func decodeCustomFields(raw string) (map[string]model.FieldSnapshot, error) {
	fields := make(map[string]model.FieldSnapshot)
	if raw == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode custom fields: %w", err)
	}
	return fields, nil
}

// Get retrieves a record by id. Returns nil, nil if it does not exist.
func (r *RecordRepo) Get(ctx context.Context, entity model.EntityType, id string) (*model.ResourceRecord, error) {
	schema, err := model.LookupSchema(entity)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT id, known_fields, custom_fields, raw_payload, first_synced_at, last_synced_at, is_deleted FROM %s WHERE id = ?`,
		schema.Table,
	)

	rec, err := scanRecord(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", entity, id, err)
	}
	rec.EntityType = entity
	return rec, nil
}

func scanRecord(s scanner) (*model.ResourceRecord, error) {
	var rec model.ResourceRecord
	var knownJSON, customJSON, raw, firstSynced, lastSynced string
	var deleted int

	if err := s.Scan(&rec.ID, &knownJSON, &customJSON, &raw, &firstSynced, &lastSynced, &deleted); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(knownJSON), &rec.KnownFields); err != nil {
		return nil, fmt.Errorf("decode known fields: %w", err)
	}

	var err error
	rec.CustomFields, err = decodeCustomFields(customJSON)
	if err != nil {
		return nil, err
	}

	rec.RawPayload = json.RawMessage(raw)
	rec.IsDeleted = deleted != 0

	rec.FirstSyncedAt, err = parseTime(firstSynced)
	if err != nil {
		return nil, fmt.Errorf("parse first_synced_at: %w", err)
	}
	rec.LastSyncedAt, err = parseTime(lastSynced)
	if err != nil {
		return nil, fmt.Errorf("parse last_synced_at: %w", err)
	}

	return &rec, nil
}

// Count returns the number of stored records, including those flagged deleted.
func (r *RecordRepo) Count(ctx context.Context, entity model.EntityType) (int, error) {
	schema, err := model.LookupSchema(entity)
	if err != nil {
		return 0, err
	}

	var n int
	if err := r.db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+schema.Table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", entity, err)
	}
	return n, nil
}

// MarkDeletedExcept flags every live record whose id is not in keep.
func (r *RecordRepo) MarkDeletedExcept(ctx context.Context, entity model.EntityType, keep map[string]struct{}, at time.Time) (int, error) {
	schema, err := model.LookupSchema(entity)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin mark deleted %s: %w", entity, err)
	}
	defer tx.Rollback() //nolint:errcheck

	ids, err := queryIDs(ctx, tx, fmt.Sprintf(`SELECT id FROM %s WHERE is_deleted = 0`, schema.Table))
	if err != nil {
		return 0, fmt.Errorf("list live %s: %w", entity, err)
	}

	update := fmt.Sprintf(`UPDATE %s SET is_deleted = 1, deleted_at = ? WHERE id = ?`, schema.Table)
	var marked int
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, update, formatTime(at), id); err != nil {
			return 0, fmt.Errorf("mark %s/%s deleted: %w", entity, id, err)
		}
		marked++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit mark deleted %s: %w", entity, err)
	}
	return marked, nil
}

// PurgeDeprecated removes deprecated custom-field snapshots last seen before
// cutoff and returns how many snapshots were dropped.
func (r *RecordRepo) PurgeDeprecated(ctx context.Context, entity model.EntityType, cutoff time.Time) (int, error) {
	schema, err := model.LookupSchema(entity)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge %s: %w", entity, err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT id, custom_fields FROM %s`, schema.Table))
	if err != nil {
		return 0, fmt.Errorf("scan %s custom fields: %w", entity, err)
	}

	type pending struct {
		id     string
		fields map[string]model.FieldSnapshot
	}
	var updates []pending
	var total int

	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan %s row: %w", entity, err)
		}
		fields, err := decodeCustomFields(raw)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("%s/%s: %w", entity, id, err)
		}
		kept, purged := model.PurgeDeprecated(fields, cutoff)
		if purged > 0 {
			updates = append(updates, pending{id: id, fields: kept})
			total += purged
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate %s rows: %w", entity, err)
	}
	rows.Close()

	update := fmt.Sprintf(`UPDATE %s SET custom_fields = ? WHERE id = ?`, schema.Table)
	for _, u := range updates {
		data, err := json.Marshal(u.fields)
		if err != nil {
			return 0, fmt.Errorf("encode custom fields for %s/%s: %w", entity, u.id, err)
		}
		if _, err := tx.ExecContext(ctx, update, string(data), u.id); err != nil {
			return 0, fmt.Errorf("update %s/%s: %w", entity, u.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge %s: %w", entity, err)
	}
	return total, nil
}

func queryIDs(ctx context.Context, tx *sql.Tx, query string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
