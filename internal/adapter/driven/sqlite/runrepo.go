package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SyncRunStore = (*RunRepo)(nil)

// RunRepo is the SQLite implementation of the SyncRunStore port.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo backed by the given DB.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Start records a new run.
func (r *RunRepo) Start(ctx context.Context, run model.SyncRun) error {
	const query = `INSERT INTO sync_runs (id, entity_type, mode, status, started_at) VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.Writer.ExecContext(ctx, query,
		run.ID, string(run.EntityType), string(run.Mode), string(run.Status), formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	return nil
}

// Finish records the outcome of a run.
func (r *RunRepo) Finish(ctx context.Context, run model.SyncRun) error {
	const query = `UPDATE sync_runs SET status = ?, processed = ?, failed = ?, error = ?, finished_at = ? WHERE id = ?`

	res, err := r.db.Writer.ExecContext(ctx, query,
		string(run.Status), run.Processed, run.Failed, run.Error, nullTime(run.FinishedAt), run.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, sql.ErrNoRows)
	}
	return nil
}

// List returns up to limit runs, newest first. An empty entity lists all types.
func (r *RunRepo) List(ctx context.Context, entity model.EntityType, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, entity_type, mode, status, processed, failed, error, started_at, finished_at FROM sync_runs`
	args := []any{}
	if entity != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, string(entity))
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var run model.SyncRun
		var entityType, mode, status, startedAt string
		var finishedAt sql.NullString

		if err := rows.Scan(&run.ID, &entityType, &mode, &status, &run.Processed, &run.Failed, &run.Error, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.EntityType = model.EntityType(entityType)
		run.Mode = model.SyncMode(mode)
		run.Status = model.SyncStatus(status)

		run.StartedAt, err = parseTime(startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at for run %s: %w", run.ID, err)
		}
		run.FinishedAt, err = parseNullTime(finishedAt)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at for run %s: %w", run.ID, err)
		}

		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
