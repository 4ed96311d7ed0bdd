package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"testing"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// setupTestDB opens a shared in-memory database named after the test, with
// migrations applied. Writer and reader see the same data through cache=shared.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// The name is path-escaped so subtest slashes and spaces cannot leak into
	// the DSN query string.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		url.PathEscape(t.Name()),
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open test db writer: %v", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		t.Fatalf("ping test db writer: %v", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("open test db reader: %v", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(context.Background()); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		t.Fatalf("ping test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}
	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

// remote builds a RemoteRecord from a payload map, the way the client decodes
// a fetched record.
func remote(t *testing.T, entity model.EntityType, payload map[string]any) model.RemoteRecord {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	rec, err := model.DecodeRemoteRecord(entity, fmt.Sprint(payload["id"]), raw)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return *rec
}
