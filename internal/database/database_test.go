package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestPostgresMigrationURL(t *testing.T) {
	for in, want := range map[string]string{
		"postgres://u:p@h:5432/db?sslmode=disable":   "pgx5://u:p@h:5432/db?sslmode=disable",
		"postgresql://u:p@h:5432/db?sslmode=disable": "pgx5://u:p@h:5432/db?sslmode=disable",
		"pgx5://already": "pgx5://already",
	} {
		if got := PostgresMigrationURL(in); got != want {
			t.Errorf("PostgresMigrationURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN("/tmp/x.db")
	for _, part := range []string{"file:/tmp/x.db?", "_txlock=immediate", "foreign_keys(1)", "busy_timeout(5000)"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("DSN %q missing %q", dsn, part)
		}
	}
}

func TestMigrateSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "eventjoin.db")

	if err := MigrateSQLite(path, Up); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	// Re-running is a no-op.
	if err := MigrateSQLite(path, Up); err != nil {
		t.Fatalf("migrate up again: %v", err)
	}

	db, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()

	var tables []string
	if err := db.SelectContext(ctx, &tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('users', 'events', 'join_requests') ORDER BY name`,
	); err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if strings.Join(tables, ",") != "events,join_requests,users" {
		t.Fatalf("tables = %v", tables)
	}
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventjoin.db")
	if err := MigrateSQLite(path, Direction("sideways")); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}
