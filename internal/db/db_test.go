package db

import (
	"path/filepath"
	"testing"
)

func TestNew_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"projects", "clips", "runs", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_WALEnabled(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var journalMode string
	if err := database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var count int
	if err := db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations error = %v", err)
	}
	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
	}
}

func TestMarkInterrupted(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	stmts := []string{
		`INSERT INTO projects (id, workspace_id, status, created_at, updated_at)
		 VALUES ('p-gen', 'ws', 'generating', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`,
		`INSERT INTO projects (id, workspace_id, status, created_at, updated_at)
		 VALUES ('p-done', 'ws', 'completed', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`,
		`INSERT INTO runs (id, project_id, status, created_at, updated_at)
		 VALUES ('r-1', 'p-gen', 'running', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`,
	}
	for _, stmt := range stmts {
		if _, err := db1.Conn().Exec(stmt); err != nil {
			t.Fatalf("insert error = %v", err)
		}
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var status, errMsg string
	if err := db2.Conn().QueryRow("SELECT status, error FROM projects WHERE id = 'p-gen'").Scan(&status, &errMsg); err != nil {
		t.Fatalf("query project error = %v", err)
	}
	if status != "failed" || errMsg != "interrupted by restart" {
		t.Errorf("project = (%s, %s), want (failed, interrupted by restart)", status, errMsg)
	}

	if err := db2.Conn().QueryRow("SELECT status FROM projects WHERE id = 'p-done'").Scan(&status); err != nil {
		t.Fatalf("query project error = %v", err)
	}
	if status != "completed" {
		t.Errorf("completed project status = %s, want completed", status)
	}

	if err := db2.Conn().QueryRow("SELECT status FROM runs WHERE id = 'r-1'").Scan(&status); err != nil {
		t.Fatalf("query run error = %v", err)
	}
	if status != "failed" {
		t.Errorf("run status = %s, want failed", status)
	}
}
