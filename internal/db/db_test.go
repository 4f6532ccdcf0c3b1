package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestOpenRunsMigrations(t *testing.T) {
	database := openTestDB(t)

	var count int
	err := database.SQL().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'audit_events'`,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if count != 1 {
		t.Fatal("audit_events table missing after migrations")
	}
}

func TestOpenEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestAuditRepoInsertAndRecent(t *testing.T) {
	database := openTestDB(t)
	repo := NewAuditRepo(database.SQL())
	ctx := context.Background()

	first := &AuditEvent{
		Event:     "shell_execution",
		Username:  "alice",
		Project:   "demo",
		Command:   "echo hi",
		ExitCode:  0,
		Success:   true,
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	second := &AuditEvent{
		Event:     "terminal_attach",
		Username:  "bob",
		Project:   "demo",
		Terminal:  "term-1",
		Success:   true,
		CreatedAt: time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC),
	}

	if err := repo.Insert(ctx, first); err != nil {
		t.Fatalf("Insert first: %v", err)
	}
	if err := repo.Insert(ctx, second); err != nil {
		t.Fatalf("Insert second: %v", err)
	}
	if first.ID == "" || second.ID == "" {
		t.Fatal("Insert did not assign ids")
	}

	events, err := repo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Recent returned %d events, want 2", len(events))
	}

	// Newest first.
	if events[0].Event != "terminal_attach" || events[1].Event != "shell_execution" {
		t.Fatalf("unexpected order: %s, %s", events[0].Event, events[1].Event)
	}
	got := events[1]
	if got.Username != "alice" || got.Command != "echo hi" || !got.Success {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("timestamp mismatch: got %v, want %v", got.CreatedAt, first.CreatedAt)
	}
}

func TestAuditRepoRecentLimit(t *testing.T) {
	database := openTestDB(t)
	repo := NewAuditRepo(database.SQL())
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ev := &AuditEvent{
			Event:     "shell_execution",
			Username:  "alice",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	events, err := repo.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Recent returned %d events, want 3", len(events))
	}
}
