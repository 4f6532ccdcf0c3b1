package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEvent is one recorded security-relevant action.
type AuditEvent struct {
	ID        string
	Event     string
	Username  string
	Project   string
	Terminal  string
	Command   string
	ExitCode  int
	Success   bool
	Detail    string
	CreatedAt time.Time
}

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Insert(ctx context.Context, ev *AuditEvent) error {
	if ev == nil {
		return fmt.Errorf("audit event is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_events (
	id, event, username, project, terminal_id, command, exit_code, success, detail, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		ev.ID,
		ev.Event,
		ev.Username,
		ev.Project,
		ev.Terminal,
		ev.Command,
		ev.ExitCode,
		boolToInt(ev.Success),
		ev.Detail,
		ev.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]*AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, event, username, project, terminal_id, command, exit_code, success, detail, created_at
FROM audit_events
ORDER BY created_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var success int
		var createdRaw string
		if err := rows.Scan(
			&ev.ID,
			&ev.Event,
			&ev.Username,
			&ev.Project,
			&ev.Terminal,
			&ev.Command,
			&ev.ExitCode,
			&success,
			&ev.Detail,
			&createdRaw,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Success = success != 0
		if ts, err := time.Parse(time.RFC3339, createdRaw); err == nil {
			ev.CreatedAt = ts
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
