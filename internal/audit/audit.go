// Package audit records security-relevant events: terminal attaches and
// detaches, command executions, and failures. Events go to the
// structured log always and to the audit table when a repo is attached.
// A nil Logger is safe to call, which is how auditing is disabled.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tendry81/micro-vms-2/internal/db"
)

const insertTimeout = 5 * time.Second

type Logger struct {
	repo *db.AuditRepo
}

// New returns a Logger backed by repo. repo may be nil, in which case
// events are only written to the log.
func New(repo *db.AuditRepo) *Logger {
	return &Logger{repo: repo}
}

func (l *Logger) ShellExecution(username, project, command string, exitCode int) {
	if l == nil {
		return
	}
	slog.Info("audit: shell execution",
		"username", username, "project", project, "exit_code", exitCode)
	l.record(&db.AuditEvent{
		Event:    "shell_execution",
		Username: username,
		Project:  project,
		Command:  command,
		ExitCode: exitCode,
		Success:  exitCode == 0,
	})
}

func (l *Logger) TerminalAttach(username, project, terminalID string) {
	if l == nil {
		return
	}
	slog.Info("audit: terminal attach",
		"username", username, "project", project, "terminal", terminalID)
	l.record(&db.AuditEvent{
		Event:    "terminal_attach",
		Username: username,
		Project:  project,
		Terminal: terminalID,
		Success:  true,
	})
}

func (l *Logger) TerminalDetach(username, project, terminalID string) {
	if l == nil {
		return
	}
	slog.Info("audit: terminal detach",
		"username", username, "project", project, "terminal", terminalID)
	l.record(&db.AuditEvent{
		Event:    "terminal_detach",
		Username: username,
		Project:  project,
		Terminal: terminalID,
		Success:  true,
	})
}

func (l *Logger) Failure(event, username, project, detail string) {
	if l == nil {
		return
	}
	slog.Warn("audit: failure",
		"event", event, "username", username, "project", project, "detail", detail)
	l.record(&db.AuditEvent{
		Event:    event,
		Username: username,
		Project:  project,
		Detail:   detail,
		Success:  false,
	})
}

// record persists best effort: a failed insert is logged, never
// propagated to the request path.
func (l *Logger) record(ev *db.AuditEvent) {
	if l.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if err := l.repo.Insert(ctx, ev); err != nil {
		slog.Error("audit insert failed", "event", ev.Event, "error", err)
	}
}
