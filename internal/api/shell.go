package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tendry81/micro-vms-2/internal/session"
	"github.com/Tendry81/micro-vms-2/internal/shell"
)

type executeRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (h *handler) executeCommand(w http.ResponseWriter, r *http.Request) {
	projectName := r.PathValue("project")
	username := callerIdentity(r)

	root, err := h.store.Resolve(projectName)
	if err != nil {
		jsonError(w, http.StatusNotFound, err.Error())
		return
	}

	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	timeout := h.clampTimeout(req.Timeout)
	executor := shell.NewExecutor(root)

	result, err := executor.Execute(r.Context(), req.Command, req.Cwd, timeout)
	if err != nil {
		h.audit.Failure("shell_execution", username, projectName, err.Error())
		switch {
		case errors.Is(err, shell.ErrEmptyCommand),
			errors.Is(err, shell.ErrUnparsableCommand),
			errors.Is(err, shell.ErrAbsolutePath):
			jsonError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, shell.ErrPathTraversal):
			jsonError(w, http.StatusForbidden, err.Error())
		default:
			slog.Error("command execution failed", "project", projectName, "error", err)
			jsonError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h.audit.ShellExecution(username, projectName, result.Command, result.ExitCode)
	jsonResponse(w, http.StatusOK, result)
}

// clampTimeout maps the client-requested timeout in seconds onto the
// administratively configured range. Zero or negative means "use the
// default"; anything above the maximum is cut down to it.
func (h *handler) clampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return h.defaultTimeout
	}
	timeout := time.Duration(seconds) * time.Second
	if timeout > h.maxTimeout {
		return h.maxTimeout
	}
	return timeout
}

func (h *handler) listTerminals(w http.ResponseWriter, r *http.Request) {
	projectName := r.PathValue("project")
	if _, err := h.store.Resolve(projectName); err != nil {
		jsonError(w, http.StatusNotFound, err.Error())
		return
	}

	terminals := h.terminal.List()
	jsonResponse(w, http.StatusOK, map[string]any{
		"project":   projectName,
		"terminals": terminals,
		"count":     len(terminals),
	})
}

func (h *handler) resizeTerminal(w http.ResponseWriter, r *http.Request) {
	projectName := r.PathValue("project")
	terminalID := r.PathValue("id")

	if _, err := h.store.Resolve(projectName); err != nil {
		jsonError(w, http.StatusNotFound, err.Error())
		return
	}

	var req resizeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Bounds match the uint16 window size on the wire; anything larger
	// would silently truncate.
	if req.Cols < 1 || req.Rows < 1 || req.Cols > 65535 || req.Rows > 65535 {
		jsonError(w, http.StatusBadRequest, "cols and rows must be between 1 and 65535")
		return
	}

	if err := h.terminal.Resize(terminalID, uint16(req.Rows), uint16(req.Cols)); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "terminal not found")
			return
		}
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"status":      "success",
		"terminal_id": terminalID,
		"cols":        req.Cols,
		"rows":        req.Rows,
	})
}

func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	metas, err := h.store.List()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"projects": metas,
		"count":    len(metas),
	})
}

func (h *handler) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.auditRepo == nil {
		jsonError(w, http.StatusNotFound, "audit persistence disabled")
		return
	}
	events, err := h.auditRepo.Recent(r.Context(), 100)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
