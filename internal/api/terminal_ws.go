package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/Tendry81/micro-vms-2/internal/hub"
	"github.com/Tendry81/micro-vms-2/internal/session"
)

// attachTerminal upgrades the request to a websocket and joins it to the
// terminal room for the id in the path. The id segment "new" asks the
// server to generate one. The handler blocks for the lifetime of the
// connection; all frames after the banner are raw terminal bytes.
func (h *handler) attachTerminal(w http.ResponseWriter, r *http.Request) {
	projectName := r.PathValue("project")
	terminalID := r.PathValue("id")
	username := callerIdentity(r)

	root, err := h.store.Resolve(projectName)
	if err != nil {
		jsonError(w, http.StatusNotFound, err.Error())
		return
	}
	if terminalID == "" || terminalID == "new" {
		terminalID = uuid.NewString()
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept failed", "terminal", terminalID, "error", err)
		return
	}

	conn := hub.NewConn(ws)
	h.audit.TerminalAttach(username, projectName, terminalID)

	err = h.terminal.Attach(r.Context(), terminalID, root, conn)
	switch {
	case err == nil:
		conn.Close("")
	case errors.Is(err, session.ErrDraining):
		conn.Close("terminal is shutting down, retry")
	default:
		h.audit.Failure("terminal_attach", username, projectName, err.Error())
		conn.Close("terminal start failed")
	}

	h.audit.TerminalDetach(username, projectName, terminalID)
}
