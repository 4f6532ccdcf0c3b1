// Package api exposes the HTTP and websocket surface of the service:
// one-shot command execution, interactive terminal attach, terminal
// listing and resize, and project listing.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Tendry81/micro-vms-2/internal/audit"
	"github.com/Tendry81/micro-vms-2/internal/config"
	"github.com/Tendry81/micro-vms-2/internal/db"
	"github.com/Tendry81/micro-vms-2/internal/project"
	"github.com/Tendry81/micro-vms-2/internal/session"
)

type handler struct {
	store     *project.Store
	terminal  *session.Terminal
	audit     *audit.Logger
	auditRepo *db.AuditRepo

	defaultTimeout time.Duration
	maxTimeout     time.Duration
}

// NewRouter assembles the API handler. auditRepo may be nil when audit
// persistence is disabled.
func NewRouter(cfg *config.Config, store *project.Store, terminal *session.Terminal, auditLog *audit.Logger, auditRepo *db.AuditRepo) http.Handler {
	h := &handler{
		store:          store,
		terminal:       terminal,
		audit:          auditLog,
		auditRepo:      auditRepo,
		defaultTimeout: time.Duration(cfg.DefaultShellTimeout) * time.Second,
		maxTimeout:     time.Duration(cfg.MaxShellTimeout) * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/projects", h.listProjects)
	mux.HandleFunc("POST /api/projects/{project}/shell/execute", h.executeCommand)
	mux.HandleFunc("GET /api/projects/{project}/shell/terminals", h.listTerminals)
	mux.HandleFunc("POST /api/projects/{project}/shell/terminals/{id}/resize", h.resizeTerminal)
	mux.HandleFunc("GET /api/projects/{project}/shell/terminal/{id}", h.attachTerminal)
	mux.HandleFunc("GET /api/audit", h.listAuditEvents)

	return authMiddleware(cfg.Token)(corsMiddleware(mux))
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			// Browsers cannot set headers on websocket dials, so the
			// attach endpoint authenticates via query parameter.
			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-Username")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// callerIdentity returns the authenticated caller name for audit
// records. Identity verification happens upstream of this service; the
// value is only ever used for logging.
func callerIdentity(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get("X-Username")); user != "" {
		return user
	}
	return "anonymous"
}
