package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/Tendry81/micro-vms-2/internal/audit"
	"github.com/Tendry81/micro-vms-2/internal/config"
	"github.com/Tendry81/micro-vms-2/internal/hub"
	"github.com/Tendry81/micro-vms-2/internal/project"
	"github.com/Tendry81/micro-vms-2/internal/session"
	"github.com/Tendry81/micro-vms-2/internal/term"
)

const testToken = "test-token"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	cfg := &config.Config{
		Port:                8000,
		ProjectsRoot:        t.TempDir(),
		Token:               testToken,
		DefaultShellTimeout: 5,
		MaxShellTimeout:     10,
	}
	store, err := project.NewStore(cfg.ProjectsRoot)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(store.Root(), "demo"), 0o755); err != nil {
		t.Fatalf("mkdir demo: %v", err)
	}

	registry := term.NewRegistry()
	t.Cleanup(registry.Close)
	terminal := session.NewTerminal(registry, hub.NewRoom())

	return NewRouter(cfg, store, terminal, audit.New(nil), nil)
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", rec.Code)
	}

	if rec := doJSON(t, router, http.MethodGet, "/api/projects", ""); rec.Code != http.StatusOK {
		t.Fatalf("bearer token: status = %d, want 200", rec.Code)
	}

	// Query token works for endpoints that cannot set headers.
	req = httptest.NewRequest(http.MethodGet, "/api/projects?token="+testToken, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("query token: status = %d, want 200", rec.Code)
	}
}

func TestExecuteCommand(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/projects/demo/shell/execute",
		`{"command":"echo api-mark"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Command  string `json:"command"`
		ExitCode int    `json:"exit_code"`
		Stdout   string `json:"stdout"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.ExitCode != 0 || result.Stdout != "api-mark\n" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteCommandValidation(t *testing.T) {
	router := newTestRouter(t)

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"empty command", "/api/projects/demo/shell/execute", `{"command":"  "}`, http.StatusBadRequest},
		{"unbalanced quoting", "/api/projects/demo/shell/execute", `{"command":"echo \"unterminated"}`, http.StatusBadRequest},
		{"unknown project", "/api/projects/ghost/shell/execute", `{"command":"echo hi"}`, http.StatusNotFound},
		{"traversal cwd", "/api/projects/demo/shell/execute", `{"command":"pwd","cwd":"../escape"}`, http.StatusForbidden},
		{"absolute cwd", "/api/projects/demo/shell/execute", `{"command":"pwd","cwd":"/etc"}`, http.StatusBadRequest},
		{"bad body", "/api/projects/demo/shell/execute", `{"command":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, tc.path, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestExecuteNonzeroExit(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/projects/demo/shell/execute",
		`{"command":"exit 7"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("nonzero exit must still be 200, got %d", rec.Code)
	}
	var result struct {
		ExitCode int `json:"exit_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.ExitCode != 7 {
		t.Fatalf("exit code = %d, want 7", result.ExitCode)
	}
}

func TestListTerminalsEmpty(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/projects/demo/shell/terminals", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var result struct {
		Project string         `json:"project"`
		Count   int            `json:"count"`
		List    []session.Info `json:"terminals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Project != "demo" || result.Count != 0 {
		t.Fatalf("unexpected listing: %+v", result)
	}
}

func TestResizeTerminal(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/projects/demo/shell/terminals/missing/resize",
		`{"cols":120,"rows":30}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing terminal: status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/projects/demo/shell/terminals/missing/resize",
		`{"cols":0,"rows":30}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid size: status = %d, want 400", rec.Code)
	}

	// Sizes above the uint16 range are rejected, not truncated.
	rec = doJSON(t, router, http.MethodPost, "/api/projects/demo/shell/terminals/missing/resize",
		`{"cols":70000,"rows":30}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized cols: status = %d, want 400", rec.Code)
	}
}

func TestListProjects(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/projects", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"demo"`) {
		t.Fatalf("project listing missing demo: %s", rec.Body.String())
	}
}

func TestAuditEndpointDisabled(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/audit", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when audit persistence is off", rec.Code)
	}
}

// TestTerminalWebSocket drives a real attach end to end: dial, banner,
// command echo, close.
func TestTerminalWebSocket(t *testing.T) {
	router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	url := srv.URL + "/api/projects/demo/shell/terminal/ws-test?token=" + testToken
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")
	ws.SetReadLimit(1 << 20)

	readUntil := func(want string) string {
		var output strings.Builder
		for !strings.Contains(output.String(), want) {
			_, data, err := ws.Read(ctx)
			if err != nil {
				t.Fatalf("Read while waiting for %q: %v (got %q)", want, err, output.String())
			}
			output.Write(data)
		}
		return output.String()
	}

	readUntil("[Connected to terminal: ws-test]")

	if err := ws.Write(ctx, websocket.MessageText, []byte("echo ws-round-trip\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	readUntil("ws-round-trip")
}
