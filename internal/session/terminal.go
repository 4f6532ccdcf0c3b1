// Package session wires attached websocket connections to the shell
// process behind a terminal id: it creates the process on first attach,
// runs the single per-session broadcaster, one relay loop per
// connection, and tears the session down when the last observer leaves.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Tendry81/micro-vms-2/internal/hub"
	"github.com/Tendry81/micro-vms-2/internal/term"
)

var (
	// ErrNotFound is returned for operations on a terminal id with no
	// live session.
	ErrNotFound = errors.New("session: terminal not found")

	// ErrDraining is returned when an attach races with the teardown of
	// the same terminal id. The caller should retry, which will find
	// either a fresh session or none.
	ErrDraining = errors.New("session: terminal is shutting down, retry")
)

// readTimeout bounds each broadcaster poll of the process output queue
// so the loop can re-check liveness.
const readTimeout = time.Second

type state int

const (
	// Ids absent from the state map are ABSENT (or TERMINATED, which is
	// the same thing: a later attach starts from scratch).
	stateStarting state = iota + 1
	stateRunning
	stateDraining
)

// Terminal multiplexes interactive shell sessions. One Terminal serves
// the whole process; it owns the process registry and the connection
// room and is the only component that touches either.
type Terminal struct {
	registry *term.Registry
	room     *hub.Room

	mu     sync.Mutex
	states map[string]state
}

func NewTerminal(registry *term.Registry, room *hub.Room) *Terminal {
	return &Terminal{
		registry: registry,
		room:     room,
		states:   make(map[string]state),
	}
}

// Attach joins conn to the terminal id, creating the backing shell
// process (rooted at workDir) if this is the first observer. It blocks
// until conn disconnects or the process dies, then handles teardown:
// the last observer out stops the process. Attach only returns an error
// when the connection never became part of a usable session.
func (t *Terminal) Attach(ctx context.Context, id, workDir string, conn hub.Conn) error {
	t.mu.Lock()
	if t.states[id] == stateDraining {
		t.mu.Unlock()
		return ErrDraining
	}
	if _, ok := t.states[id]; !ok {
		t.states[id] = stateStarting
	}
	// Registering the connection under the same lock closes the window
	// between the draining check and room membership.
	t.room.Connect(id, conn)
	t.mu.Unlock()

	proc, created, err := t.registry.GetOrCreate(id, workDir)
	if err != nil {
		// Start failure is fatal to the whole would-be session: every
		// observer gets one error frame, then the id goes back to
		// absent so a later attach can retry.
		t.room.Broadcast(ctx, id, fmt.Sprintf("\r\n\x1b[31mError: %v\x1b[0m\r\n", err))
		t.detach(ctx, id, conn)
		return err
	}

	if created {
		t.setState(id, stateRunning)
		go t.broadcastLoop(id, proc)
	}

	banner := fmt.Sprintf("\r\n\x1b[32m[Connected to terminal: %s]\x1b[0m\r\n", id)
	if err := conn.Send(ctx, banner); err != nil {
		slog.Debug("banner send failed", "terminal", id, "client", conn.ID(), "error", err)
	}

	t.relay(ctx, id, proc, conn)
	t.detach(ctx, id, conn)
	return nil
}

// relay forwards inbound frames from one connection to the process. It
// returns when the connection disconnects, a receive fails, or the
// process stops running.
func (t *Terminal) relay(ctx context.Context, id string, proc term.Process, conn hub.Conn) {
	for proc.Running() {
		msg, err := conn.Receive(ctx)
		if err != nil {
			slog.Debug("relay ended", "terminal", id, "client", conn.ID(), "error", err)
			return
		}
		if msg == "" {
			continue
		}
		proc.Write(msg)
	}
}

// broadcastLoop is the single per-session fan-out: it drains the process
// output queue and broadcasts each chunk to the room. One loop per
// session is what guarantees every observer sees output in the order the
// process produced it.
func (t *Terminal) broadcastLoop(id string, proc term.Process) {
	ctx := context.Background()
	for proc.Running() {
		chunk, ok := proc.Read(readTimeout)
		if ok {
			t.room.Broadcast(ctx, id, chunk)
			continue
		}
		if !t.room.Has(id) {
			return
		}
	}
}

// detach removes conn from the room and, when it was the last observer,
// drives the session through DRAINING to termination.
func (t *Terminal) detach(ctx context.Context, id string, conn hub.Conn) {
	t.room.Disconnect(id, conn)

	t.mu.Lock()
	if t.room.Has(id) || t.states[id] == stateDraining {
		t.mu.Unlock()
		return
	}
	t.states[id] = stateDraining
	t.mu.Unlock()

	t.registry.Destroy(id)

	t.mu.Lock()
	delete(t.states, id)
	t.mu.Unlock()
	slog.Info("terminal session closed", "terminal", id)
}

func (t *Terminal) setState(id string, s state) {
	t.mu.Lock()
	t.states[id] = s
	t.mu.Unlock()
}

// Resize forwards the new window size to the process for id. A resize
// for an id with no running process is rejected with ErrNotFound; it is
// never queued for a process that has not started yet.
func (t *Terminal) Resize(id string, rows, cols uint16) error {
	proc, ok := t.registry.Get(id)
	if !ok || !proc.Running() {
		return ErrNotFound
	}
	return proc.Resize(rows, cols)
}

// Info describes one known terminal session for listings.
type Info struct {
	ID          string `json:"terminal_id"`
	Connections int    `json:"connection_count"`
	HasProcess  bool   `json:"has_process"`
}

// List reports every id known to the process registry or the room. The
// two can disagree transiently during startup and teardown; both views
// are included.
func (t *Terminal) List() []Info {
	ids := make(map[string]struct{})
	for _, id := range t.registry.IDs() {
		ids[id] = struct{}{}
	}
	for _, info := range t.room.List() {
		ids[info.ID] = struct{}{}
	}

	infos := make([]Info, 0, len(ids))
	for id := range ids {
		infos = append(infos, Info{
			ID:          id,
			Connections: t.room.Size(id),
			HasProcess:  t.registry.Running(id),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close stops every live session process.
func (t *Terminal) Close() {
	t.registry.Close()
}
