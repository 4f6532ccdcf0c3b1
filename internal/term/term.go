// Package term owns the OS shell process behind an interactive terminal
// session. Each session id maps to exactly one Process, which bridges the
// blocking device-level I/O of the shell to channel-based readers and
// writers that the rest of the service can consume without blocking.
package term

import (
	"os"
	"sync"
	"time"

	creackpty "github.com/creack/pty"
)

const (
	// defaultCols and defaultRows are the initial window size for new
	// device-backed sessions.
	defaultCols = 120
	defaultRows = 30

	// outputQueueSize bounds the chunks buffered between the reader
	// worker and the broadcaster.
	outputQueueSize = 1024

	// inputQueueSize bounds pending input from relay loops. Writes are
	// dropped (with a log line) when the queue is full rather than
	// blocking the fan-in path.
	inputQueueSize = 256

	readChunkSize = 4096
)

// Process is one shell process bound to a session. Implementations run
// their own reader and writer workers; Read and Write never touch the
// underlying device directly.
type Process interface {
	// Start allocates the communication channel, spawns the shell and
	// launches the background workers. A failed Start leaves the process
	// not running with Err set.
	Start() error

	// Read returns the next chunk of process output, waiting up to
	// timeout. ok is false when no data arrived in time or the process
	// has stopped with no buffered output remaining.
	Read(timeout time.Duration) (data string, ok bool)

	// Write enqueues input for the process. It never fails: input for a
	// dead or saturated session is silently dropped.
	Write(data string)

	// Resize adjusts the terminal window. Best effort; a no-op where the
	// backing channel has no size notion.
	Resize(rows, cols uint16) error

	// Stop terminates the process and joins the workers. Idempotent.
	Stop()

	// Running reports whether the shell process is alive.
	Running() bool

	// Err returns the start failure, if any.
	Err() error
}

// New returns a Process for the given session id rooted at workDir. The
// variant is picked once per process lifetime: the device variant when a
// pseudo-terminal can be allocated, the pipe variant otherwise.
func New(id, workDir string) Process {
	if ptySupported() {
		return newDeviceProcess(id, workDir)
	}
	return newPipeProcess(id, workDir)
}

var (
	ptyProbeOnce sync.Once
	ptyAvailable bool
)

// defaultShell resolves the shell binary for new sessions: $SHELL when
// set, /bin/sh otherwise.
func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

// readQueue implements the shared Read contract for both variants: drain
// buffered output first, then wait up to timeout for the next chunk or
// for the process to stop.
func readQueue(output <-chan string, done <-chan struct{}, timeout time.Duration) (string, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case chunk := <-output:
		return chunk, true
	case <-done:
		// done and a buffered chunk can be ready at once; the chunk
		// wins so shutdown never swallows final output.
		select {
		case chunk := <-output:
			return chunk, true
		default:
			return "", false
		}
	case <-timer.C:
		return "", false
	}
}

// joinWorkers waits for the worker goroutines with an upper bound, so a
// wedged device read cannot stall Stop forever.
func joinWorkers(wg *sync.WaitGroup, limit time.Duration) {
	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(limit):
	}
}

// ptySupported probes the platform once for pseudo-terminal support.
func ptySupported() bool {
	ptyProbeOnce.Do(func() {
		master, slave, err := creackpty.Open()
		if err != nil {
			ptyAvailable = false
			return
		}
		master.Close()
		slave.Close()
		ptyAvailable = true
	})
	return ptyAvailable
}
