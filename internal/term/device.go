package term

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
)

const (
	// readPollInterval bounds each device read so the reader worker can
	// observe the done signal instead of blocking indefinitely.
	readPollInterval = 200 * time.Millisecond

	// stopGracePeriod is how long Stop waits after SIGTERM before
	// escalating to SIGKILL.
	stopGracePeriod = 2 * time.Second

	// workerJoinWait bounds how long Stop waits for the reader and
	// writer workers to exit.
	workerJoinWait = time.Second
)

// deviceProcess runs the shell attached to a pseudo-terminal, which gives
// it line discipline (canonical mode, local echo) and real window-size
// signaling on resize.
type deviceProcess struct {
	id      string
	workDir string

	cmd  *exec.Cmd
	ptmx *os.File

	output chan string
	input  chan string
	done   chan struct{}
	exited chan struct{}

	running  atomic.Bool
	startErr error
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newDeviceProcess(id, workDir string) *deviceProcess {
	return &deviceProcess{
		id:      id,
		workDir: workDir,
		output:  make(chan string, outputQueueSize),
		input:   make(chan string, inputQueueSize),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (p *deviceProcess) Start() error {
	shell := defaultShell()
	cmd := exec.Command(shell)
	cmd.Dir = p.workDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Rows: defaultRows,
		Cols: defaultCols,
	})
	if err != nil {
		p.startErr = fmt.Errorf("term: start shell %q: %w", shell, err)
		return p.startErr
	}

	p.cmd = cmd
	p.ptmx = ptmx
	p.running.Store(true)

	go func() {
		_ = cmd.Wait()
		p.running.Store(false)
		close(p.exited)
	}()

	p.wg.Add(2)
	go p.readLoop()
	go p.writeLoop()

	slog.Info("terminal process started", "session", p.id, "shell", shell, "variant", "device")
	return nil
}

// readLoop polls the PTY master with a short deadline so it can notice
// the done signal. Chunks are delivered to the output queue in the order
// the process produced them; this is the only goroutine reading the
// device, which is what makes the ordering guarantee hold.
func (p *deviceProcess) readLoop() {
	defer p.wg.Done()
	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-p.done:
			return
		default:
		}

		_ = p.ptmx.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			select {
			case p.output <- string(buf[:n]):
			case <-p.done:
				return
			}
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			// EIO here means the slave side closed: the shell exited.
			p.running.Store(false)
			return
		}
	}
}

func (p *deviceProcess) writeLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case data := <-p.input:
			if _, err := p.ptmx.WriteString(data); err != nil {
				slog.Debug("terminal write failed", "session", p.id, "error", err)
				return
			}
		}
	}
}

func (p *deviceProcess) Read(timeout time.Duration) (string, bool) {
	return readQueue(p.output, p.done, timeout)
}

func (p *deviceProcess) Write(data string) {
	if !p.running.Load() {
		return
	}
	select {
	case p.input <- data:
	default:
		slog.Warn("terminal input queue full, dropping input", "session", p.id)
	}
}

func (p *deviceProcess) Resize(rows, cols uint16) error {
	if !p.running.Load() {
		return fmt.Errorf("term: session %q not running", p.id)
	}
	return creackpty.Setsize(p.ptmx, &creackpty.Winsize{Rows: rows, Cols: cols})
}

func (p *deviceProcess) Stop() {
	p.stopOnce.Do(func() {
		p.running.Store(false)
		close(p.done)

		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-p.exited:
			case <-time.After(stopGracePeriod):
				_ = p.cmd.Process.Kill()
			}
		}
		if p.ptmx != nil {
			_ = p.ptmx.Close()
		}

		joinWorkers(&p.wg, workerJoinWait)
		slog.Info("terminal process stopped", "session", p.id)
	})
}

func (p *deviceProcess) Running() bool { return p.running.Load() }

func (p *deviceProcess) Err() error { return p.startErr }
