package term

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// pipeProcess is the fallback variant for platforms without a
// pseudo-terminal abstraction. The shell's stdio is attached to anonymous
// pipes: there is no line discipline and Resize is a no-op. The reader
// blocks on the pipe and relies on process exit (pipe EOF) to terminate.
type pipeProcess struct {
	id      string
	workDir string

	cmd   *exec.Cmd
	stdin io.WriteCloser
	outRd *io.PipeReader
	outWr *io.PipeWriter

	output chan string
	input  chan string
	done   chan struct{}
	exited chan struct{}

	running  atomic.Bool
	startErr error
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newPipeProcess(id, workDir string) *pipeProcess {
	return &pipeProcess{
		id:      id,
		workDir: workDir,
		output:  make(chan string, outputQueueSize),
		input:   make(chan string, inputQueueSize),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (p *pipeProcess) Start() error {
	shell := defaultShell()
	cmd := exec.Command(shell)
	cmd.Dir = p.workDir
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.startErr = fmt.Errorf("term: allocate stdin pipe: %w", err)
		return p.startErr
	}

	// stdout and stderr share one pipe so output keeps the order the
	// process produced it in.
	outRd, outWr := io.Pipe()
	cmd.Stdout = outWr
	cmd.Stderr = outWr

	if err := cmd.Start(); err != nil {
		p.startErr = fmt.Errorf("term: start shell %q: %w", shell, err)
		return p.startErr
	}

	p.cmd = cmd
	p.stdin = stdin
	p.outRd = outRd
	p.outWr = outWr
	p.running.Store(true)

	go func() {
		_ = cmd.Wait()
		p.running.Store(false)
		// Unblocks the reader with EOF.
		_ = outWr.Close()
		close(p.exited)
	}()

	p.wg.Add(2)
	go p.readLoop()
	go p.writeLoop()

	slog.Info("terminal process started", "session", p.id, "shell", shell, "variant", "pipe")
	return nil
}

func (p *pipeProcess) readLoop() {
	defer p.wg.Done()
	buf := make([]byte, readChunkSize)
	for {
		n, err := p.outRd.Read(buf)
		if n > 0 {
			select {
			case p.output <- string(buf[:n]):
			case <-p.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *pipeProcess) writeLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case data := <-p.input:
			if _, err := io.WriteString(p.stdin, data); err != nil {
				slog.Debug("terminal write failed", "session", p.id, "error", err)
				return
			}
		}
	}
}

func (p *pipeProcess) Read(timeout time.Duration) (string, bool) {
	return readQueue(p.output, p.done, timeout)
}

func (p *pipeProcess) Write(data string) {
	if !p.running.Load() {
		return
	}
	select {
	case p.input <- data:
	default:
		slog.Warn("terminal input queue full, dropping input", "session", p.id)
	}
}

// Resize is a documented no-op: anonymous pipes carry no window size.
func (p *pipeProcess) Resize(rows, cols uint16) error { return nil }

func (p *pipeProcess) Stop() {
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
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		if p.outRd != nil {
			_ = p.outRd.Close()
		}

		joinWorkers(&p.wg, workerJoinWait)
		slog.Info("terminal process stopped", "session", p.id)
	})
}

func (p *pipeProcess) Running() bool { return p.running.Load() }

func (p *pipeProcess) Err() error { return p.startErr }
