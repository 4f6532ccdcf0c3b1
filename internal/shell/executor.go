// Package shell runs one-shot, non-interactive commands inside a
// project root and returns their captured result. Every invocation is
// independent; the package keeps no state between calls.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// TimeoutExitCode is the sentinel exit code reported when a command is
// killed for exceeding its timeout. A timeout is a normal result, not an
// error.
const TimeoutExitCode = -1

var (
	ErrEmptyCommand      = errors.New("shell: command cannot be empty")
	ErrUnparsableCommand = errors.New("shell: unbalanced quoting in command")
	ErrAbsolutePath      = errors.New("shell: absolute paths not allowed")
	ErrPathTraversal     = errors.New("shell: path traversal detected")
)

// Result is the outcome of one command execution. A nonzero exit code is
// a normal result value, never a system failure.
type Result struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"-"`

	DurationSeconds float64 `json:"duration_seconds"`
}

// Executor runs commands rooted at a single project directory.
type Executor struct {
	Root string
}

func NewExecutor(root string) *Executor {
	return &Executor{Root: root}
}

// Execute runs command through the platform shell in the working
// directory cwd (relative to the project root; empty means the root
// itself), waiting at most timeout. The context bounds the whole call
// independently of the per-command timeout.
func (e *Executor) Execute(ctx context.Context, command, cwd string, timeout time.Duration) (Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{}, ErrEmptyCommand
	}

	workDir, err := e.resolveWorkDir(cwd)
	if err != nil {
		return Result{}, err
	}

	// Tokenize before running: malformed quoting is rejected here with
	// a typed error instead of an opaque shell syntax failure.
	// Execution still goes through the shell so pipelines and
	// expansions behave as typed.
	argv, err := shellquote.Split(command)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnparsableCommand, err)
	}
	if len(argv) == 0 {
		return Result{}, ErrEmptyCommand
	}
	slog.Info("executing command", "argv0", argv[0], "args", len(argv)-1, "cwd", workDir)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := Result{
		Command:         command,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		Duration:        elapsed,
		DurationSeconds: elapsed.Seconds(),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		res.ExitCode = TimeoutExitCode
		res.Stdout = ""
		res.Stderr = fmt.Sprintf("command timed out after %s", timeout)
	case runErr == nil:
		res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// The command never ran (missing shell, bad workdir).
			return Result{}, fmt.Errorf("shell: execution failed: %w", runErr)
		}
	}

	return res, nil
}

// resolveWorkDir validates cwd and joins it under the project root.
// Absolute paths and any path escaping the root are rejected.
func (e *Executor) resolveWorkDir(cwd string) (string, error) {
	if cwd == "" {
		return e.Root, nil
	}
	if filepath.IsAbs(cwd) {
		return "", ErrAbsolutePath
	}

	joined := filepath.Join(e.Root, cwd)
	rel, err := filepath.Rel(e.Root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}
