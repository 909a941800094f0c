// Package exec runs external commands behind an interface so that code
// shelling out to claude, git or pgrep can be tested against recorded
// responses.
package exec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// CommandExecutor runs external commands. RealExecutor is the production
// implementation; tests use MockExecutor.
type CommandExecutor interface {
	// Output runs a command to completion and returns its stdout. A non-zero
	// exit is an error that ExitCode understands.
	Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

	// Start launches a command with stdin on the null device and returns
	// without waiting for it.
	Start(ctx context.Context, dir string, name string, args ...string) (CommandHandle, error)
}

// CommandHandle is a started command.
type CommandHandle interface {
	// Wait blocks until the command exits and returns everything it wrote.
	// Call it exactly once.
	Wait() (stdout, stderr []byte, err error)

	Signal(sig os.Signal) error
	Kill() error

	// Pid is 0 when unknown.
	Pid() int
}

// ExitCoder is an error carrying a process exit code. *os/exec.ExitError
// satisfies it.
type ExitCoder interface {
	error
	ExitCode() int
}

// ExitCode extracts the exit code from a command error. ok is false when err
// is not a process exit, e.g. the binary was never started.
func ExitCode(err error) (code int, ok bool) {
	var ec ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode(), true
	}
	return 0, false
}

// PipeWaitDelay bounds how long Wait keeps reading output after the process
// exits. Grandchildren that inherited stdout would otherwise hold Wait open.
const PipeWaitDelay = 2 * time.Second

// RealExecutor runs commands with os/exec.
type RealExecutor struct{}

func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

func (e *RealExecutor) command(ctx context.Context, dir, name string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd
}

func (e *RealExecutor) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	return e.command(ctx, dir, name, args).Output()
}

// Start buffers the command's output in memory until Wait.
func (e *RealExecutor) Start(ctx context.Context, dir string, name string, args ...string) (CommandHandle, error) {
	h := &realHandle{cmd: e.command(ctx, dir, name, args)}
	h.cmd.WaitDelay = PipeWaitDelay
	h.cmd.Stdout = &h.stdout
	h.cmd.Stderr = &h.stderr

	if err := h.cmd.Start(); err != nil {
		return nil, err
	}
	return h, nil
}

type realHandle struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (h *realHandle) Wait() ([]byte, []byte, error) {
	err := h.cmd.Wait()
	return h.stdout.Bytes(), h.stderr.Bytes(), err
}

func (h *realHandle) Signal(sig os.Signal) error { return h.cmd.Process.Signal(sig) }

func (h *realHandle) Kill() error { return h.cmd.Process.Kill() }

func (h *realHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

var (
	_ CommandExecutor = (*RealExecutor)(nil)
	_ CommandHandle   = (*realHandle)(nil)
	_ ExitCoder       = (*exec.ExitError)(nil)
)
