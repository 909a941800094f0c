package claude

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pexec "github.com/zhubert/plural-bot/exec"
	"github.com/zhubert/plural-bot/logger"
	"github.com/zhubert/plural-bot/process"
)

// Defaults used when RunnerOptions leaves a field unset.
const (
	DefaultBinary    = "claude"
	DefaultTimeout   = 5 * time.Minute
	DefaultKillGrace = process.DefaultKillGrace
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Binary     string        // Claude CLI command or path
	WorkingDir string        // cwd for requests that don't set one
	Timeout    time.Duration // Execution deadline when the request has no override
	KillGrace  time.Duration // Delay between SIGTERM and SIGKILL
}

// Runner executes one Claude CLI process per request and decodes its output.
// It keeps no per-call state, so concurrent Run calls are independent.
type Runner struct {
	executor   pexec.CommandExecutor
	binary     string
	workingDir string
	timeout    time.Duration
	killGrace  time.Duration
}

// NewRunner creates a Runner that starts processes through executor.
func NewRunner(executor pexec.CommandExecutor, opts RunnerOptions) *Runner {
	r := &Runner{
		executor:   executor,
		binary:     opts.Binary,
		workingDir: opts.WorkingDir,
		timeout:    opts.Timeout,
		killGrace:  opts.KillGrace,
	}
	if r.binary == "" {
		r.binary = DefaultBinary
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.killGrace <= 0 {
		r.killGrace = DefaultKillGrace
	}
	return r
}

// Run executes req and blocks until the process exits or is terminated.
// Every outcome, including spawn errors and timeouts, is reported in the
// returned Result. Canceling ctx terminates the process the same way a
// timeout does.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	if err := req.Validate(); err != nil {
		return Failure(FailureInvalid, err.Error())
	}

	dir := req.WorkingDir
	if dir == "" {
		dir = r.workingDir
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}

	args := BuildCommandArgs(req)
	log := logger.WithComponent("claude").With("resumeSessionID", req.ResumeSessionID)
	log.Info("executing Claude CLI",
		"workingDir", dir,
		"timeout", timeout,
		"planMode", req.PlanMode,
		"promptLen", len(req.Prompt))

	// Termination is handled below with SIGTERM escalation, so the process
	// itself must not be tied to ctx (exec.CommandContext would SIGKILL it).
	handle, err := r.executor.Start(context.WithoutCancel(ctx), dir, r.binary, args...)
	if err != nil {
		log.Error("failed to spawn Claude CLI", "error", err)
		return Failure(FailureSpawn, fmt.Sprintf("failed to start claude: %v", err))
	}
	log = log.With("pid", handle.Pid())
	log.Debug("Claude CLI process spawned")

	var stdout, stderr []byte
	var waitErr error
	exited := make(chan struct{})
	go func() {
		stdout, stderr, waitErr = handle.Wait()
		close(exited)
	}()

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-exited:
	case <-timer.C:
		if r.stop(handle, exited, log) {
			log.Warn("Claude CLI execution timed out", "elapsed", time.Since(start))
			return Failure(FailureTimeout, fmt.Sprintf("claude timed out after %s; the request took too long", timeout))
		}
	case <-ctx.Done():
		if r.stop(handle, exited, log) {
			log.Warn("Claude CLI execution canceled", "error", ctx.Err())
			return Failure(FailureCanceled, "execution canceled")
		}
	}

	log.Info("Claude CLI process exited",
		"elapsed", time.Since(start),
		"stdoutLen", len(stdout),
		"stderrLen", len(stderr))

	if waitErr != nil {
		return exitFailure(waitErr, stderr, log)
	}

	var parsed parsedOutput
	if req.PlanMode {
		parsed = parseStreamOutput(string(stdout), log)
	} else {
		parsed = parseJSONOutput(string(stdout), log)
	}

	log.Info("Claude CLI completed", "outputLen", len(parsed.Result), "claudeSessionID", parsed.SessionID)
	return Result{
		Success:    true,
		Output:     parsed.Result,
		SessionID:  parsed.SessionID,
		Transcript: parsed.Transcript,
	}
}

// stop terminates a process whose deadline passed. It returns false when the
// process had already exited on its own, in which case its real outcome is
// reported instead of a timeout.
func (r *Runner) stop(handle pexec.CommandHandle, exited <-chan struct{}, log *slog.Logger) bool {
	select {
	case <-exited:
		return false
	default:
	}

	killed := process.Terminate(handle, exited, r.killGrace, log)
	log.Debug("Claude CLI terminated", "forceKilled", killed)
	<-exited
	return true
}

// exitFailure converts a Wait error into a Result.
func exitFailure(err error, stderr []byte, log *slog.Logger) Result {
	msg := strings.TrimSpace(string(stderr))
	code, ok := pexec.ExitCode(err)
	if !ok {
		log.Error("Claude CLI failed", "error", err, "stderr", truncateForLog(msg))
		if msg == "" {
			msg = fmt.Sprintf("claude failed: %v", err)
		}
		return Failure(FailureExit, msg)
	}

	log.Error("Claude CLI exited with error", "code", code, "stderr", truncateForLog(msg))
	if msg == "" {
		msg = fmt.Sprintf("claude exited with code %d", code)
	}
	return Failure(FailureExit, msg)
}
