package process

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	pexec "github.com/zhubert/plural-bot/exec"
	"github.com/zhubert/plural-bot/logger"
)

// claudePattern matches the non-interactive invocations the runner makes.
const claudePattern = "claude.*--print"

// ClaudeProcess is a running Claude CLI process.
type ClaudeProcess struct {
	PID       int
	Command   string // Full command line
	SessionID string // Value of --resume, empty for a fresh conversation
}

// FindClaudeProcesses lists running non-interactive Claude CLI processes.
func FindClaudeProcesses(ctx context.Context, ex pexec.CommandExecutor) ([]ClaudeProcess, error) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		return nil, fmt.Errorf("process discovery not supported on %s", runtime.GOOS)
	}

	pids, err := matchingPIDs(ctx, ex)
	if err != nil {
		return nil, err
	}

	var procs []ClaudeProcess
	for _, pid := range pids {
		cmdLine, err := commandLine(ctx, ex, pid)
		if err != nil {
			// Exited between pgrep and ps.
			continue
		}
		procs = append(procs, ClaudeProcess{
			PID:       pid,
			Command:   cmdLine,
			SessionID: extractSessionID(cmdLine),
		})
	}

	logger.WithComponent("process").Debug("found Claude processes", "count", len(procs))
	return procs, nil
}

func matchingPIDs(ctx context.Context, ex pexec.CommandExecutor) ([]int, error) {
	out, err := ex.Output(ctx, "", "pgrep", "-f", claudePattern)
	if err != nil {
		// Exit status 1 means nothing matched.
		if code, ok := pexec.ExitCode(err); ok && code == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("pgrep failed: %w", err)
	}

	var pids []int
	for _, field := range strings.Fields(string(out)) {
		if pid, err := strconv.Atoi(field); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func commandLine(ctx context.Context, ex pexec.CommandExecutor, pid int) (string, error) {
	out, err := ex.Output(ctx, "", "ps", "-p", strconv.Itoa(pid), "-o", "args=")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// extractSessionID returns the argument of --resume in a command line.
func extractSessionID(cmdLine string) string {
	_, after, ok := strings.Cut(cmdLine, "--resume")
	if !ok {
		return ""
	}
	fields := strings.Fields(strings.TrimLeft(after, " ="))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Orphans keeps the processes resuming a session not in known. Fresh
// conversations are never orphans since nothing ties them to a thread.
func Orphans(procs []ClaudeProcess, known map[string]bool) []ClaudeProcess {
	var orphans []ClaudeProcess
	for _, p := range procs {
		if p.SessionID != "" && !known[p.SessionID] {
			orphans = append(orphans, p)
		}
	}
	return orphans
}

// FindOrphanedClaudeProcesses finds Claude processes resuming a session that
// no persisted conversation refers to.
func FindOrphanedClaudeProcesses(ctx context.Context, ex pexec.CommandExecutor, known map[string]bool) ([]ClaudeProcess, error) {
	procs, err := FindClaudeProcesses(ctx, ex)
	if err != nil {
		return nil, err
	}
	orphans := Orphans(procs, known)
	log := logger.WithComponent("process")
	for _, p := range orphans {
		log.Info("found orphaned Claude process", "pid", p.PID, "sessionID", p.SessionID)
	}
	return orphans, nil
}

// CleanupOrphanedProcesses kills orphaned Claude processes with kill, or
// KillProcess when kill is nil. It returns how many were killed; failures
// are logged and skipped.
func CleanupOrphanedProcesses(ctx context.Context, ex pexec.CommandExecutor, known map[string]bool, kill func(pid int) error) (int, error) {
	orphans, err := FindOrphanedClaudeProcesses(ctx, ex, known)
	if err != nil {
		return 0, err
	}
	if kill == nil {
		kill = KillProcess
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, p := range orphans {
		if err := kill(p.PID); err != nil {
			log.Error("failed to kill orphaned process", "pid", p.PID, "error", err)
			continue
		}
		log.Info("killed orphaned Claude process", "pid", p.PID)
		killed++
	}
	return killed, nil
}
