// Package process stops Claude CLI processes and finds ones a crashed bot left behind.
package process

import (
	"log/slog"
	"os"
	"syscall"
	"time"
)

// DefaultKillGrace is how long a process gets to exit after SIGTERM before SIGKILL.
const DefaultKillGrace = 5 * time.Second

// Signaler is the part of a process handle needed to stop it.
type Signaler interface {
	Signal(sig os.Signal) error
	Kill() error
}

// Terminate sends SIGTERM and waits up to grace for exited to close, then
// kills. It reports whether SIGKILL was used.
func Terminate(p Signaler, exited <-chan struct{}, grace time.Duration, log *slog.Logger) bool {
	if err := p.Signal(syscall.SIGTERM); err != nil {
		// No SIGTERM on windows; the process may also be gone already.
		log.Debug("SIGTERM failed, killing", "error", err)
		forceKill(p, log)
		return true
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-exited:
		return false
	case <-timer.C:
		log.Warn("process ignored SIGTERM, killing", "grace", grace)
		forceKill(p, log)
		return true
	}
}

func forceKill(p Signaler, log *slog.Logger) {
	if err := p.Kill(); err != nil {
		log.Debug("kill failed", "error", err)
	}
}

// KillProcess sends SIGKILL to pid.
func KillProcess(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
