// Package logger holds the process-wide slog logger. Logs go to a file under
// the state directory, or to stderr for foreground runs.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zhubert/plural-bot/paths"
)

// StderrPath is the Init path that routes logs to stderr instead of a file.
const StderrPath = "-"

const logFileName = "plural-bot.log"

var (
	mu       sync.Mutex
	root     *slog.Logger
	levelVar = new(slog.LevelVar)
	logFile  *os.File
	logPath  string
	ready    bool
)

// DefaultLogPath returns the log file used when Init is not given one.
func DefaultLogPath() (string, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, logFileName), nil
}

// SetDebug switches between debug and info level.
func SetDebug(enabled bool) {
	if enabled {
		levelVar.Set(slog.LevelDebug)
		return
	}
	levelVar.Set(slog.LevelInfo)
}

// SetLevel sets the minimum level from a config string. trace maps to debug
// and fatal to error; empty means info.
func SetLevel(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		levelVar.Set(slog.LevelDebug)
	case "", "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error", "fatal":
		levelVar.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

// Init points the logger at path, or stderr for StderrPath. Only the first
// call has any effect until Reset. Loggers fetched before Init lazily open
// DefaultLogPath instead.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if ready {
		return nil
	}
	return open(path)
}

// open installs the root logger for path. Caller must hold mu.
func open(path string) error {
	var w io.Writer = os.Stderr
	if path != StderrPath {
		f, err := openLogFile(path)
		if err != nil {
			return err
		}
		logFile = f
		w = f
	}

	logPath = path
	root = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar}))
	ready = true

	if logFile != nil {
		root.Info("logger initialized", "path", path)
	}
	return nil
}

// current returns the root logger, opening the default log file on first
// use. Falls back to slog.Default if that fails.
func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if !ready {
		path, err := DefaultLogPath()
		if err == nil {
			err = open(path)
		}
		if err != nil {
			// Stay on slog.Default rather than retrying on every call.
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			ready = true
		}
	}
	if root == nil {
		return slog.Default()
	}
	return root
}

// Path returns where logs are written, or "" before initialization.
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}

// Get returns the root logger.
func Get() *slog.Logger {
	return current()
}

// WithThread returns a logger tagged with a conversation thread ID.
//
//	log := logger.WithThread(msg.ThreadID)
//	log.Info("project selected", "project", name)
//	// level=INFO msg="project selected" threadID=1234 project=api
func WithThread(threadID string) *slog.Logger {
	return current().With("threadID", threadID)
}

// WithComponent returns a logger tagged with a component name, for code that
// is not tied to one thread.
func WithComponent(component string) *slog.Logger {
	return current().With("component", component)
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	closeFile()
	root = nil
}

// Reset returns the package to its uninitialized state. Used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	closeFile()
	root = nil
	ready = false
	logPath = ""
	levelVar = new(slog.LevelVar)
}

// closeFile closes the log file if one is open. Caller must hold mu.
func closeFile() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}
