// Package paths resolves where plural-bot keeps its config, session
// database and logs.
//
// Two layouts are supported:
//
//   - Flat: everything under ~/.plural-bot/. Used when that directory
//     exists, and on a fresh install with no XDG variables set.
//   - XDG: config.yaml under XDG_CONFIG_HOME, sessions.db under
//     XDG_DATA_HOME, logs/ under XDG_STATE_HOME. Used when any XDG
//     variable is set and ~/.plural-bot/ does not exist. Unset variables
//     take their XDG defaults.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	appName = "plural-bot"
	flatDir = ".plural-bot"
)

// Layout is a resolved set of directories.
type Layout struct {
	ConfigDir string // config.yaml
	DataDir   string // sessions.db
	StateDir  string // logs/
	Flat      bool   // All three are ~/.plural-bot
}

// ConfigFile returns the config file path.
func (l Layout) ConfigFile() string { return filepath.Join(l.ConfigDir, "config.yaml") }

// SessionsDB returns the session database path.
func (l Layout) SessionsDB() string { return filepath.Join(l.DataDir, "sessions.db") }

// Logs returns the log directory.
func (l Layout) Logs() string { return filepath.Join(l.StateDir, "logs") }

func (l Layout) String() string {
	kind := "xdg"
	if l.Flat {
		kind = "flat"
	}
	return fmt.Sprintf("layout=%s config=%s data=%s state=%s", kind, l.ConfigDir, l.DataDir, l.StateDir)
}

var (
	mu     sync.Mutex
	cached *Layout
)

// Current returns the layout for this process. It is resolved once.
func Current() (Layout, error) {
	mu.Lock()
	defer mu.Unlock()

	if cached != nil {
		return *cached, nil
	}
	l, err := resolve(os.Getenv)
	if err != nil {
		return Layout{}, err
	}
	cached = &l
	return l, nil
}

func resolve(getenv func(string) string) (Layout, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Layout{}, fmt.Errorf("failed to determine home directory: %w", err)
	}

	flat := filepath.Join(home, flatDir)
	if info, err := os.Stat(flat); err == nil && info.IsDir() {
		return Layout{ConfigDir: flat, DataDir: flat, StateDir: flat, Flat: true}, nil
	}

	xdg := map[string]string{
		"XDG_CONFIG_HOME": filepath.Join(home, ".config"),
		"XDG_DATA_HOME":   filepath.Join(home, ".local", "share"),
		"XDG_STATE_HOME":  filepath.Join(home, ".local", "state"),
	}
	anySet := false
	for name := range xdg {
		if v := getenv(name); v != "" {
			xdg[name] = v
			anySet = true
		}
	}
	if !anySet {
		return Layout{ConfigDir: flat, DataDir: flat, StateDir: flat, Flat: true}, nil
	}

	return Layout{
		ConfigDir: filepath.Join(xdg["XDG_CONFIG_HOME"], appName),
		DataDir:   filepath.Join(xdg["XDG_DATA_HOME"], appName),
		StateDir:  filepath.Join(xdg["XDG_STATE_HOME"], appName),
	}, nil
}

// ConfigFilePath returns the default config file path.
func ConfigFilePath() (string, error) {
	l, err := Current()
	if err != nil {
		return "", err
	}
	return l.ConfigFile(), nil
}

// SessionsDBPath returns the default session database path.
func SessionsDBPath() (string, error) {
	l, err := Current()
	if err != nil {
		return "", err
	}
	return l.SessionsDB(), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	l, err := Current()
	if err != nil {
		return "", err
	}
	return l.Logs(), nil
}

// Reset clears the cached layout. Tests use it after changing HOME or XDG
// variables.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
}
