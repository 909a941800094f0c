package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxLogSize is the size at which Init moves the log file aside. One rotated
// copy (plural-bot.1.log) is kept.
const MaxLogSize = 10 << 20

func openLogFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	if err := rotate(path, MaxLogSize); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to rotate log %s: %v\n", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}

// rotatedPath maps plural-bot.log to plural-bot.1.log.
func rotatedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".1" + ext
}

// rotate moves path over its rotated copy once it reaches limit bytes.
func rotate(path string, limit int64) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < limit {
		return nil
	}
	return os.Rename(path, rotatedPath(path))
}

// ClearLogs deletes the bot's log files in the logs directory, rotated copies
// included, and returns how many were removed.
func ClearLogs() (int, error) {
	path, err := DefaultLogPath()
	if err != nil {
		return 0, fmt.Errorf("failed to get default log path: %w", err)
	}

	ext := filepath.Ext(logFileName)
	pattern := filepath.Join(filepath.Dir(path), strings.TrimSuffix(logFileName, ext)+"*"+ext)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range matches {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
		case !errors.Is(err, os.ErrNotExist):
			return removed, err
		}
	}
	return removed, nil
}
