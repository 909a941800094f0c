// Package projects lists the directories Claude may be pointed at.
package projects

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/zhubert/plural-bot/logger"
	"github.com/zhubert/plural-bot/output"
)

// Limits imposed by Discord select menus.
const (
	MaxOptions           = 25
	MaxDescriptionLength = 100
)

// Project is a selectable directory under the base directory.
type Project struct {
	Name string
	Path string
}

// Option is a project rendered for a selection menu.
type Option struct {
	Label       string
	Value       string
	Description string
}

// Scanner lists projects under a base directory, filtered by allow and deny
// lists. It rescans the filesystem on every call so new checkouts show up
// without a restart.
type Scanner struct {
	baseDir   string
	allowList []string
	denyList  []string
	log       *slog.Logger
}

// NewScanner creates a Scanner rooted at baseDir. An empty allowList allows
// every directory not on denyList.
func NewScanner(baseDir string, allowList, denyList []string) (*Scanner, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory %q: %w", baseDir, err)
	}
	return &Scanner{
		baseDir:   filepath.Clean(abs),
		allowList: allowList,
		denyList:  denyList,
		log:       logger.WithComponent("projects"),
	}, nil
}

// BaseDir returns the absolute base directory.
func (s *Scanner) BaseDir() string {
	return s.baseDir
}

// List returns the projects sorted by name. A missing or unreadable base
// directory yields no projects.
func (s *Scanner) List() []Project {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		s.log.Error("failed to scan projects", "baseDir", s.baseDir, "error", err)
		return nil
	}

	var projects []Project
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if slices.Contains(s.denyList, name) {
			continue
		}
		if len(s.allowList) > 0 && !slices.Contains(s.allowList, name) {
			continue
		}
		projects = append(projects, Project{Name: name, Path: filepath.Join(s.baseDir, name)})
	}

	// ReadDir already sorts by filename
	s.log.Debug("scanned projects", "count", len(projects))
	return projects
}

// Resolve returns the path of the project called name.
func (s *Scanner) Resolve(name string) (string, bool) {
	for _, p := range s.List() {
		if p.Name == name {
			return p.Path, true
		}
	}
	return "", false
}

// IsWithinBase reports whether path is an existing directory inside the base
// directory. Symlinks are resolved first so a link cannot escape the base.
func (s *Scanner) IsWithinBase(path string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	base, err := filepath.EvalSymlinks(s.baseDir)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		s.log.Warn("path traversal attempt detected", "path", path, "resolved", resolved, "baseDir", base)
		return false
	}

	info, err := os.Stat(resolved)
	return err == nil && info.IsDir()
}

// Options renders projects for a selection menu: at most MaxOptions entries,
// each described by its path truncated to MaxDescriptionLength.
func Options(projects []Project) []Option {
	n := min(len(projects), MaxOptions)
	opts := make([]Option, 0, n)
	for _, p := range projects[:n] {
		opts = append(opts, Option{
			Label:       p.Name,
			Value:       p.Name,
			Description: output.Truncate(p.Path, MaxDescriptionLength),
		})
	}
	return opts
}
