// Package git reads the state of project checkouts for status replies.
package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pexec "github.com/zhubert/plural-bot/exec"
	"github.com/zhubert/plural-bot/logger"
)

// ErrNotRepository is returned when the directory is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Status summarizes a checkout.
type Status struct {
	Branch     string   // Empty when HEAD is detached
	HasChanges bool     // Uncommitted changes, including untracked files
	Files      []string // Changed file paths
	Summary    string   // Short summary like "3 files changed"
}

// Service runs read-only git commands through an executor.
type Service struct {
	executor pexec.CommandExecutor
}

// NewService creates a Service with the real executor.
func NewService() *Service {
	return &Service{executor: pexec.NewRealExecutor()}
}

// NewServiceWithExecutor creates a Service with a custom executor, for tests.
func NewServiceWithExecutor(executor pexec.CommandExecutor) *Service {
	return &Service{executor: executor}
}

// IsRepository reports whether dir is inside a git work tree.
func (s *Service) IsRepository(ctx context.Context, dir string) bool {
	out, err := s.executor.Output(ctx, dir, "git", "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// CurrentBranch returns the checked out branch in dir.
// Returns an error if HEAD is detached or the command fails.
func (s *Service) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := s.executor.Output(ctx, dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}

	branch := strings.TrimSpace(string(out))
	if branch == "HEAD" {
		return "", fmt.Errorf("HEAD is detached (not on a branch)")
	}
	return branch, nil
}

// Status returns the branch and uncommitted changes of the checkout in dir.
func (s *Service) Status(ctx context.Context, dir string) (*Status, error) {
	if !s.IsRepository(ctx, dir) {
		return nil, ErrNotRepository
	}

	status := &Status{}
	branch, err := s.CurrentBranch(ctx, dir)
	if err != nil {
		logger.WithComponent("git").Debug("no current branch", "dir", dir, "error", err)
	}
	status.Branch = branch

	out, err := s.executor.Output(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}
	status.Files = parsePorcelain(string(out))
	status.HasChanges = len(status.Files) > 0

	switch len(status.Files) {
	case 0:
		status.Summary = "No changes"
	case 1:
		status.Summary = "1 file changed"
	default:
		status.Summary = fmt.Sprintf("%d files changed", len(status.Files))
	}
	return status, nil
}

// parsePorcelain extracts file paths from `git status --porcelain` output.
func parsePorcelain(out string) []string {
	// Only trim trailing whitespace; the leading space is part of the status code
	trimmed := strings.TrimRight(out, "\n\r\t ")
	if trimmed == "" {
		return nil
	}

	var files []string
	for _, line := range strings.Split(trimmed, "\n") {
		if len(line) <= 3 {
			continue
		}
		name := strings.TrimSpace(line[3:])
		// Renames are reported as "old -> new"
		if _, after, ok := strings.Cut(name, " -> "); ok {
			name = after
		}
		files = append(files, name)
	}
	return files
}
