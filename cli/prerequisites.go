// Package cli checks that the external tools the bot shells out to are installed.
package cli

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	pexec "github.com/zhubert/plural-bot/exec"
	"github.com/zhubert/plural-bot/output"
)

// maxVersionLength caps the version string shown in reports.
const maxVersionLength = 100

// defaultVersionFlags are tried in order when a Prerequisite names none.
var defaultVersionFlags = []string{"--version", "-V", "version"}

// Prerequisite is an external command the bot runs.
type Prerequisite struct {
	Name         string   // Command name or path
	Required     bool     // The bot refuses to start without it
	Purpose      string   // What the bot uses it for
	InstallURL   string
	VersionFlags []string // Flags that print a version; defaults to common ones
}

// DefaultPrerequisites returns the tools the bot uses. claudeBinary is the
// configured Claude CLI command; empty means "claude".
func DefaultPrerequisites(claudeBinary string) []Prerequisite {
	if claudeBinary == "" {
		claudeBinary = "claude"
	}
	return []Prerequisite{
		{
			Name:         claudeBinary,
			Required:     true,
			Purpose:      "Claude Code CLI, runs every prompt",
			InstallURL:   "https://claude.ai/code",
			VersionFlags: []string{"--version"},
		},
		{
			Name:         "git",
			Purpose:      "project branch and changes in /status",
			InstallURL:   "https://git-scm.com/downloads",
			VersionFlags: []string{"--version"},
		},
		{
			Name:         "pgrep",
			Purpose:      "finding orphaned Claude processes (cleanup)",
			InstallURL:   "https://gitlab.com/procps-ng/procps",
			VersionFlags: []string{"-V", "--version"},
		},
	}
}

// CheckResult is the outcome of checking one Prerequisite.
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Resolved executable
	Version      string // First line of version output, if any
	Error        error
}

// Report is the result of CheckAll, in prerequisite order.
type Report []CheckResult

// MissingRequired returns the required tools that were not found.
func (r Report) MissingRequired() []Prerequisite {
	var missing []Prerequisite
	for _, res := range r {
		if res.Prerequisite.Required && !res.Found {
			missing = append(missing, res.Prerequisite)
		}
	}
	return missing
}

// Err reports missing required tools, or nil.
func (r Report) Err() error {
	return missingError(r.MissingRequired())
}

func (r Report) String() string {
	var sb strings.Builder
	sb.WriteString("CLI Prerequisites:\n")
	for _, res := range r {
		p := res.Prerequisite
		switch {
		case res.Found && res.Version != "":
			fmt.Fprintf(&sb, "  ✓ %s (%s)\n", p.Name, res.Version)
		case res.Found:
			fmt.Fprintf(&sb, "  ✓ %s\n", p.Name)
		case p.Required:
			fmt.Fprintf(&sb, "  ✗ %s [REQUIRED] %s\n", p.Name, p.Purpose)
		default:
			fmt.Fprintf(&sb, "  ○ %s [optional] %s\n", p.Name, p.Purpose)
		}
	}
	return sb.String()
}

// Checker looks tools up on PATH and asks them for their version.
type Checker struct {
	executor pexec.CommandExecutor
	lookPath func(string) (string, error)
	timeout  time.Duration // Per version check
}

// NewChecker returns a Checker that runs version checks through executor.
func NewChecker(executor pexec.CommandExecutor) *Checker {
	return &Checker{
		executor: executor,
		lookPath: exec.LookPath,
		timeout:  5 * time.Second,
	}
}

// Check looks p up on PATH and, when found, asks it for its version.
func (c *Checker) Check(ctx context.Context, p Prerequisite) CheckResult {
	path, err := c.lookPath(p.Name)
	if err != nil {
		return CheckResult{Prerequisite: p, Error: fmt.Errorf("%s not found in PATH", p.Name)}
	}
	return CheckResult{
		Prerequisite: p,
		Found:        true,
		Path:         path,
		Version:      c.version(ctx, p),
	}
}

// CheckAll checks every prerequisite concurrently.
func (c *Checker) CheckAll(ctx context.Context, prereqs []Prerequisite) Report {
	report := make(Report, len(prereqs))
	var g errgroup.Group
	for i, p := range prereqs {
		g.Go(func() error {
			report[i] = c.Check(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// ValidateRequired checks only that required tools are on PATH. It runs no
// version checks, so it is cheap enough for startup.
func (c *Checker) ValidateRequired(prereqs []Prerequisite) error {
	var missing []Prerequisite
	for _, p := range prereqs {
		if !p.Required {
			continue
		}
		if _, err := c.lookPath(p.Name); err != nil {
			missing = append(missing, p)
		}
	}
	return missingError(missing)
}

func missingError(missing []Prerequisite) error {
	if len(missing) == 0 {
		return nil
	}
	lines := make([]string, 0, len(missing))
	for _, p := range missing {
		lines = append(lines, fmt.Sprintf("  - %s (%s)\n    Install: %s", p.Name, p.Purpose, p.InstallURL))
	}
	return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(lines, "\n"))
}

// version returns the first non-empty line printed by the first version
// flag that succeeds.
func (c *Checker) version(ctx context.Context, p Prerequisite) string {
	flags := p.VersionFlags
	if len(flags) == 0 {
		flags = defaultVersionFlags
	}
	for _, flag := range flags {
		versionCtx, cancel := context.WithTimeout(ctx, c.timeout)
		out, err := c.executor.Output(versionCtx, "", p.Name, flag)
		cancel()
		if err != nil {
			continue
		}
		first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
		if v := strings.TrimSpace(first); v != "" {
			return output.Truncate(v, maxVersionLength)
		}
	}
	return ""
}
