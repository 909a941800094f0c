package cli

import (
	"context"
	"errors"
	"strings"
	"testing"

	pexec "github.com/zhubert/plural-bot/exec"
)

func newTestChecker(found map[string]string, mock *pexec.MockExecutor) *Checker {
	c := NewChecker(mock)
	c.lookPath = func(name string) (string, error) {
		if p, ok := found[name]; ok {
			return p, nil
		}
		return "", errors.New("executable file not found in $PATH")
	}
	return c
}

func TestDefaultPrerequisites(t *testing.T) {
	tests := []struct {
		name       string
		binary     string
		wantClaude string
	}{
		{"default binary", "", "claude"},
		{"configured binary", "/opt/claude/bin/claude", "/opt/claude/bin/claude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prereqs := DefaultPrerequisites(tt.binary)
			if len(prereqs) != 3 {
				t.Fatalf("expected 3 prerequisites, got %d", len(prereqs))
			}
			if prereqs[0].Name != tt.wantClaude || !prereqs[0].Required {
				t.Errorf("claude prerequisite = %+v", prereqs[0])
			}
			if prereqs[1].Name != "git" || prereqs[1].Required {
				t.Errorf("git should be optional, got %+v", prereqs[1])
			}
			if prereqs[2].Name != "pgrep" || prereqs[2].Required {
				t.Errorf("pgrep should be optional, got %+v", prereqs[2])
			}
		})
	}
}

func TestCheck_Found(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	mock.AddExactMatch("claude", []string{"--version"}, pexec.MockResponse{
		Stdout: []byte("1.0.42 (Claude Code)\nextra line\n"),
	})
	c := newTestChecker(map[string]string{"claude": "/usr/local/bin/claude"}, mock)

	result := c.Check(context.Background(), Prerequisite{Name: "claude", Required: true})
	if !result.Found || result.Error != nil {
		t.Fatalf("expected found, got %+v", result)
	}
	if result.Path != "/usr/local/bin/claude" {
		t.Errorf("Path = %q", result.Path)
	}
	if result.Version != "1.0.42 (Claude Code)" {
		t.Errorf("Version = %q", result.Version)
	}
}

func TestCheck_VersionFlagFallback(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	mock.AddExactMatch("pgrep", []string{"--version"}, pexec.MockResponse{Err: &pexec.MockExitError{Code: 2}})
	mock.AddExactMatch("pgrep", []string{"-V"}, pexec.MockResponse{Stdout: []byte("pgrep from procps-ng 4.0.4\n")})
	c := newTestChecker(map[string]string{"pgrep": "/usr/bin/pgrep"}, mock)

	result := c.Check(context.Background(), Prerequisite{Name: "pgrep"})
	if result.Version != "pgrep from procps-ng 4.0.4" {
		t.Errorf("Version = %q", result.Version)
	}
}

func TestCheck_LongVersionTruncated(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	mock.AddNameMatch("tool", pexec.MockResponse{Stdout: []byte(strings.Repeat("v", 150))})
	c := newTestChecker(map[string]string{"tool": "/bin/tool"}, mock)

	result := c.Check(context.Background(), Prerequisite{Name: "tool"})
	if len(result.Version) != maxVersionLength || !strings.HasSuffix(result.Version, "...") {
		t.Errorf("expected truncated version, got %d chars", len(result.Version))
	}
}

func TestCheck_NotFound(t *testing.T) {
	c := newTestChecker(nil, pexec.NewMockExecutor(nil))

	result := c.Check(context.Background(), Prerequisite{Name: "claude", Required: true})
	if result.Found {
		t.Error("expected not found")
	}
	if result.Error == nil || !strings.Contains(result.Error.Error(), "not found in PATH") {
		t.Errorf("unexpected error %v", result.Error)
	}
}

func TestValidateRequired(t *testing.T) {
	prereqs := DefaultPrerequisites("")

	tests := []struct {
		name    string
		found   map[string]string
		wantErr bool
	}{
		{"all present", map[string]string{"claude": "/bin/claude", "pgrep": "/bin/pgrep"}, false},
		{"optional missing", map[string]string{"claude": "/bin/claude"}, false},
		{"required missing", map[string]string{"pgrep": "/bin/pgrep"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChecker(tt.found, pexec.NewMockExecutor(nil))
			err := c.ValidateRequired(prereqs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRequired() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "https://claude.ai/code") {
				t.Errorf("error should include install URL: %v", err)
			}
		})
	}
}

func TestCheckAll_KeepsOrder(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	mock.AddExactMatch("claude", []string{"--version"}, pexec.MockResponse{Stdout: []byte("1.0.0\n")})
	mock.AddExactMatch("git", []string{"--version"}, pexec.MockResponse{Stdout: []byte("git version 2.45.0\n")})
	c := newTestChecker(map[string]string{"claude": "/bin/claude", "git": "/usr/bin/git"}, mock)

	report := c.CheckAll(context.Background(), DefaultPrerequisites(""))
	if len(report) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report))
	}
	for i, name := range []string{"claude", "git", "pgrep"} {
		if report[i].Prerequisite.Name != name {
			t.Errorf("report[%d] = %s, want %s", i, report[i].Prerequisite.Name, name)
		}
	}
	if report[1].Version != "git version 2.45.0" {
		t.Errorf("git version = %q", report[1].Version)
	}
	if report[2].Found {
		t.Error("pgrep should not be found")
	}
	if err := report.Err(); err != nil {
		t.Errorf("only optional tools missing, got %v", err)
	}
}

func TestReport_Err(t *testing.T) {
	report := Report{
		{Prerequisite: Prerequisite{Name: "claude", Required: true, InstallURL: "https://claude.ai/code"}},
		{Prerequisite: Prerequisite{Name: "pgrep"}},
	}

	missing := report.MissingRequired()
	if len(missing) != 1 || missing[0].Name != "claude" {
		t.Fatalf("MissingRequired() = %+v", missing)
	}
	err := report.Err()
	if err == nil || !strings.Contains(err.Error(), "https://claude.ai/code") {
		t.Errorf("Err() = %v", err)
	}
}

func TestReport_String(t *testing.T) {
	report := Report{
		{Prerequisite: Prerequisite{Name: "claude", Required: true}, Found: true, Version: "1.0.0"},
		{Prerequisite: Prerequisite{Name: "git"}, Found: true},
		{Prerequisite: Prerequisite{Name: "missing-req", Required: true}},
		{Prerequisite: Prerequisite{Name: "pgrep"}},
	}

	out := report.String()
	for _, want := range []string{
		"CLI Prerequisites:",
		"✓ claude (1.0.0)",
		"✓ git\n",
		"✗ missing-req [REQUIRED]",
		"○ pgrep [optional]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
