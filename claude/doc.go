// Package claude runs the Claude Code CLI as a one-shot subprocess and
// decodes its output into a Result.
//
// # Runner
//
// Each call to Runner.Run starts exactly one process:
//
//	runner := claude.NewRunner(exec.NewRealExecutor(), claude.RunnerOptions{
//	    WorkingDir: "/srv/projects/api",
//	    Timeout:    5 * time.Minute,
//	})
//	result := runner.Run(ctx, claude.Request{Prompt: "fix the failing test"})
//	if !result.Success {
//	    // result.Kind says why; result.Error is user-facing
//	}
//
// The command line is
//
//	claude --print --output-format json --dangerously-skip-permissions [--resume <id>] <prompt>
//
// with --output-format stream-json --verbose in plan mode. Arguments are
// passed as a vector; no shell is involved.
//
// # Output Modes
//
// In the default mode stdout is a single JSON object with result and
// session_id fields. Output that is not valid JSON is returned as-is.
//
// In plan mode stdout is newline-delimited JSON. Assistant text blocks are
// joined with TranscriptSeparator into Result.Transcript, and the last
// result event supplies Output and SessionID. Lines that don't decode are
// skipped.
//
// # Termination
//
// When the execution timeout passes the process gets SIGTERM, then SIGKILL
// after the kill grace period. A run that hit its deadline always reports
// FailureTimeout and never returns the partial output.
//
// # Failures
//
// Run never returns an error value. Every failure is a Result with
// Success=false and a FailureKind. The queue package adds the
// queue-specific kinds (FailureQueueFull, FailureQueueTimeout).
package claude
