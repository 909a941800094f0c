package claude

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyPrompt is returned by Request.Validate for blank prompts.
var ErrEmptyPrompt = errors.New("prompt is required")

// Request describes one invocation of the Claude CLI. It is not modified
// after it has been submitted.
type Request struct {
	Prompt          string        // Required, non-empty after trimming
	ResumeSessionID string        // Claude session to continue, if any
	WorkingDir      string        // Process cwd; the runner's default when empty
	Timeout         time.Duration // Overrides the runner's execution timeout when > 0
	PlanMode        bool          // Stream output and collect the full transcript
}

// Validate checks that the request can be executed.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// FailureKind classifies why a Result is unsuccessful.
type FailureKind int

const (
	FailureNone         FailureKind = iota // Success
	FailureQueueFull                       // Rejected at submit time, queue at capacity
	FailureQueueTimeout                    // Waited too long in the queue, never started
	FailureSpawn                           // Process could not be started
	FailureTimeout                         // Execution deadline exceeded, process terminated
	FailureExit                            // Process exited non-zero
	FailureInternal                        // Unexpected fault while running
	FailureInvalid                         // Request failed validation
	FailureCanceled                        // Caller or queue shut down before completion
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureQueueFull:
		return "queue_full"
	case FailureQueueTimeout:
		return "queue_timeout"
	case FailureSpawn:
		return "spawn"
	case FailureTimeout:
		return "timeout"
	case FailureExit:
		return "exit"
	case FailureInternal:
		return "internal"
	case FailureInvalid:
		return "invalid"
	case FailureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the fully materialized outcome of a request. Callers never see
// partial output.
type Result struct {
	Success    bool
	Output     string      // Primary result text
	SessionID  string      // Claude session id for --resume, when reported
	Transcript string      // Assistant text from the whole run (plan mode only)
	Error      string      // Human-readable failure message
	Kind       FailureKind // FailureNone on success
}

// Failure builds an unsuccessful Result.
func Failure(kind FailureKind, msg string) Result {
	return Result{Kind: kind, Error: msg}
}
