package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"syscall"
	"time"
)

// MockResponse is what a mocked command produces.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error

	// StartErr fails the call as if the binary could not be spawned.
	StartErr error

	// Delay is how long a started command runs before exiting on its own.
	Delay time.Duration

	// IgnoreTerm keeps a started command alive through SIGTERM.
	IgnoreTerm bool
}

// MockExitError is the error of a mocked command that exits non-zero or is
// signaled.
type MockExitError struct {
	Code   int
	Signal os.Signal
}

func (e *MockExitError) Error() string {
	if e.Signal != nil {
		return "signal: " + e.Signal.String()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode is -1 for a signaled process, like os.ProcessState.
func (e *MockExitError) ExitCode() int {
	if e.Signal != nil {
		return -1
	}
	return e.Code
}

// CommandMatcher reports whether a rule applies to a command.
type CommandMatcher func(dir, name string, args []string) bool

// MockRule pairs a matcher with its response.
type MockRule struct {
	Match    CommandMatcher
	Response MockResponse
}

// MockCall is one recorded invocation.
type MockCall struct {
	Dir  string
	Name string
	Args []string
}

// MockExecutor answers commands from registered rules, first match wins.
// Unmatched commands go to the fallback, or succeed with no output.
type MockExecutor struct {
	mu       sync.RWMutex
	rules    []MockRule
	calls    []MockCall
	handles  []*MockCommandHandle
	fallback CommandExecutor
}

// NewMockExecutor returns a MockExecutor. fallback may be nil.
func NewMockExecutor(fallback CommandExecutor) *MockExecutor {
	return &MockExecutor{fallback: fallback}
}

func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, MockRule{Match: match, Response: response})
}

// AddExactMatch matches name with exactly args.
func (e *MockExecutor) AddExactMatch(name string, args []string, response MockResponse) {
	e.AddRule(func(_, n string, a []string) bool {
		return n == name && slices.Equal(a, args)
	}, response)
}

// AddPrefixMatch matches name when its arguments start with prefix.
func (e *MockExecutor) AddPrefixMatch(name string, prefix []string, response MockResponse) {
	e.AddRule(func(_, n string, a []string) bool {
		return n == name && len(a) >= len(prefix) && slices.Equal(a[:len(prefix)], prefix)
	}, response)
}

// AddNameMatch matches every invocation of name.
func (e *MockExecutor) AddNameMatch(name string, response MockResponse) {
	e.AddRule(func(_, n string, _ []string) bool { return n == name }, response)
}

// GetCalls returns the recorded invocations in order.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.calls)
}

// GetHandles returns the handles created by Start in order.
func (e *MockExecutor) GetHandles() []*MockCommandHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.handles)
}

// lookup records the call and returns the first matching response.
func (e *MockExecutor) lookup(dir, name string, args []string) (MockResponse, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, MockCall{Dir: dir, Name: name, Args: slices.Clone(args)})
	for _, rule := range e.rules {
		if rule.Match(dir, name, args) {
			return rule.Response, true
		}
	}
	return MockResponse{}, false
}

func (e *MockExecutor) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	resp, ok := e.lookup(dir, name, args)
	if !ok && e.fallback != nil {
		return e.fallback.Output(ctx, dir, name, args...)
	}
	if resp.StartErr != nil {
		return nil, resp.StartErr
	}
	return resp.Stdout, resp.Err
}

// Start returns a handle that exits after the response's Delay, when ctx is
// done, or when signaled.
func (e *MockExecutor) Start(ctx context.Context, dir string, name string, args ...string) (CommandHandle, error) {
	resp, ok := e.lookup(dir, name, args)
	if !ok && e.fallback != nil {
		return e.fallback.Start(ctx, dir, name, args...)
	}
	if resp.StartErr != nil {
		return nil, resp.StartErr
	}

	h := newMockCommandHandle(ctx, resp)
	e.mu.Lock()
	e.handles = append(e.handles, h)
	e.mu.Unlock()
	return h, nil
}

// MockCommandHandle simulates a running process.
type MockCommandHandle struct {
	response MockResponse

	mu       sync.Mutex
	signals  []os.Signal
	exitErr  error
	exited   chan struct{}
	exitOnce sync.Once
}

func newMockCommandHandle(ctx context.Context, resp MockResponse) *MockCommandHandle {
	h := &MockCommandHandle{
		response: resp,
		exited:   make(chan struct{}),
	}
	go func() {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			h.exit(resp.Err)
		case <-ctx.Done():
			h.exit(&MockExitError{Signal: os.Kill})
		case <-h.exited:
		}
	}()
	return h
}

func (h *MockCommandHandle) exit(err error) {
	h.exitOnce.Do(func() {
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		close(h.exited)
	})
}

// Wait blocks until the process exits. A signaled process produces no output.
func (h *MockCommandHandle) Wait() ([]byte, []byte, error) {
	<-h.exited
	h.mu.Lock()
	defer h.mu.Unlock()
	var exitErr *MockExitError
	if errors.As(h.exitErr, &exitErr) && exitErr.Signal != nil {
		return nil, nil, h.exitErr
	}
	return h.response.Stdout, h.response.Stderr, h.exitErr
}

func (h *MockCommandHandle) record(sig os.Signal) {
	h.mu.Lock()
	h.signals = append(h.signals, sig)
	h.mu.Unlock()
}

// Signal ends the process unless it is SIGTERM and the response ignores it.
func (h *MockCommandHandle) Signal(sig os.Signal) error {
	h.record(sig)
	if sig == syscall.SIGTERM && h.response.IgnoreTerm {
		return nil
	}
	h.exit(&MockExitError{Signal: sig})
	return nil
}

func (h *MockCommandHandle) Kill() error {
	h.record(os.Kill)
	h.exit(&MockExitError{Signal: os.Kill})
	return nil
}

// Pid is a fixed fake.
func (h *MockCommandHandle) Pid() int { return 4242 }

// Signals returns the signals delivered so far, in order.
func (h *MockCommandHandle) Signals() []os.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.signals)
}

var (
	_ CommandExecutor = (*MockExecutor)(nil)
	_ CommandHandle   = (*MockCommandHandle)(nil)
	_ ExitCoder       = (*MockExitError)(nil)
)
