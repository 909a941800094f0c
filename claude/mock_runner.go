package claude

import (
	"context"
	"sync"
)

// MockRunner is a test double for Runner that doesn't spawn processes.
// Results queued with QueueResult are returned in order; once they run out
// the default result is returned. A Handler, if set, takes precedence.
//
// NOTE: This file is used by tests in the queue and bot packages.
type MockRunner struct {
	mu sync.Mutex

	results       []Result
	defaultResult Result
	requests      []Request

	// Handler replaces the scripted results when non-nil.
	Handler func(ctx context.Context, req Request) Result
}

// NewMockRunner returns a MockRunner whose default result is a success with
// output "ok".
func NewMockRunner() *MockRunner {
	return &MockRunner{
		defaultResult: Result{Success: true, Output: "ok"},
	}
}

// QueueResult appends a result to return from a future Run call.
func (m *MockRunner) QueueResult(r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
}

// Run records req and returns the next scripted result.
func (m *MockRunner) Run(ctx context.Context, req Request) Result {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.results) > 0 {
		result := m.results[0]
		m.results = m.results[1:]
		return result
	}
	return m.defaultResult
}

// Requests returns a copy of every request passed to Run, in call order.
func (m *MockRunner) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns how many times Run was called.
func (m *MockRunner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
