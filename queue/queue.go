// Package queue serializes Claude CLI executions. At most one request runs at
// a time; the rest wait in FIFO order, bounded in count and in wait time.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/zhubert/plural-bot/claude"
	"github.com/zhubert/plural-bot/logger"
)

const (
	DefaultCapacity    = 5
	DefaultWaitTimeout = 3 * time.Minute
)

// Runner executes a single request. *claude.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, req claude.Request) claude.Result
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req claude.Request) claude.Result

// Run calls f(ctx, req).
func (f RunnerFunc) Run(ctx context.Context, req claude.Request) claude.Result {
	return f(ctx, req)
}

// Options configures a Queue.
type Options struct {
	Capacity    int           // Max waiting entries, not counting the running one
	WaitTimeout time.Duration // Max time an entry waits before it is dropped
}

// entry is a submitted request waiting for, or undergoing, execution.
// Whichever path removes it from Queue.waiting under the lock (dequeue,
// wait timeout, caller cancellation) is the only one allowed to resolve it.
type entry struct {
	req   claude.Request
	done  chan claude.Result // buffered, receives exactly one result
	timer *time.Timer
}

// Queue is a single-flight FIFO execution queue. Create one with New and
// share it across all callers; the zero value is not usable.
type Queue struct {
	runner      Runner
	capacity    int
	waitTimeout time.Duration
	log         *slog.Logger

	mu      sync.Mutex
	waiting []*entry
	running bool
	closed  bool

	ctx    context.Context // passed to the runner, canceled by Close
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Queue that executes requests with runner.
func New(runner Runner, opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		runner:      runner,
		capacity:    opts.Capacity,
		waitTimeout: opts.WaitTimeout,
		log:         logger.WithComponent("queue"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SubmitOption customizes a single Submit call.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	onQueued func(position int)
}

// WithQueuedCallback registers fn to be called, before Submit blocks, when the
// request has to wait behind others. position is 1 for the head of the queue.
func WithQueuedCallback(fn func(position int)) SubmitOption {
	return func(c *submitConfig) {
		c.onQueued = fn
	}
}

// Submit runs req when its turn comes and returns the result. It blocks the
// calling goroutine until then.
//
// Canceling ctx while the request is still waiting removes it from the queue
// and returns a FailureCanceled result. Once the request has started, ctx is
// ignored; the run ends on its own timeout or when the queue is closed.
func (q *Queue) Submit(ctx context.Context, req claude.Request, opts ...SubmitOption) claude.Result {
	var cfg submitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := req.Validate(); err != nil {
		return claude.Failure(claude.FailureInvalid, err.Error())
	}

	e := &entry{req: req, done: make(chan claude.Result, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return claude.Failure(claude.FailureCanceled, "the bot is shutting down; please try again later")
	}

	if !q.running {
		q.running = true
		q.wg.Add(1)
		q.mu.Unlock()
		q.log.Debug("queue idle, executing immediately")
		go q.drain(e)
	} else {
		if len(q.waiting) >= q.capacity {
			waiting := len(q.waiting)
			q.mu.Unlock()
			q.log.Warn("queue full, rejecting request", "waiting", waiting, "capacity", q.capacity)
			return claude.Failure(claude.FailureQueueFull,
				fmt.Sprintf("the server is busy (%d requests waiting); please try again later", waiting))
		}
		q.waiting = append(q.waiting, e)
		position := len(q.waiting)
		e.timer = time.AfterFunc(q.waitTimeout, func() { q.expire(e) })
		q.mu.Unlock()

		q.log.Info("request queued", "position", position, "waitTimeout", q.waitTimeout)
		if cfg.onQueued != nil {
			cfg.onQueued(position)
		}
	}

	select {
	case result := <-e.done:
		return result
	case <-ctx.Done():
		if q.remove(e) {
			q.log.Info("queued request canceled by caller", "error", ctx.Err())
			return claude.Failure(claude.FailureCanceled, "request canceled while waiting in the queue")
		}
		// Already running or resolved; its result is on the way.
		return <-e.done
	}
}

// drain runs e and then every entry that is waiting when it finishes.
func (q *Queue) drain(e *entry) {
	defer q.wg.Done()
	for e != nil {
		e.done <- q.execute(e)
		e = q.next()
	}
}

// next pops the head of the queue, or marks the queue idle if it is empty.
// Both happen under the same lock Submit uses to decide whether to start a
// drain, so an entry can never be left waiting with nothing running.
func (q *Queue) next() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiting) == 0 {
		q.running = false
		return nil
	}

	e := q.waiting[0]
	q.waiting[0] = nil
	q.waiting = q.waiting[1:]
	// A timer that already fired will find the entry gone in expire
	e.timer.Stop()

	q.log.Debug("dequeued next request", "remaining", len(q.waiting))
	return e
}

// execute runs one entry, converting a panic in the runner into a failure.
func (q *Queue) execute(e *entry) (result claude.Result) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("panic while executing request", "panic", r, "stack", string(debug.Stack()))
			result = claude.Failure(claude.FailureInternal, "an internal error occurred while running the request")
		}
	}()
	return q.runner.Run(q.ctx, e.req)
}

// expire resolves a waiting entry whose wait timer fired.
func (q *Queue) expire(e *entry) {
	if !q.remove(e) {
		return
	}
	q.log.Warn("queued request timed out", "waitTimeout", q.waitTimeout)
	e.done <- claude.Failure(claude.FailureQueueTimeout,
		fmt.Sprintf("request waited more than %s in the queue; please try again", q.waitTimeout))
}

// remove takes e out of the waiting list. It reports false if e was no longer
// waiting, meaning another path already owns it.
func (q *Queue) remove(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.Index(q.waiting, e)
	if i < 0 {
		return false
	}
	q.waiting = slices.Delete(q.waiting, i, i+1)
	e.timer.Stop()
	return true
}

// Len returns the number of waiting requests, excluding the running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Running reports whether a request is executing.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Capacity returns the maximum number of waiting requests.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Close rejects new submissions, fails every waiting request, cancels the
// running one and waits for it to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	waiting := q.waiting
	q.waiting = nil
	for _, e := range waiting {
		e.timer.Stop()
	}
	q.mu.Unlock()

	for _, e := range waiting {
		e.done <- claude.Failure(claude.FailureCanceled, "the bot is shutting down; please try again later")
	}
	if len(waiting) > 0 {
		q.log.Info("canceled waiting requests on shutdown", "count", len(waiting))
	}

	q.cancel()
	q.wg.Wait()
}
