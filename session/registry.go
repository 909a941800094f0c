package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/plural-bot/logger"
)

const (
	DefaultMaxAge        = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Info is the state kept for one conversation thread.
type Info struct {
	ID              string    // Internal session ID, generated once
	ThreadID        string    // Registry key
	CreatedAt       time.Time // When the session was created
	LastUsedAt      time.Time // Refreshed on every touch
	WorkingDir      string    // Selected project directory, empty until chosen
	ClaudeSessionID string    // Claude CLI session for --resume, empty until known

	generation int // Bumped when the Claude conversation is discarded; not persisted
}

// PendingPrompt is a prompt deferred until the user picks a project.
type PendingPrompt struct {
	ThreadID  string
	Prompt    string
	PlanMode  bool   // Run in plan mode once released
	MessageID string // Message to reply to
	ChannelID string // Channel the message was posted in
	UserID    string // Author of the message
	CreatedAt time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithIDGenerator replaces the UUID generator for internal session IDs.
func WithIDGenerator(newID func() string) Option {
	return func(r *Registry) {
		r.newID = newID
	}
}

// Registry maps thread IDs to session state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Info
	pending  map[string]PendingPrompt

	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Info),
		pending:  make(map[string]PendingPrompt),
		now:      time.Now,
		newID:    uuid.NewString,
		log:      logger.WithComponent("session"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// getOrCreate returns the session for threadID, creating it if needed.
// Caller must hold mu.
func (r *Registry) getOrCreate(threadID string) *Info {
	now := r.now()
	if info, ok := r.sessions[threadID]; ok {
		info.LastUsedAt = now
		return info
	}

	info := &Info{
		ID:         r.newID(),
		ThreadID:   threadID,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	r.sessions[threadID] = info
	r.log.Info("created session", "threadID", threadID, "sessionID", info.ID)
	return info
}

// GetOrCreate returns the session for threadID, creating one with a fresh
// internal ID if none exists. Either way LastUsedAt is refreshed.
func (r *Registry) GetOrCreate(threadID string) Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.getOrCreate(threadID)
}

// Get returns the session for threadID without touching it.
func (r *Registry) Get(threadID string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.sessions[threadID]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Delete removes the session and any pending prompt for threadID.
// Returns false if there was no session.
func (r *Registry) Delete(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[threadID]
	delete(r.sessions, threadID)
	delete(r.pending, threadID)
	if ok {
		r.log.Info("deleted session", "threadID", threadID)
	}
	return ok
}

// WorkingDir returns the project directory for threadID, or "" if unset.
func (r *Registry) WorkingDir(threadID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[threadID]; ok {
		return info.WorkingDir
	}
	return ""
}

// HasWorkingDir reports whether a project has been chosen for threadID.
func (r *Registry) HasWorkingDir(threadID string) bool {
	return r.WorkingDir(threadID) != ""
}

// SetWorkingDir records the project directory for threadID.
func (r *Registry) SetWorkingDir(threadID, dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreate(threadID).WorkingDir = dir
	r.log.Info("set working directory", "threadID", threadID, "workingDir", dir)
}

// SetClaudeSessionID records the Claude CLI session to resume for threadID.
func (r *Registry) SetClaudeSessionID(threadID, claudeSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreate(threadID).ClaudeSessionID = claudeSessionID
	r.log.Debug("set Claude session ID", "threadID", threadID, "claudeSessionID", claudeSessionID)
}

// RecordClaudeSession stores claudeSessionID for the thread of from, but only
// if that session has not been reset or forgotten since from was read. A run
// that finishes after the user switched projects or sent /reset must not
// bring its conversation back. Reports whether the ID was stored.
func (r *Registry) RecordClaudeSession(from Info, claudeSessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.sessions[from.ThreadID]
	if !ok || info.ID != from.ID || info.generation != from.generation {
		r.log.Info("dropped Claude session from a discarded conversation",
			"threadID", from.ThreadID, "claudeSessionID", claudeSessionID)
		return false
	}
	info.ClaudeSessionID = claudeSessionID
	info.LastUsedAt = r.now()
	r.log.Debug("recorded Claude session ID", "threadID", from.ThreadID, "claudeSessionID", claudeSessionID)
	return true
}

// ClaudeSessionID returns the Claude CLI session for threadID, or "" if none.
func (r *Registry) ClaudeSessionID(threadID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[threadID]; ok {
		return info.ClaudeSessionID
	}
	return ""
}

// Reset replaces the session for threadID with a fresh one, discarding the
// working directory and Claude session ID. A pending prompt is kept.
func (r *Registry) Reset(threadID string) Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, threadID)
	info := r.getOrCreate(threadID)
	r.log.Info("reset session", "threadID", threadID, "sessionID", info.ID)
	return *info
}

// ForgetClaudeSession clears the Claude session ID but keeps the project,
// so the next prompt starts a new conversation in the same directory.
func (r *Registry) ForgetClaudeSession(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[threadID]; ok {
		info.ClaudeSessionID = ""
		info.generation++
		info.LastUsedAt = r.now()
	}
}

// SetPendingPrompt stores p as the pending prompt for its thread, replacing
// any previous one. The session is created if needed so the prompt is
// always covered by session cleanup.
func (r *Registry) SetPendingPrompt(p PendingPrompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreate(p.ThreadID)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	r.pending[p.ThreadID] = p
	r.log.Debug("stored pending prompt", "threadID", p.ThreadID, "messageID", p.MessageID)
}

// PendingPrompt returns the pending prompt for threadID without removing it.
func (r *Registry) PendingPrompt(threadID string) (PendingPrompt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[threadID]
	return p, ok
}

// ConsumePendingPrompt returns and removes the pending prompt for threadID.
// A prompt is returned at most once.
func (r *Registry) ConsumePendingPrompt(threadID string) (PendingPrompt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[threadID]
	if ok {
		delete(r.pending, threadID)
		r.log.Debug("consumed pending prompt", "threadID", threadID)
	}
	return p, ok
}

// Cleanup removes every session idle for longer than maxAge, along with its
// pending prompt, and returns how many sessions were removed.
func (r *Registry) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cleaned := 0
	for threadID, info := range r.sessions {
		if now.Sub(info.LastUsedAt) > maxAge {
			delete(r.sessions, threadID)
			delete(r.pending, threadID)
			cleaned++
		}
	}
	// Prompts can't outlive their session
	for threadID := range r.pending {
		if _, ok := r.sessions[threadID]; !ok {
			delete(r.pending, threadID)
		}
	}

	if cleaned > 0 {
		r.log.Info("cleaned up old sessions", "cleaned", cleaned, "remaining", len(r.sessions))
	}
	return cleaned
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RunSweeper calls Cleanup every interval until ctx is done. onSweep, if
// non-nil, is called after each sweep with the number of sessions removed.
func (r *Registry) RunSweeper(ctx context.Context, interval, maxAge time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Debug("session sweeper started", "interval", interval, "maxAge", maxAge)
	for {
		select {
		case <-ctx.Done():
			r.log.Debug("session sweeper stopped")
			return
		case <-ticker.C:
			removed := r.Cleanup(maxAge)
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}

// Snapshot is a point-in-time copy of the registry contents.
type Snapshot struct {
	Sessions       []Info
	PendingPrompts []PendingPrompt
}

// Snapshot copies the current registry contents.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Sessions:       make([]Info, 0, len(r.sessions)),
		PendingPrompts: make([]PendingPrompt, 0, len(r.pending)),
	}
	for _, info := range r.sessions {
		snap.Sessions = append(snap.Sessions, *info)
	}
	for _, p := range r.pending {
		snap.PendingPrompts = append(snap.PendingPrompts, p)
	}
	return snap
}

// Restore replaces the registry contents with snap. Pending prompts whose
// session is missing from snap are dropped.
func (r *Registry) Restore(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[string]*Info, len(snap.Sessions))
	r.pending = make(map[string]PendingPrompt, len(snap.PendingPrompts))
	for _, info := range snap.Sessions {
		r.sessions[info.ThreadID] = &info
	}
	dropped := 0
	for _, p := range snap.PendingPrompts {
		if _, ok := r.sessions[p.ThreadID]; !ok {
			dropped++
			continue
		}
		r.pending[p.ThreadID] = p
	}

	r.log.Info("restored sessions", "sessions", len(r.sessions), "pendingPrompts", len(r.pending), "dropped", dropped)
}
