// Package session tracks per-conversation state for the bot.
//
// # Overview
//
// A conversation is identified by its thread ID: the chat thread the message
// was posted in, or the channel when the platform has no thread. For each
// thread the Registry keeps:
//
//   - an internal session ID (a UUID generated on first use)
//   - creation and last-used timestamps
//   - the project directory Claude runs in
//   - the Claude CLI session ID used with --resume
//   - at most one pending prompt, waiting for a project to be chosen
//
// # Lifecycle
//
// Sessions are created lazily by GetOrCreate and by anything that stores
// state for a thread. Every touch refreshes LastUsedAt. Reset drops the
// Claude session ID (and everything else except the pending prompt) so
// conversation context never follows the user into another project.
//
// Cleanup removes sessions idle for longer than the max age, together with
// their pending prompts. RunSweeper calls it periodically:
//
//	reg := session.NewRegistry()
//	go reg.RunSweeper(ctx, time.Hour, 24*time.Hour, nil)
//
// # Persistence
//
// The Registry is in-memory. Snapshot and Restore let the store package save
// it across restarts.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Returned values are
// copies; mutating them does not affect the registry.
package session
