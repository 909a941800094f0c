// Package store persists the session registry in SQLite so conversations
// survive a bot restart.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhubert/plural-bot/session"
)

const timeLayout = time.RFC3339Nano

// Store is a SQLite-backed snapshot of the session registry.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		thread_id         TEXT PRIMARY KEY,
		id                TEXT NOT NULL,
		created_at        TEXT NOT NULL,
		last_used_at      TEXT NOT NULL,
		working_dir       TEXT NOT NULL DEFAULT '',
		claude_session_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS pending_prompts (
		thread_id  TEXT PRIMARY KEY REFERENCES sessions(thread_id),
		prompt     TEXT NOT NULL,
		plan_mode  INTEGER NOT NULL DEFAULT 0,
		message_id TEXT NOT NULL DEFAULT '',
		channel_id TEXT NOT NULL DEFAULT '',
		user_id    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_last_used ON sessions(last_used_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSnapshot replaces the stored contents with snap in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap session.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_prompts`); err != nil {
		return fmt.Errorf("store: clear pending prompts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("store: clear sessions: %w", err)
	}

	for _, info := range snap.Sessions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (thread_id, id, created_at, last_used_at, working_dir, claude_session_id)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			info.ThreadID, info.ID, formatTime(info.CreatedAt), formatTime(info.LastUsedAt),
			info.WorkingDir, info.ClaudeSessionID,
		)
		if err != nil {
			return fmt.Errorf("store: insert session %s: %w", info.ThreadID, err)
		}
	}

	for _, p := range snap.PendingPrompts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO pending_prompts (thread_id, prompt, plan_mode, message_id, channel_id, user_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ThreadID, p.Prompt, p.PlanMode, p.MessageID, p.ChannelID, p.UserID, formatTime(p.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("store: insert pending prompt %s: %w", p.ThreadID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// LoadSnapshot reads the stored contents. Sessions are ordered by thread ID.
func (s *Store) LoadSnapshot(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot

	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, id, created_at, last_used_at, working_dir, claude_session_id
		 FROM sessions ORDER BY thread_id`)
	if err != nil {
		return snap, fmt.Errorf("store: query sessions: %w", err)
	}
	for rows.Next() {
		var info session.Info
		var createdAt, lastUsedAt string
		if err := rows.Scan(&info.ThreadID, &info.ID, &createdAt, &lastUsedAt, &info.WorkingDir, &info.ClaudeSessionID); err != nil {
			rows.Close()
			return snap, fmt.Errorf("store: scan session: %w", err)
		}
		if info.CreatedAt, err = parseTime(createdAt); err != nil {
			rows.Close()
			return snap, err
		}
		if info.LastUsedAt, err = parseTime(lastUsedAt); err != nil {
			rows.Close()
			return snap, err
		}
		snap.Sessions = append(snap.Sessions, info)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return snap, fmt.Errorf("store: read sessions: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT thread_id, prompt, plan_mode, message_id, channel_id, user_id, created_at
		 FROM pending_prompts ORDER BY thread_id`)
	if err != nil {
		return snap, fmt.Errorf("store: query pending prompts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p session.PendingPrompt
		var createdAt string
		if err := rows.Scan(&p.ThreadID, &p.Prompt, &p.PlanMode, &p.MessageID, &p.ChannelID, &p.UserID, &createdAt); err != nil {
			return snap, fmt.Errorf("store: scan pending prompt: %w", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return snap, err
		}
		snap.PendingPrompts = append(snap.PendingPrompts, p)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("store: read pending prompts: %w", err)
	}
	return snap, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: bad timestamp %q: %w", s, err)
	}
	return t, nil
}
