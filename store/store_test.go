package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhubert/plural-bot/logger"
	"github.com/zhubert/plural-bot/session"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "sessions.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testSnapshot() session.Snapshot {
	created := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC)
	return session.Snapshot{
		Sessions: []session.Info{
			{
				ID:              "s-a",
				ThreadID:        "thread-a",
				CreatedAt:       created,
				LastUsedAt:      created.Add(time.Hour),
				WorkingDir:      "/srv/api",
				ClaudeSessionID: "claude-a",
			},
			{
				ID:         "s-b",
				ThreadID:   "thread-b",
				CreatedAt:  created,
				LastUsedAt: created,
			},
		},
		PendingPrompts: []session.PendingPrompt{
			{
				ThreadID:  "thread-b",
				Prompt:    "add tests",
				PlanMode:  true,
				MessageID: "m1",
				ChannelID: "c1",
				UserID:    "u1",
				CreatedAt: created,
			},
		},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	want := testSnapshot()

	if err := s.SaveSnapshot(ctx, want); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	if len(got.Sessions) != 2 || len(got.PendingPrompts) != 1 {
		t.Fatalf("loaded %+v", got)
	}
	for i, info := range want.Sessions {
		g := got.Sessions[i]
		if g.ID != info.ID || g.ThreadID != info.ThreadID || g.WorkingDir != info.WorkingDir || g.ClaudeSessionID != info.ClaudeSessionID {
			t.Errorf("session %d = %+v, want %+v", i, g, info)
		}
		if !g.CreatedAt.Equal(info.CreatedAt) || !g.LastUsedAt.Equal(info.LastUsedAt) {
			t.Errorf("session %d timestamps = %v/%v, want %v/%v", i, g.CreatedAt, g.LastUsedAt, info.CreatedAt, info.LastUsedAt)
		}
	}

	p := got.PendingPrompts[0]
	wp := want.PendingPrompts[0]
	if p.ThreadID != wp.ThreadID || p.Prompt != wp.Prompt || !p.PlanMode || p.MessageID != "m1" || p.ChannelID != "c1" || p.UserID != "u1" {
		t.Errorf("pending prompt = %+v", p)
	}
	if !p.CreatedAt.Equal(wp.CreatedAt) {
		t.Errorf("pending CreatedAt = %v, want %v", p.CreatedAt, wp.CreatedAt)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSnapshot(ctx, session.Snapshot{}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Sessions) != 0 || len(got.PendingPrompts) != 0 {
		t.Errorf("expected empty snapshot, got %+v", got)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	if err := s.SaveSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Sessions) != 2 {
		t.Errorf("sessions after reopen = %d, want 2", len(got.Sessions))
	}
}

func TestStore_RestoreIntoRegistry(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	src := session.NewRegistry()
	src.SetWorkingDir("t1", "/srv/web")
	src.SetClaudeSessionID("t1", "claude-1")
	src.SetPendingPrompt(session.PendingPrompt{ThreadID: "t2", Prompt: "later", MessageID: "m"})

	if err := s.SaveSnapshot(ctx, src.Snapshot()); err != nil {
		t.Fatal(err)
	}
	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	dst := session.NewRegistry()
	dst.Restore(snap)
	if dst.WorkingDir("t1") != "/srv/web" || dst.ClaudeSessionID("t1") != "claude-1" {
		t.Error("t1 not restored")
	}
	if p, ok := dst.ConsumePendingPrompt("t2"); !ok || p.Prompt != "later" {
		t.Error("t2 pending prompt not restored")
	}
}

func TestStore_CanceledContext(t *testing.T) {
	s, _ := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.SaveSnapshot(ctx, testSnapshot()); err == nil {
		t.Error("expected error with canceled context")
	}
}
