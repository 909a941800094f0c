package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-bot/auth"
	"github.com/zhubert/plural-bot/bot"
	"github.com/zhubert/plural-bot/claude"
	"github.com/zhubert/plural-bot/cli"
	"github.com/zhubert/plural-bot/config"
	"github.com/zhubert/plural-bot/discord"
	pexec "github.com/zhubert/plural-bot/exec"
	"github.com/zhubert/plural-bot/git"
	"github.com/zhubert/plural-bot/logger"
	"github.com/zhubert/plural-bot/projects"
	"github.com/zhubert/plural-bot/queue"
	"github.com/zhubert/plural-bot/session"
	"github.com/zhubert/plural-bot/store"
)

// saveTimeout bounds the final session snapshot written on shutdown.
const saveTimeout = 10 * time.Second

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			foreground, _ := cmd.Flags().GetBool("foreground-log")
			if err := initLogging(cmd, foreground); err != nil {
				return err
			}
			defer logger.Close()

			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			if err := applyLogLevel(cmd, cfg); err != nil {
				return err
			}
			logger.Get().Info("config loaded", "path", cfg.FilePath(), "logs", logger.Path())

			ex := pexec.NewRealExecutor()
			if err := cli.NewChecker(ex).ValidateRequired(cli.DefaultPrerequisites(cfg.Claude.Binary)); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, ex)
		},
	}

	cmd.Flags().Bool("foreground-log", false, "Log to stderr instead of the log file")
	return cmd
}

// app is the wired bot, minus the Discord connection.
type app struct {
	cfg      *config.Config
	store    *store.Store
	sessions *session.Registry
	queue    *queue.Queue
	orch     *bot.Orchestrator
	log      *slog.Logger

	saveMu sync.Mutex // Orders snapshots so an older one never lands last
}

// newApp restores persisted sessions and builds the request pipeline.
func newApp(ctx context.Context, cfg *config.Config, ex pexec.CommandExecutor) (*app, error) {
	log := logger.WithComponent("main")

	scanner, err := projects.NewScanner(cfg.Projects.BaseDir, cfg.Projects.AllowList, cfg.Projects.DenyList)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Sessions.DBPath)
	if err != nil {
		return nil, err
	}

	sessions := session.NewRegistry()
	snap, err := st.LoadSnapshot(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	sessions.Restore(snap)
	expired := sessions.Cleanup(cfg.Sessions.MaxAge)
	log.Info("sessions restored", "count", sessions.Len(), "expired", expired, "db", cfg.Sessions.DBPath)

	runner := claude.NewRunner(ex, claude.RunnerOptions{
		Binary:     cfg.Claude.Binary,
		WorkingDir: cfg.Claude.WorkingDir,
		Timeout:    cfg.Claude.Timeout,
		KillGrace:  cfg.Claude.KillGrace,
	})
	q := queue.New(runner, queue.Options{
		Capacity:    cfg.Queue.MaxSize,
		WaitTimeout: cfg.Queue.Timeout,
	})

	a := &app{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		queue:    q,
		log:      log,
	}
	a.orch = bot.New(bot.Config{
		Executor: q,
		Sessions: sessions,
		Projects: scanner,
		Auth:     auth.NewAllowlist(cfg.Discord.AllowedUserIDs),
		Repos:    git.NewServiceWithExecutor(ex),

		// Save as soon as a conversation gets a Claude session so that
		// `cleanup` run alongside the bot sees it.
		OnClaudeSession: func(ctx context.Context, threadID string) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
			defer cancel()
			a.saveSessions(ctx)
		},
	})
	return a, nil
}

// saveSessions persists the registry. Failures are logged; the in-memory
// registry stays authoritative.
func (a *app) saveSessions(ctx context.Context) {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	if err := a.store.SaveSnapshot(ctx, a.sessions.Snapshot()); err != nil {
		a.log.Error("failed to save sessions", "error", err)
	}
}

// sweep runs the session sweeper until ctx is done, saving after each pass.
func (a *app) sweep(ctx context.Context) {
	a.sessions.RunSweeper(ctx, a.cfg.Sessions.CleanupInterval, a.cfg.Sessions.MaxAge, func(removed int) {
		if removed > 0 {
			a.log.Info("expired idle sessions", "count", removed)
		}
		a.saveSessions(ctx)
	})
}

// close stops the queue, then writes a final snapshot and closes the store.
// The queue must stop first so no run records a session after the save.
func (a *app) close() error {
	a.queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	a.saveSessions(ctx)

	return a.store.Close()
}

// serve runs the bot until ctx is canceled.
func serve(ctx context.Context, cfg *config.Config, ex pexec.CommandExecutor) error {
	a, err := newApp(ctx, cfg, ex)
	if err != nil {
		return err
	}

	gw, err := discord.New(cfg.Discord.Token, a.orch)
	if err != nil {
		a.close()
		return err
	}
	if err := gw.Open(ctx); err != nil {
		a.close()
		return err
	}
	a.log.Info("bot started", "projects", cfg.Projects.BaseDir, "queueSize", cfg.Queue.MaxSize)

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		a.sweep(ctx)
	}()

	<-ctx.Done()
	a.log.Info("shutting down")

	// Fail queued work first so handlers blocked in Submit return promptly
	a.queue.Close()
	if err := gw.Close(); err != nil {
		a.log.Warn("error closing discord session", "error", err)
	}
	<-sweepDone

	if err := a.close(); err != nil {
		return fmt.Errorf("failed to close session store: %w", err)
	}
	a.log.Info("shutdown complete")
	return nil
}
