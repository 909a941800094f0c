package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-bot/cli"
	"github.com/zhubert/plural-bot/config"
	pexec "github.com/zhubert/plural-bot/exec"
	"github.com/zhubert/plural-bot/logger"
	"github.com/zhubert/plural-bot/output"
	"github.com/zhubert/plural-bot/paths"
	"github.com/zhubert/plural-bot/process"
	"github.com/zhubert/plural-bot/projects"
	"github.com/zhubert/plural-bot/store"
)

// executor runs external commands for the CLI. Tests swap it for a mock.
var executor pexec.CommandExecutor = pexec.NewRealExecutor()

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that required CLI tools are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogging(cmd, false); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}

			report := cli.NewChecker(executor).CheckAll(cmd.Context(), cli.DefaultPrerequisites(cfg.Claude.Binary))
			out := cmd.OutOrStdout()
			fmt.Fprint(out, report)

			layout, err := paths.Current()
			if err != nil {
				return err
			}
			kind := "XDG"
			if layout.Flat {
				kind = "flat"
			}
			fmt.Fprintf(out, "\nPaths (%s layout):\n", kind)
			fmt.Fprintf(out, "  config:   %s\n", cfg.FilePath())
			fmt.Fprintf(out, "  sessions: %s\n", cfg.Sessions.DBPath)
			fmt.Fprintf(out, "  logs:     %s\n", layout.Logs())

			return report.Err()
		},
	}
}

func newCleanupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Kill Claude processes resuming sessions the bot no longer knows",
		Long: "Kills Claude CLI processes left behind by a crashed bot. A process is orphaned\n" +
			"when it resumes a Claude session that no persisted conversation refers to.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			if err := initLogging(cmd, false); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}

			known, err := knownClaudeSessions(cmd, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				orphans, err := process.FindOrphanedClaudeProcesses(cmd.Context(), executor, known)
				if err != nil {
					return err
				}
				if len(orphans) == 0 {
					fmt.Fprintln(out, "No orphaned Claude processes.")
					return nil
				}
				for _, p := range orphans {
					fmt.Fprintf(out, "%d %s\n", p.PID, output.Truncate(p.Command, 80))
				}
				return nil
			}

			killed, err := process.CleanupOrphanedProcesses(cmd.Context(), executor, known, killProcess)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Killed %d orphaned Claude process(es).\n", killed)
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "List orphaned processes without killing them")
	return cmd
}

// killProcess is swapped in tests.
var killProcess = process.KillProcess

// knownClaudeSessions returns the Claude session IDs of persisted conversations.
func knownClaudeSessions(cmd *cobra.Command, cfg *config.Config) (map[string]bool, error) {
	st, err := store.Open(cfg.Sessions.DBPath)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	snap, err := st.LoadSnapshot(cmd.Context())
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(snap.Sessions))
	for _, s := range snap.Sessions {
		if s.ClaudeSessionID != "" {
			known[s.ClaudeSessionID] = true
		}
	}
	return known, nil
}

func newSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List persisted conversation sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogging(cmd, false); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.Sessions.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			snap, err := st.LoadSnapshot(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(snap.Sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}

			pending := make(map[string]bool, len(snap.PendingPrompts))
			for _, p := range snap.PendingPrompts {
				pending[p.ThreadID] = true
			}

			sessions := snap.Sessions
			sort.Slice(sessions, func(i, j int) bool {
				return sessions[i].LastUsedAt.After(sessions[j].LastUsedAt)
			})
			for _, s := range sessions {
				project := "(no project)"
				if s.WorkingDir != "" {
					project = s.WorkingDir
				}
				claudeSession := "new"
				if s.ClaudeSessionID != "" {
					claudeSession = s.ClaudeSessionID
				}
				fmt.Fprintf(out, "%s %s [%s] last used %s", s.ThreadID, project, claudeSession, s.LastUsedAt.Local().Format("2006-01-02 15:04"))
				if pending[s.ThreadID] {
					fmt.Fprint(out, " (prompt waiting for project)")
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func newProjectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List the projects users can select",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogging(cmd, false); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}

			scanner, err := projects.NewScanner(cfg.Projects.BaseDir, cfg.Projects.AllowList, cfg.Projects.DenyList)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			list := scanner.List()
			if len(list) == 0 {
				fmt.Fprintf(out, "No projects found in %s.\n", scanner.BaseDir())
				return nil
			}
			for i, p := range list {
				marker := ""
				if i >= projects.MaxOptions {
					marker = " (not shown in menu)"
				}
				fmt.Fprintf(out, "%s\t%s%s\n", p.Name, p.Path, marker)
			}
			return nil
		},
	}
}

func newLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show or clear the bot's log files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clearLogs, _ := cmd.Flags().GetBool("clear")
			out := cmd.OutOrStdout()

			if clearLogs {
				n, err := logger.ClearLogs()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d log file(s).\n", n)
				return nil
			}

			path, err := logger.DefaultLogPath()
			if err != nil {
				return err
			}
			info, err := os.Stat(path)
			switch {
			case errors.Is(err, os.ErrNotExist):
				fmt.Fprintf(out, "%s (not created yet)\n", path)
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "%s (%d bytes)\n", path, info.Size())
			}
			return nil
		},
	}

	cmd.Flags().Bool("clear", false, "Delete the log file and its rotated copy")
	return cmd
}

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("token")
			users, _ := cmd.Flags().GetString("allowed-users")
			baseDir, _ := cmd.Flags().GetString("projects-dir")
			force, _ := cmd.Flags().GetBool("force")

			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				p, err := paths.ConfigFilePath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg := &config.Config{
				Discord: config.DiscordConfig{
					Token:          strings.TrimSpace(token),
					AllowedUserIDs: splitIDs(users),
				},
				Projects: config.ProjectsConfig{BaseDir: baseDir},
			}
			cfg.SetFilePath(path)
			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Note: %v\n", err)
			}
			return nil
		},
	}

	cmd.Flags().String("token", "", "Discord bot token")
	cmd.Flags().String("allowed-users", "", "Comma separated Discord user IDs allowed to use the bot")
	cmd.Flags().String("projects-dir", "", "Directory containing selectable projects")
	cmd.Flags().Bool("force", false, "Overwrite an existing config file")
	return cmd
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
