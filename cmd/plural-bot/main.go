package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-bot/config"
	"github.com/zhubert/plural-bot/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "plural-bot",
		Short: "Discord bot for the Claude CLI",
		Long: "plural-bot relays Discord mentions to the Claude CLI, one request at a time,\n" +
			"and keeps a Claude conversation per thread.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default: $XDG_CONFIG_HOME/plural-bot/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newCleanupCommand())
	rootCmd.AddCommand(newSessionsCommand())
	rootCmd.AddCommand(newProjectsCommand())
	rootCmd.AddCommand(newLogsCommand())
	rootCmd.AddCommand(newInitCommand())

	return rootCmd
}

// initLogging sets up the process logger. foreground sends logs to stderr
// instead of the log file.
func initLogging(cmd *cobra.Command, foreground bool) error {
	path := logger.StderrPath
	if !foreground {
		p, err := logger.DefaultLogPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := logger.Init(path); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logger.SetDebug(true)
	}
	return nil
}

// applyLogLevel honors the configured level unless --debug overrides it.
func applyLogLevel(cmd *cobra.Command, cfg *config.Config) error {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		return nil
	}
	return logger.SetLevel(cfg.LogLevel)
}

// loadConfig loads the config named by --config. validate is false for
// commands that never connect to Discord.
func loadConfig(cmd *cobra.Command, validate bool) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if validate {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
