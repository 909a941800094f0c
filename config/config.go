// Package config loads the bot's settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/plural-bot/logger"
	"github.com/zhubert/plural-bot/paths"
)

// Defaults applied when neither the config file nor the environment sets a value.
const (
	DefaultClaudeBinary    = "claude"
	DefaultClaudeTimeout   = 5 * time.Minute
	DefaultKillGrace       = 5 * time.Second
	DefaultQueueMaxSize    = 5
	DefaultQueueTimeout    = 3 * time.Minute
	DefaultSessionMaxAge   = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
	DefaultLogLevel        = "info"
)

// DefaultDenyList is the deny list used when none is configured.
var DefaultDenyList = []string{"node_modules", ".git"}

// Validation errors. Validate wraps these so callers can test with errors.Is.
var (
	ErrMissingToken     = errors.New("discord bot token is required (DISCORD_BOT_TOKEN)")
	ErrNoAllowedUsers   = errors.New("at least one allowed user id is required (ALLOWED_USER_IDS)")
	ErrInvalidTimeout   = errors.New("timeout must be positive")
	ErrInvalidQueueSize = errors.New("queue max size must be positive")
	ErrInvalidLogLevel  = errors.New("invalid log level")
)

// Config holds the bot configuration
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Claude   ClaudeConfig   `yaml:"claude"`
	Projects ProjectsConfig `yaml:"projects"`
	Queue    QueueConfig    `yaml:"queue"`
	Sessions SessionsConfig `yaml:"sessions"`
	LogLevel string         `yaml:"log_level,omitempty"` // trace, debug, info, warn, error, fatal

	filePath string
}

// DiscordConfig holds chat gateway credentials and access control.
type DiscordConfig struct {
	Token          string   `yaml:"token,omitempty"`
	ApplicationID  string   `yaml:"application_id,omitempty"`
	AllowedUserIDs []string `yaml:"allowed_user_ids,omitempty"`
}

// ClaudeConfig controls how the Claude CLI is invoked.
type ClaudeConfig struct {
	Binary     string        `yaml:"binary,omitempty"`      // Command name or path (default "claude")
	WorkingDir string        `yaml:"working_dir,omitempty"` // Fallback cwd when a request has none
	Timeout    time.Duration `yaml:"timeout,omitempty"`     // Execution deadline per run
	KillGrace  time.Duration `yaml:"kill_grace,omitempty"`  // SIGTERM to SIGKILL delay
}

// ProjectsConfig controls which directories users can pick as a project.
type ProjectsConfig struct {
	BaseDir   string   `yaml:"base_dir,omitempty"`
	AllowList []string `yaml:"allow_list,omitempty"`
	DenyList  []string `yaml:"deny_list,omitempty"`
}

// QueueConfig bounds the execution queue.
type QueueConfig struct {
	MaxSize int           `yaml:"max_size,omitempty"` // Waiting entries, not counting the running one
	Timeout time.Duration `yaml:"timeout,omitempty"`  // Max time an entry may wait before running
}

// SessionsConfig controls session expiry and persistence.
type SessionsConfig struct {
	MaxAge          time.Duration `yaml:"max_age,omitempty"`
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`
	DBPath          string        `yaml:"db_path,omitempty"`
}

// Load reads the config file at path (the default config path when empty),
// applies environment overrides and defaults, then validates the result.
// A missing file is not an error; the environment alone may configure the bot.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

// LoadFile is Load without validation, for commands that do not talk to
// Discord and so need no token.
func LoadFile(path string) (*Config, error) {
	return loadFile(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := loadFile(path, lookup)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, lookup func(string) (string, bool)) (*Config, error) {
	if path == "" {
		p, err := paths.ConfigFilePath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logger.WithComponent("config").Debug("no config file, using environment", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays environment variables on top of file values.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DISCORD_BOT_TOKEN"); ok {
		c.Discord.Token = v
	}
	if v, ok := lookup("DISCORD_APPLICATION_ID"); ok {
		c.Discord.ApplicationID = v
	}
	if v, ok := lookup("ALLOWED_USER_IDS"); ok {
		c.Discord.AllowedUserIDs = splitList(v)
	}
	if v, ok := lookup("CLAUDE_BINARY"); ok {
		c.Claude.Binary = v
	}
	if v, ok := lookup("CLAUDE_WORKING_DIR"); ok {
		c.Claude.WorkingDir = v
	}
	if v, ok := lookup("PROJECTS_BASE_DIR"); ok {
		c.Projects.BaseDir = v
	}
	if v, ok := lookup("PROJECTS_ALLOW_LIST"); ok {
		c.Projects.AllowList = splitList(v)
	}
	if v, ok := lookup("PROJECTS_DENY_LIST"); ok {
		c.Projects.DenyList = splitList(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("SESSIONS_DB_PATH"); ok {
		c.Sessions.DBPath = v
	}

	millis := []struct {
		name string
		dst  *time.Duration
	}{
		{"CLAUDE_TIMEOUT_MS", &c.Claude.Timeout},
		{"QUEUE_TIMEOUT_MS", &c.Queue.Timeout},
	}
	for _, m := range millis {
		v, ok := lookup(m.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		ms, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", m.name, v, err)
		}
		*m.dst = time.Duration(ms) * time.Millisecond
	}

	if v, ok := lookup("QUEUE_MAX_SIZE"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid QUEUE_MAX_SIZE %q: %w", v, err)
		}
		c.Queue.MaxSize = n
	}

	return nil
}

func (c *Config) applyDefaults() error {
	if c.Claude.Binary == "" {
		c.Claude.Binary = DefaultClaudeBinary
	}
	if c.Claude.WorkingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine working directory: %w", err)
		}
		c.Claude.WorkingDir = wd
	}
	if c.Claude.Timeout == 0 {
		c.Claude.Timeout = DefaultClaudeTimeout
	}
	if c.Claude.KillGrace == 0 {
		c.Claude.KillGrace = DefaultKillGrace
	}
	if c.Projects.BaseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to determine home directory: %w", err)
		}
		c.Projects.BaseDir = filepath.Join(home, "Development")
	}
	if c.Projects.DenyList == nil {
		c.Projects.DenyList = append([]string(nil), DefaultDenyList...)
	}
	if c.Queue.MaxSize == 0 {
		c.Queue.MaxSize = DefaultQueueMaxSize
	}
	if c.Queue.Timeout == 0 {
		c.Queue.Timeout = DefaultQueueTimeout
	}
	if c.Sessions.MaxAge == 0 {
		c.Sessions.MaxAge = DefaultSessionMaxAge
	}
	if c.Sessions.CleanupInterval == 0 {
		c.Sessions.CleanupInterval = DefaultCleanupInterval
	}
	if c.Sessions.DBPath == "" {
		p, err := paths.SessionsDBPath()
		if err != nil {
			return err
		}
		c.Sessions.DBPath = p
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	return nil
}

// Validate checks that the config is complete and internally consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return ErrMissingToken
	}
	if len(c.Discord.AllowedUserIDs) == 0 {
		return ErrNoAllowedUsers
	}
	if c.Claude.Timeout < 0 {
		return fmt.Errorf("claude: %w", ErrInvalidTimeout)
	}
	if c.Claude.KillGrace < 0 {
		return fmt.Errorf("claude kill grace: %w", ErrInvalidTimeout)
	}
	if c.Queue.MaxSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQueueSize, c.Queue.MaxSize)
	}
	if c.Queue.Timeout < 0 {
		return fmt.Errorf("queue: %w", ErrInvalidTimeout)
	}
	if c.Sessions.MaxAge < 0 || c.Sessions.CleanupInterval < 0 {
		return fmt.Errorf("sessions: %w", ErrInvalidTimeout)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return nil
}

// FilePath returns the path the config was loaded from.
func (c *Config) FilePath() string {
	return c.filePath
}

// Save writes the config as YAML to its file path, creating parent directories.
func (c *Config) Save() error {
	if c.filePath == "" {
		return errors.New("config has no file path")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file holds the bot token
	return os.WriteFile(c.filePath, data, 0600)
}

// SetFilePath sets where Save writes the config.
func (c *Config) SetFilePath(path string) {
	c.filePath = path
}

// splitList parses a comma separated env value, dropping blanks.
func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
