// Package config loads the bot configuration from config.yaml and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultAgentTimeout bounds a single agent turn.
const DefaultAgentTimeout = 600 * time.Second

// Config is the resolved bot configuration.
type Config struct {
	Discord DiscordConfig `yaml:"discord"`
	Agent   AgentConfig   `yaml:"agent"`
	Cwd     CwdConfig     `yaml:"cwd"`
	Session SessionConfig `yaml:"session"`

	// StateFilePath is where the persisted session state document lives.
	StateFilePath string `yaml:"stateFilePath"`
	// AgentDataDir is the agent CLI's data directory holding per-session
	// transcript logs (defaults to ~/.claude).
	AgentDataDir string `yaml:"agentDataDir"`
}

// DiscordConfig holds chat-platform credentials and access control.
type DiscordConfig struct {
	Token          string   `yaml:"token"`
	GuildID        string   `yaml:"guildId"`
	AllowedUserIDs []string `yaml:"allowedUserIds"`
}

// AgentConfig holds agent CLI invocation settings.
type AgentConfig struct {
	Path         string        `yaml:"path"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	Timeout      time.Duration `yaml:"-"`
	TimeoutMs    int64         `yaml:"timeoutMs"`
	MaxBudgetUSD string        `yaml:"maxBudgetUsd"`
}

// CwdConfig holds working-directory policy.
type CwdConfig struct {
	Default   string   `yaml:"default"`
	Whitelist []string `yaml:"whitelist"`
	Blacklist []string `yaml:"blacklist"`
}

// SessionConfig holds per-session limits.
type SessionConfig struct {
	// TokenLimit is the usage budget per session. Zero or negative disables
	// usage tracking.
	TokenLimit int64 `yaml:"tokenLimit"`
}

// Load reads config.yaml from path, loads .env if present, applies environment
// overrides and fills defaults. A missing config file is an error; everything
// inside it is optional except the Discord token.
func Load(path string) (*Config, error) {
	// .env beside the config file, if any. Missing files are fine.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if cfg.Discord.Token == "" {
		return nil, fmt.Errorf("discord token is required (config discord.token or DISCORD_TOKEN)")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Agent.APIKey == "" {
		cfg.Agent.APIKey = v
	}
	if v := os.Getenv("AGENTCORD_STATE_FILE"); v != "" {
		cfg.StateFilePath = v
	}
	if v := os.Getenv("AGENTCORD_AGENT_PATH"); v != "" {
		cfg.Agent.Path = v
	}
	if v := os.Getenv("AGENTCORD_TOKEN_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Session.TokenLimit = n
		}
	}
}

func applyDefaults(cfg *Config) {
	home, _ := os.UserHomeDir()

	if cfg.Agent.Path == "" {
		cfg.Agent.Path = "claude"
	}
	if cfg.Agent.TimeoutMs > 0 {
		cfg.Agent.Timeout = time.Duration(cfg.Agent.TimeoutMs) * time.Millisecond
	} else {
		cfg.Agent.Timeout = DefaultAgentTimeout
	}
	if cfg.Cwd.Default == "" {
		cfg.Cwd.Default, _ = os.Getwd()
	}
	if cfg.StateFilePath == "" {
		cfg.StateFilePath = filepath.Join(mustGetwd(), "bot-state.json")
	}
	if cfg.AgentDataDir == "" && home != "" {
		cfg.AgentDataDir = filepath.Join(home, ".claude")
	}
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// ValidateCwd checks a directory path against the blacklist and whitelist.
// Returns an error describing the violation, or nil when the path is allowed.
// The blacklist always wins; an empty whitelist allows everything else.
func (c *Config) ValidateCwd(dirPath string) error {
	resolved, err := filepath.Abs(dirPath)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	for _, blocked := range c.Cwd.Blacklist {
		b, err := filepath.Abs(blocked)
		if err != nil {
			continue
		}
		if resolved == b || strings.HasPrefix(resolved, b+string(filepath.Separator)) {
			return fmt.Errorf("path is blacklisted: %s", blocked)
		}
	}

	if len(c.Cwd.Whitelist) == 0 {
		return nil
	}

	for _, allowed := range c.Cwd.Whitelist {
		a, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		if resolved == a || strings.HasPrefix(resolved, a+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("path is not in the whitelist: %s", strings.Join(c.Cwd.Whitelist, ", "))
}

// ExpandPath replaces a leading ~ with the user's home directory and resolves
// the result to an absolute path.
func ExpandPath(raw string) string {
	if raw == "~" || strings.HasPrefix(raw, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			raw = filepath.Join(home, strings.TrimPrefix(raw[1:], "/"))
		}
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return raw
	}
	return abs
}
