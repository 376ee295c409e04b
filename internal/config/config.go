package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Default connection keep-alive parameters. The server pings each terminal
// connection every PingInterval; a connection that has not answered by the
// time the next ping fires is forcibly closed.
const (
	DefaultPingIntervalSeconds = 30
	DefaultListenAddr          = "localhost:8791"
)

// AgentConfig describes how to launch the external coding agent process.
type AgentConfig struct {
	Command string   `json:"command"`        // agent binary, e.g. "claude"
	Args    []string `json:"args,omitempty"` // extra args prepended before per-turn flags
}

// Config represents server configuration
type Config struct {
	ListenAddr          string      `json:"listen_addr"`
	ReposRoot           string      `json:"repos_root"`     // directory of canonical clones, one per repository
	WorktreesRoot       string      `json:"worktrees_root"` // directory of per-session worktrees
	DatabasePath        string      `json:"database_path"`  // sqlite session registry
	TmuxBinary          string      `json:"tmux_binary,omitempty"`
	Agent               AgentConfig `json:"agent"`
	PingIntervalSeconds int         `json:"ping_interval_seconds"`
	LogLevel            string      `json:"log_level"` // debug, info, warn, error, none
	LogPath             string      `json:"-"`
}

// PingInterval returns the keep-alive ping period.
func (c *Config) PingInterval() time.Duration {
	secs := c.PingIntervalSeconds
	if secs <= 0 {
		secs = DefaultPingIntervalSeconds
	}
	return time.Duration(secs) * time.Second
}

// PongWait returns how long the server waits for a pong before culling the
// connection. Slightly more than one ping period so a single slow round
// trip doesn't kill a healthy connection.
func (c *Config) PongWait() time.Duration {
	return c.PingInterval() + c.PingInterval()/2
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "perch")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "perch")
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "perch")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "perch")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "perch")
	}
}

func defaultDataDir() string {
	if runtime.GOOS == "linux" {
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "perch")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "perch")
	}
	return defaultConfigDir()
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Default returns a Config populated with defaults.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		ListenAddr:          DefaultListenAddr,
		ReposRoot:           filepath.Join(dataDir, "repos"),
		WorktreesRoot:       filepath.Join(dataDir, "worktrees"),
		DatabasePath:        filepath.Join(dataDir, "sessions.db"),
		Agent:               AgentConfig{Command: "claude"},
		PingIntervalSeconds: DefaultPingIntervalSeconds,
		LogLevel:            "info",
		LogPath:             filepath.Join(dataDir, "perch.log"),
	}
}

// Load reads configuration from path, applying defaults for missing fields.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.ReposRoot == "" {
		return fmt.Errorf("repos_root must not be empty")
	}
	if c.WorktreesRoot == "" {
		return fmt.Errorf("worktrees_root must not be empty")
	}
	if c.Agent.Command == "" {
		return fmt.Errorf("agent.command must not be empty")
	}
	return nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	return nil
}
