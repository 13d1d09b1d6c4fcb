// Package config loads the daemon's YAML configuration: hook server
// settings, per-platform bot tokens, shell-escape policy, and the
// registered project↔channel map.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SlackConfig holds Slack Socket Mode credentials (SPEC_FULL.md §4.1.1).
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
	Enabled  bool   `yaml:"enabled"`
}

// DiscordConfig holds Discord bot credentials (SPEC_FULL.md §4.1.2).
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
	Enabled  bool   `yaml:"enabled"`
}

// ShellConfig controls the !shell escape hatch (SPEC_FULL.md §4.7.1).
type ShellConfig struct {
	// DenyListExtra extends (never replaces) the built-in deny list.
	DenyListExtra []string `yaml:"deny_list_extra"`
	// TimeoutSeconds bounds how long a shell command may run. Default 30.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// MaxOutputBytes truncates captured output. Default 8192.
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

// ChannelBinding maps one agent instance to the chat channel it posts to.
type ChannelBinding struct {
	InstanceID string `yaml:"instance_id"`
	ChannelID  string `yaml:"channel_id"`
	Platform   string `yaml:"platform"` // "slack" or "discord"
}

// ProjectEntry is the daemon's read-only cached view of a workspace
// registered by the external project-state module (SPEC_FULL.md §3).
type ProjectEntry struct {
	ProjectPath string           `yaml:"project_path"`
	TmuxSession string           `yaml:"tmux_session"`
	Channels    []ChannelBinding `yaml:"channels"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// HookBindAddr is the hook ingestion server's listen address, e.g.
	// "127.0.0.1:18470".
	HookBindAddr string `yaml:"hook_bind_addr"`
	HookPort     int    `yaml:"hook_port"`
	LogLevel     string `yaml:"log_level"`

	// StreamMinEditMS is the minimum interval, in milliseconds, between
	// consecutive edits to a single streaming status message (§9 Open
	// Questions decision: one constant for all platforms).
	StreamMinEditMS int `yaml:"stream_min_edit_ms"`

	// AttachmentCacheMaxFiles bounds the downloaded-attachment cache under
	// <projectPath>/.discode/files/; oldest files are pruned past this count.
	AttachmentCacheMaxFiles int `yaml:"attachment_cache_max_files"`

	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Shell   ShellConfig   `yaml:"shell"`

	// Projects is the registered projectName → ProjectEntry map.
	Projects map[string]ProjectEntry `yaml:"projects"`

	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTelExporter string `yaml:"otel_exporter"`
	OTelEndpoint string `yaml:"otel_endpoint"`

	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

// saveRawConfig marshals and writes a generic map back to config.yaml,
// preserving unrelated keys that this package's typed Config doesn't know
// about.
func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// RegisterProject adds or updates a project entry in config.yaml, preserving
// all other settings. Used on first-run project registration and by /reload.
func RegisterProject(homeDir, projectName string, entry ProjectEntry) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	projects, _ := raw["projects"].(map[string]interface{})
	if projects == nil {
		projects = make(map[string]interface{})
	}
	encoded, err := yaml.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal project entry: %w", err)
	}
	var asMap map[string]interface{}
	if err := yaml.Unmarshal(encoded, &asMap); err != nil {
		return fmt.Errorf("round-trip project entry: %w", err)
	}
	projects[projectName] = asMap
	raw["projects"] = projects
	return saveRawConfig(configPath, raw)
}

// Fingerprint returns a stable hash of the active config, logged at startup
// so operators can tell whether a running daemon picked up a reload.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "hook=%s:%d|log=%s|streamms=%d|projects=%d",
		c.HookBindAddr, c.HookPort, c.LogLevel, c.StreamMinEditMS, len(c.Projects))
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		HookBindAddr:            "127.0.0.1",
		HookPort:                18470,
		LogLevel:                "info",
		StreamMinEditMS:         1000,
		AttachmentCacheMaxFiles: 100,
		Shell: ShellConfig{
			TimeoutSeconds: 30,
			MaxOutputBytes: 8192,
		},
		OTelExporter: "none",
	}
}

func HomeDir() string {
	if override := os.Getenv("DISCODE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".discode")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create discode home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.HookBindAddr == "" {
		cfg.HookBindAddr = "127.0.0.1"
	}
	if cfg.HookPort <= 0 {
		cfg.HookPort = 18470
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StreamMinEditMS <= 0 {
		cfg.StreamMinEditMS = 1000
	}
	if cfg.AttachmentCacheMaxFiles <= 0 {
		cfg.AttachmentCacheMaxFiles = 100
	}
	if cfg.Shell.TimeoutSeconds <= 0 {
		cfg.Shell.TimeoutSeconds = 30
	}
	if cfg.Shell.MaxOutputBytes <= 0 {
		cfg.Shell.MaxOutputBytes = 8192
	}
	if cfg.OTelExporter == "" {
		cfg.OTelExporter = "none"
	}
	if cfg.Projects == nil {
		cfg.Projects = make(map[string]ProjectEntry)
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("DISCODE_HOOK_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.HookPort = v
		}
	}
	if raw := os.Getenv("DISCODE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("DISCODE_STREAM_MIN_EDIT_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.StreamMinEditMS = v
		}
	}
	if raw := os.Getenv("SLACK_BOT_TOKEN"); raw != "" {
		cfg.Slack.BotToken = raw
		cfg.Slack.Enabled = true
	}
	if raw := os.Getenv("SLACK_APP_TOKEN"); raw != "" {
		cfg.Slack.AppToken = raw
	}
	if raw := os.Getenv("DISCORD_BOT_TOKEN"); raw != "" {
		cfg.Discord.BotToken = raw
		cfg.Discord.Enabled = true
	}
	if raw := os.Getenv("DISCODE_OTEL_ENABLED"); raw != "" {
		cfg.OTelEnabled = strings.EqualFold(raw, "true") || raw == "1"
	}
	if raw := os.Getenv("DISCODE_OTEL_EXPORTER"); raw != "" {
		cfg.OTelExporter = raw
	}
	if raw := os.Getenv("DISCODE_OTEL_ENDPOINT"); raw != "" {
		cfg.OTelEndpoint = raw
	}
}
