package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr       = ":3001"
	DefaultTimeout    = 30 * time.Minute
	DefaultStaleAfter = 2 * time.Hour
	DefaultDebounce   = 2 * time.Second
)

// Config represents the memsync configuration
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Sync      SyncConfig               `yaml:"sync"`
	Services  map[string]ServiceConfig `yaml:"services"`
	Watch     WatchConfig              `yaml:"watch"`
	OpenAI    OpenAIConfig             `yaml:"openai"`
	Anthropic AnthropicConfig          `yaml:"anthropic"`
	Discord   DiscordConfig            `yaml:"discord"`
	Slack     SlackConfig              `yaml:"slack"`

	// DatabasePath overrides <data dir>/memsync.db when set.
	DatabasePath string `yaml:"database_path,omitempty"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	UploadDir string `yaml:"upload_dir,omitempty"`
	StaticDir string `yaml:"static_dir,omitempty"`
}

// SyncConfig bounds tracked runs.
type SyncConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// ServiceConfig controls one live service.
type ServiceConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Schedule string  `yaml:"schedule,omitempty"`
	RPS      float64 `yaml:"rps,omitempty"`
}

// WatchConfig controls the inbox watcher and the optional chat.db watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Inbox    string        `yaml:"inbox,omitempty"`
	Debounce time.Duration `yaml:"debounce,omitempty"`

	// IMessage re-imports chat.db whenever it changes.
	IMessage bool   `yaml:"imessage,omitempty"`
	ChatDB   string `yaml:"chat_db,omitempty"`
}

type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	SessionToken string `yaml:"session_token,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
	BackendURL   string `yaml:"backend_url,omitempty"`
}

type AnthropicConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Version string `yaml:"version,omitempty"`
}

type DiscordConfig struct {
	Token    string   `yaml:"token,omitempty"`
	GuildIDs []string `yaml:"guild_ids,omitempty"`
	// BaseURL overrides the API origin (scheme and host only).
	BaseURL string `yaml:"base_url,omitempty"`
}

type SlackConfig struct {
	Token    string   `yaml:"token,omitempty"`
	Channels []string `yaml:"channels,omitempty"`
	APIURL   string   `yaml:"api_url,omitempty"`
}

// GetConfigDir returns the XDG-compliant config directory
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("MEMSYNC_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "memsync"), nil
}

// GetDataDir returns the platform-specific data directory
func GetDataDir() (string, error) {
	if override := os.Getenv("MEMSYNC_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Memsync"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "memsync"), nil
	}

	return filepath.Join(home, ".local", "share", "memsync"), nil
}

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads config.yaml (if present), loads .env, overlays the
// environment and validates the result.
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadFile(filepath.Join(configDir, "config.yaml"))
}

// LoadFile is Load for an explicit path. A missing file yields defaults.
func LoadFile(configPath string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load(".env")

	cfg := &Config{}
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Services == nil {
		c.Services = make(map[string]ServiceConfig)
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Sync.Timeout == 0 {
		c.Sync.Timeout = DefaultTimeout
	}
	if c.Sync.StaleAfter == 0 {
		c.Sync.StaleAfter = DefaultStaleAfter
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = DefaultDebounce
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.BackendURL == "" {
		c.OpenAI.BackendURL = "https://chatgpt.com/backend-api"
	}
	if c.Anthropic.BaseURL == "" {
		c.Anthropic.BaseURL = "https://api.anthropic.com/v1"
	}
	if c.Anthropic.Version == "" {
		c.Anthropic.Version = "2024-01-01"
	}
}

// applyEnv overlays credentials and process settings from the environment.
func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setList := func(dst *[]string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = SplitList(v)
		}
	}

	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.Server.UploadDir, "UPLOAD_DIR")
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.Server.Addr = ":" + port
	}
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.SessionToken, "OPENAI_SESSION_TOKEN")
	setString(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.Discord.Token, "DISCORD_TOKEN")
	setList(&c.Discord.GuildIDs, "DISCORD_GUILD_IDS")
	setString(&c.Slack.Token, "SLACK_TOKEN")
	setList(&c.Slack.Channels, "SLACK_CHANNELS")
}

// Validate checks schedules and durations.
func (c *Config) Validate() error {
	if c.Sync.Timeout < 0 {
		return fmt.Errorf("sync.timeout must not be negative")
	}
	if c.Sync.StaleAfter < 0 {
		return fmt.Errorf("sync.stale_after must not be negative")
	}
	for name, svc := range c.Services {
		if svc.Schedule != "" && !gronx.IsValid(svc.Schedule) {
			return fmt.Errorf("services.%s.schedule: invalid cron expression %q", name, svc.Schedule)
		}
		if svc.RPS < 0 {
			return fmt.Errorf("services.%s.rps must not be negative", name)
		}
	}
	return nil
}

// ResolveDatabasePath returns the store location.
func (c *Config) ResolveDatabasePath() (string, error) {
	if c.DatabasePath != "" {
		return c.DatabasePath, nil
	}
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "memsync.db"), nil
}

// ResolveUploadDir returns where uploaded files are staged.
func (c *Config) ResolveUploadDir() (string, error) {
	if c.Server.UploadDir != "" {
		return c.Server.UploadDir, nil
	}
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "uploads"), nil
}

// ResolveInbox returns the watched inbox directory.
func (c *Config) ResolveInbox() (string, error) {
	if c.Watch.Inbox != "" {
		return c.Watch.Inbox, nil
	}
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "inbox"), nil
}

// Save saves the config to the config file
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// SplitList splits a comma separated env value, dropping empty entries.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
