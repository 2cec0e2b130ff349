// Package config provides YAML-based configuration loading for relaybot.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level relaybot configuration, loaded from relaybot.yaml.
// Secrets (bot tokens, API keys) are never stored here; they come from the
// environment and are resolved at startup.
type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	DB        DBConfig        `yaml:"db"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Digest    DigestConfig    `yaml:"digest"`
}

// BotConfig holds chat-platform identity and per-user limits.
type BotConfig struct {
	Platform         string   `yaml:"platform"` // "telegram", "discord", or "slack"
	Username         string   `yaml:"username"`
	OwnerID          string   `yaml:"owner_id"`
	AdminIDs         []string `yaml:"admin_ids"`
	BlockedUsers     []string `yaml:"blocked_users"`
	RateLimitPerUser int      `yaml:"rate_limit_per_user"`
	HistorySize      int      `yaml:"history_size"`
	MaxMessageLength int      `yaml:"max_message_length"`
	NetworkURL       string   `yaml:"network_url"`
	SupportURL       string   `yaml:"support_url"`
	WebsiteURL       string   `yaml:"website_url"`

	// Discord/Slack only: default channel to operate in.
	ChannelID string `yaml:"channel_id"`
}

// GeminiConfig holds generation sampling parameters and safety thresholds.
type GeminiConfig struct {
	Model           string            `yaml:"model"`
	Temperature     float64           `yaml:"temperature"`
	TopP            float64           `yaml:"top_p"`
	TopK            int               `yaml:"top_k"`
	MaxOutputTokens int               `yaml:"max_output_tokens"`
	Safety          map[string]string `yaml:"safety"` // category → threshold
}

// DBConfig holds connection settings for the clone-record store.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`   // mysql
	Port     int    `yaml:"port"`   // mysql
	Database string `yaml:"database"`
	User     string `yaml:"user"`
}

// DashboardConfig controls the HTTP status surface.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DigestConfig controls the scheduled owner stats digest.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"` // 5-field cron expression
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Bot.Platform == "" {
		c.Bot.Platform = "telegram"
	}
	if c.Bot.RateLimitPerUser == 0 {
		c.Bot.RateLimitPerUser = 5
	}
	if c.Bot.HistorySize == 0 {
		c.Bot.HistorySize = 10
	}
	if c.Bot.MaxMessageLength == 0 {
		c.Bot.MaxMessageLength = 4000
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.0-flash"
	}
	if c.Gemini.Temperature == 0 {
		c.Gemini.Temperature = 0.7
	}
	if c.Gemini.TopP == 0 {
		c.Gemini.TopP = 0.9
	}
	if c.Gemini.TopK == 0 {
		c.Gemini.TopK = 40
	}
	if c.Gemini.MaxOutputTokens == 0 {
		c.Gemini.MaxOutputTokens = 2048
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Driver == "sqlite" && c.DB.Path == "" {
		c.DB.Path = "relaybot.db"
	}
	if c.DB.Driver == "mysql" {
		if c.DB.Host == "" {
			c.DB.Host = "127.0.0.1"
		}
		if c.DB.Port == 0 {
			c.DB.Port = 3306
		}
		if c.DB.User == "" {
			c.DB.User = "root"
		}
	}
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = "127.0.0.1:8091"
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 9 * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Bot.Platform {
	case "telegram", "discord", "slack":
	default:
		errs = append(errs, fmt.Sprintf("bot.platform %q is not one of telegram, discord, slack", c.Bot.Platform))
	}
	if c.Bot.OwnerID == "" {
		errs = append(errs, "bot.owner_id is required")
	}
	if c.Bot.RateLimitPerUser < 0 {
		errs = append(errs, "bot.rate_limit_per_user must not be negative")
	}
	if c.Bot.HistorySize < 0 {
		errs = append(errs, "bot.history_size must not be negative")
	}
	if c.Bot.MaxMessageLength < 1 {
		errs = append(errs, "bot.max_message_length must be positive")
	}
	if c.DB.Driver == "mysql" && c.DB.Database == "" {
		errs = append(errs, "db.database is required for mysql")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Admins returns the admin set including the owner.
func (c *Config) Admins() map[string]bool {
	admins := make(map[string]bool, len(c.Bot.AdminIDs)+1)
	for _, id := range c.Bot.AdminIDs {
		if id != "" {
			admins[id] = true
		}
	}
	if c.Bot.OwnerID != "" {
		admins[c.Bot.OwnerID] = true
	}
	return admins
}
