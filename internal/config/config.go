package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elonfeng/socialpulse/pkg/source"
)

// Config is the root configuration.
type Config struct {
	Sources    []source.Ref     `yaml:"sources"`
	Collectors CollectorsConfig `yaml:"collectors"`
	Collect    CollectConfig    `yaml:"collect"`
	Storage    StorageConfig    `yaml:"storage"`
	Report     ReportConfig     `yaml:"report"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Server     ServerConfig     `yaml:"server"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Log        LogConfig        `yaml:"log"`
}

// CollectorsConfig holds per-platform collector settings. Credentials belong
// in the environment (see applyEnvOverrides), not in checked-in files.
type CollectorsConfig struct {
	Timeline TimelineConfig `yaml:"timeline"`
	Feed     FeedConfig     `yaml:"feed"`
	VideoAPI VideoAPIConfig `yaml:"video_api"`
	Channel  ChannelConfig  `yaml:"channel"`
	Page     PageConfig     `yaml:"page"`
}

// TimelineConfig for the X API v2 collector.
type TimelineConfig struct {
	BaseURL     string `yaml:"base_url"`
	BearerToken string `yaml:"bearer_token"`
}

// FeedConfig for the Nitter RSS collector.
type FeedConfig struct {
	NitterURL string `yaml:"nitter_url"`
}

// VideoAPIConfig for the YouTube Data API collector.
type VideoAPIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// ChannelConfig for the headless browser channel collector.
type ChannelConfig struct {
	BrowserBin      string `yaml:"browser_bin"`
	Scrolls         int    `yaml:"scrolls"`
	ScrollPause     string `yaml:"scroll_pause"`
	ConsentWait     string `yaml:"consent_wait"`
	StrategyTimeout string `yaml:"strategy_timeout"`
	DebugDir        string `yaml:"debug_dir"`
}

// PageConfig for the Facebook page collector.
type PageConfig struct {
	BaseURL  string `yaml:"base_url"`
	Cookies  string `yaml:"cookies"`
	MaxPages int    `yaml:"max_pages"`
}

// CollectConfig bounds each collector call.
type CollectConfig struct {
	Timeout     string `yaml:"timeout"`
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string      `yaml:"backend"` // "json", "sqlite", "mongo" or "none"
	JSON    JSONConfig  `yaml:"json"`
	SQLite  SQLConfig   `yaml:"sqlite"`
	Mongo   MongoConfig `yaml:"mongo"`
	Timeout string      `yaml:"timeout"`
}

// JSONConfig configures the JSON file store.
type JSONConfig struct {
	Dir string `yaml:"dir"`
}

// SQLConfig configures SQLite storage.
type SQLConfig struct {
	Path string `yaml:"path"`
}

// MongoConfig configures the document store.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// ReportConfig configures chart output.
type ReportConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	PerSource bool   `yaml:"per_source"`
	Export    string `yaml:"export"` // combined JSON export path, empty to skip
}

// ScheduleConfig configures the repeat interval of `run`.
type ScheduleConfig struct {
	Interval string `yaml:"interval"`
}

// AlertsConfig configures run summary destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook notifications.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook notifications.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook notifications.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Collectors: CollectorsConfig{
			Timeline: TimelineConfig{BaseURL: "https://api.x.com"},
			Feed:     FeedConfig{NitterURL: "https://nitter.net"},
			VideoAPI: VideoAPIConfig{BaseURL: "https://www.googleapis.com/youtube/v3"},
			Channel: ChannelConfig{
				Scrolls:         3,
				ScrollPause:     "1500ms",
				ConsentWait:     "5s",
				StrategyTimeout: "5s",
				DebugDir:        "./debug",
			},
			Page: PageConfig{BaseURL: "https://mbasic.facebook.com", MaxPages: 2},
		},
		Collect: CollectConfig{
			Timeout:     "60s",
			MaxAttempts: 3,
			Backoff:     "2s",
		},
		Storage: StorageConfig{
			Backend: "json",
			JSON:    JSONConfig{Dir: "./data"},
			SQLite:  SQLConfig{Path: "./socialpulse.db"},
			Mongo:   MongoConfig{Database: "socialpulse", Collection: "records"},
			Timeout: "10s",
		},
		Report: ReportConfig{
			Enabled: true,
			Dir:     "./charts",
			Export:  "./data/latest_run.json",
		},
		Schedule: ScheduleConfig{Interval: "6h"},
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Refs returns the configured sources with platform aliases resolved.
func (c *Config) Refs() ([]source.Ref, error) {
	refs := make([]source.Ref, 0, len(c.Sources))
	for i, s := range c.Sources {
		p, err := source.ParsePlatform(string(s.Platform))
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		ref, err := source.NewRef(p, s.Handle, s.Count)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// ParseTimeout returns the per-call collect timeout.
func (c CollectConfig) ParseTimeout() time.Duration {
	return parseDuration(c.Timeout, 60*time.Second)
}

// ParseBackoff returns the base retry delay.
func (c CollectConfig) ParseBackoff() time.Duration {
	return parseDuration(c.Backoff, 2*time.Second)
}

// ParseInterval returns the schedule interval.
func (s ScheduleConfig) ParseInterval() time.Duration {
	return parseDuration(s.Interval, 6*time.Hour)
}

// ParseTimeout returns the store connect and write timeout.
func (s StorageConfig) ParseTimeout() time.Duration {
	return parseDuration(s.Timeout, 10*time.Second)
}

// ParseScrollPause returns the pause between scrolls.
func (c ChannelConfig) ParseScrollPause() time.Duration {
	return parseDuration(c.ScrollPause, 1500*time.Millisecond)
}

// ParseConsentWait returns the bound on waiting for a consent prompt.
func (c ChannelConfig) ParseConsentWait() time.Duration {
	return parseDuration(c.ConsentWait, 5*time.Second)
}

// ParseStrategyTimeout returns the per-strategy lookup timeout.
func (c ChannelConfig) ParseStrategyTimeout() time.Duration {
	return parseDuration(c.StrategyTimeout, 5*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SOCIALPULSE_X_BEARER_TOKEN"); v != "" {
		cfg.Collectors.Timeline.BearerToken = v
	}
	if v := os.Getenv("SOCIALPULSE_NITTER_URL"); v != "" {
		cfg.Collectors.Feed.NitterURL = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.Collectors.VideoAPI.APIKey = v
	}
	if v := os.Getenv("SOCIALPULSE_BROWSER_BIN"); v != "" {
		cfg.Collectors.Channel.BrowserBin = v
	}
	if v := os.Getenv("SOCIALPULSE_FB_COOKIES"); v != "" {
		cfg.Collectors.Page.Cookies = v
	}
	if v := os.Getenv("SOCIALPULSE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SOCIALPULSE_DB_PATH"); v != "" {
		cfg.Storage.SQLite.Path = v
	}
	if v := os.Getenv("SOCIALPULSE_MONGO_URI"); v != "" {
		cfg.Storage.Mongo.URI = v
	}
	if v := os.Getenv("SOCIALPULSE_CHART_DIR"); v != "" {
		cfg.Report.Dir = v
	}
	if v := os.Getenv("SOCIALPULSE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SOCIALPULSE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("SOCIALPULSE_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
		cfg.Alerts.Webhook.Enabled = true
	}
	if v := os.Getenv("SOCIALPULSE_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
}
