package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vk-telegram-mirror/locale"
)

// Config holds all application configuration.
type Config struct {
	VKToken             string `yaml:"vk_token"`
	VKFallbackToken     string `yaml:"vk_fallback_token"`
	VKAPIVersion        string `yaml:"vk_api_version"`
	TelegramToken       string `yaml:"telegram_token"`
	ChannelID           int64  `yaml:"channel_id"`
	PlaylistChannelID   int64  `yaml:"playlist_channel_id"`
	Language            string `yaml:"language"`
	IgnoreAds           bool   `yaml:"ignore_ads"`
	MessageLimit        int    `yaml:"message_limit"`
	CaptionLimit        int    `yaml:"caption_limit"`
	DatabaseURL         string `yaml:"database_url"`
	DBPath              string `yaml:"db_path"`
	WallWorkers         int    `yaml:"wall_workers"`
	PlaylistWorkers     int    `yaml:"playlist_workers"`
	MaxAttempts         int    `yaml:"max_attempts"`
	JobTimeoutMins      int    `yaml:"job_timeout_mins"`
	WebhookAddr         string `yaml:"webhook_addr"`
	WebhookSecret       string `yaml:"webhook_secret"`
	GroupID             int    `yaml:"group_id"`
	DownloadDir         string `yaml:"download_dir"`
	DownloadConcurrency int    `yaml:"download_concurrency"`
	DownloadTimeoutSecs int    `yaml:"download_timeout_secs"`
	FFmpegPath          string `yaml:"ffmpeg_path"`
	Timezone            string `yaml:"timezone"`
	MaintenanceTime     string `yaml:"maintenance_time"`
	RetentionDays       int    `yaml:"retention_days"`
	SessionTTLHours     int    `yaml:"session_ttl_hours"`
	LogLevel            string `yaml:"log_level"`
}

// maintenanceTimeRegex validates HH:MM format with proper ranges.
var maintenanceTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("VK2TG_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

// JobTimeout is the longest a single forwarding job may run.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMins) * time.Minute
}

// DownloadTimeout bounds a single media download.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSecs) * time.Second
}

// Retention is how long finished tasks are remembered.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SessionTTL is how long an idle bot conversation is kept.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// PlaylistsEnabled reports whether playlists have a destination channel.
func (c *Config) PlaylistsEnabled() bool {
	return c.PlaylistChannelID != 0
}

func applyDefaults(cfg *Config) {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.MessageLimit == 0 {
		cfg.MessageLimit = 4096
	}
	if cfg.CaptionLimit == 0 {
		cfg.CaptionLimit = 1024
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./vk2tg.db"
	}
	if cfg.WallWorkers == 0 {
		cfg.WallWorkers = 1
	}
	if cfg.PlaylistWorkers == 0 {
		cfg.PlaylistWorkers = 1
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.JobTimeoutMins == 0 {
		cfg.JobTimeoutMins = 30
	}
	if cfg.WebhookAddr == "" {
		cfg.WebhookAddr = ":8080"
	}
	if cfg.DownloadConcurrency == 0 {
		cfg.DownloadConcurrency = 4
	}
	if cfg.DownloadTimeoutSecs == 0 {
		cfg.DownloadTimeoutSecs = 600
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.MaintenanceTime == "" {
		cfg.MaintenanceTime = "04:00"
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}
	if cfg.SessionTTLHours == 0 {
		cfg.SessionTTLHours = 24
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if token := os.Getenv("VK2TG_VK_TOKEN"); token != "" {
		cfg.VKToken = token
	}
	if token := os.Getenv("VK2TG_TELEGRAM_TOKEN"); token != "" {
		cfg.TelegramToken = token
	}
	if url := os.Getenv("VK2TG_DATABASE_URL"); url != "" {
		cfg.DatabaseURL = url
	}
	if dbPath := os.Getenv("VK2TG_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
}

func validate(cfg *Config) error {
	if cfg.VKToken == "" {
		return fmt.Errorf("vk_token is required")
	}
	if cfg.TelegramToken == "" {
		return fmt.Errorf("telegram_token is required")
	}
	if cfg.ChannelID == 0 {
		return fmt.Errorf("channel_id is required")
	}
	if _, err := locale.For(cfg.Language); err != nil {
		return fmt.Errorf("language: %w", err)
	}
	if cfg.CaptionLimit > cfg.MessageLimit {
		return fmt.Errorf("caption_limit (%d) must not exceed message_limit (%d)", cfg.CaptionLimit, cfg.MessageLimit)
	}
	if cfg.WallWorkers < 0 || cfg.PlaylistWorkers < 0 {
		return fmt.Errorf("worker counts must not be negative")
	}
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if !maintenanceTimeRegex.MatchString(cfg.MaintenanceTime) {
		return fmt.Errorf("maintenance_time must be in HH:MM format (00:00-23:59), got %q", cfg.MaintenanceTime)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	if !logLevels[strings.ToLower(cfg.LogLevel)] {
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	return nil
}
