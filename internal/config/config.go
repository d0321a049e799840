package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Sources  []SourceConfig `mapstructure:"sources"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Export   ExportConfig   `mapstructure:"export"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig describes one fixture feed
type SourceConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Timezone string `mapstructure:"timezone"`
	Enabled  bool   `mapstructure:"enabled"`
}

// FeedConfig holds HTTP feed client configuration
type FeedConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	Concurrency    int           `mapstructure:"concurrency"`
}

// MonitorConfig holds matching and discrepancy detection configuration
type MonitorConfig struct {
	FuzzyMatchThreshold           float64           `mapstructure:"fuzzy_match_threshold"`
	TimeVariationToleranceMinutes float64           `mapstructure:"time_variation_tolerance_minutes"`
	IncludeLeague                 bool              `mapstructure:"include_league"`
	GenericLeagues                []string          `mapstructure:"generic_leagues"`
	MinLeadTime                   time.Duration     `mapstructure:"min_lead_time"`
	Timezone                      string            `mapstructure:"timezone"`
	AlertCooldown                 time.Duration     `mapstructure:"alert_cooldown"`
	ExtraAbbreviations            map[string]string `mapstructure:"extra_abbreviations"`
	ExtraStopWords                []string          `mapstructure:"extra_stop_words"`
}

// ScheduleConfig holds polling cadence configuration
type ScheduleConfig struct {
	MinInterval      time.Duration `mapstructure:"min_interval"`
	MaxInterval      time.Duration `mapstructure:"max_interval"`
	FallbackInterval time.Duration `mapstructure:"fallback_interval"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// DiscordConfig holds Discord notification configuration
type DiscordConfig struct {
	BotToken  string `mapstructure:"bot_token"`
	ChannelID string `mapstructure:"channel_id"`
	Enabled   bool   `mapstructure:"enabled"`
}

// RedisConfig holds Redis pub/sub publishing configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
	Enabled  bool   `mapstructure:"enabled"`
}

// KafkaConfig holds Kafka publishing configuration
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Enabled bool     `mapstructure:"enabled"`
}

// StorageConfig holds report persistence configuration
type StorageConfig struct {
	DBPath    string        `mapstructure:"db_path"`
	Retention time.Duration `mapstructure:"retention"`
}

// ExportConfig holds CSV/JSON file output configuration
type ExportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	CSVPath string `mapstructure:"csv_path"`
	JSONDir string `mapstructure:"json_dir"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory, if present, is loaded into the
// process environment first so secrets can stay out of the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// KICKOFFWATCH_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("KICKOFFWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Feed defaults
	v.SetDefault("feed.timeout", "30s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_delay_base", "1s")
	v.SetDefault("feed.concurrency", 4)

	// Monitor defaults
	v.SetDefault("monitor.fuzzy_match_threshold", 0.8)
	v.SetDefault("monitor.time_variation_tolerance_minutes", 2)
	v.SetDefault("monitor.include_league", false)
	v.SetDefault("monitor.generic_leagues", []string{"football", "soccer"})
	v.SetDefault("monitor.min_lead_time", "15m")
	v.SetDefault("monitor.timezone", "Africa/Nairobi")
	v.SetDefault("monitor.alert_cooldown", "6h")

	// Schedule defaults
	v.SetDefault("schedule.min_interval", "1m")
	v.SetDefault("schedule.max_interval", "30m")
	v.SetDefault("schedule.fallback_interval", "20m")
	v.SetDefault("schedule.backoff_base", "2m")
	v.SetDefault("schedule.backoff_max", "1h")

	// Notifier defaults. Secrets get empty defaults so env overrides are
	// picked up by Unmarshal even when the YAML file omits them.
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("discord.enabled", false)
	v.SetDefault("discord.bot_token", "")
	v.SetDefault("discord.channel_id", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel", "kickoff_discrepancies")
	v.SetDefault("kafka.topic", "kickoff.discrepancies")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/kickoffwatch.db")
	v.SetDefault("storage.retention", "168h")

	// Export defaults
	v.SetDefault("export.enabled", true)
	v.SetDefault("export.csv_path", "./data/matches_with_varying_times.csv")
	v.SetDefault("export.json_dir", "./data")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9095")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate sources
	enabled := 0
	seen := make(map[string]bool)
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if seen[src.Name] {
			return fmt.Errorf("sources[%d].name %q is duplicated", i, src.Name)
		}
		seen[src.Name] = true
		if src.URL == "" {
			return fmt.Errorf("sources[%d].url is required", i)
		}
		if src.Timezone != "" {
			if _, err := time.LoadLocation(src.Timezone); err != nil {
				return fmt.Errorf("sources[%d].timezone is invalid: %w", i, err)
			}
		}
		if src.Enabled {
			enabled++
		}
	}
	if enabled < 2 {
		return fmt.Errorf("at least two sources must be enabled to compare kickoff times")
	}

	// Validate Feed config
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}
	if c.Feed.MaxRetries < 1 {
		return fmt.Errorf("feed.max_retries must be at least 1")
	}
	if c.Feed.Concurrency < 1 {
		return fmt.Errorf("feed.concurrency must be at least 1")
	}

	// Validate Monitor config
	if c.Monitor.FuzzyMatchThreshold < 0.0 || c.Monitor.FuzzyMatchThreshold > 1.0 {
		return fmt.Errorf("monitor.fuzzy_match_threshold must be between 0.0 and 1.0")
	}
	if c.Monitor.TimeVariationToleranceMinutes < 0 {
		return fmt.Errorf("monitor.time_variation_tolerance_minutes must not be negative")
	}
	if c.Monitor.MinLeadTime < 0 {
		return fmt.Errorf("monitor.min_lead_time must not be negative")
	}
	if _, err := time.LoadLocation(c.Monitor.Timezone); err != nil {
		return fmt.Errorf("monitor.timezone is invalid: %w", err)
	}
	if c.Monitor.AlertCooldown < 0 {
		return fmt.Errorf("monitor.alert_cooldown must not be negative")
	}

	// Validate Schedule config
	if c.Schedule.MinInterval < 30*time.Second {
		return fmt.Errorf("schedule.min_interval must be at least 30 seconds")
	}
	if c.Schedule.MaxInterval < c.Schedule.MinInterval {
		return fmt.Errorf("schedule.max_interval must be >= schedule.min_interval")
	}
	if c.Schedule.FallbackInterval < c.Schedule.MinInterval {
		return fmt.Errorf("schedule.fallback_interval must be >= schedule.min_interval")
	}
	if c.Schedule.BackoffBase <= 0 || c.Schedule.BackoffMax < c.Schedule.BackoffBase {
		return fmt.Errorf("schedule.backoff_base must be positive and <= schedule.backoff_max")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Discord config
	if c.Discord.Enabled {
		if c.Discord.BotToken == "" {
			return fmt.Errorf("discord.bot_token is required when discord is enabled")
		}
		if c.Discord.ChannelID == "" {
			return fmt.Errorf("discord.channel_id is required when discord is enabled")
		}
	}

	// Validate broker config
	if c.Redis.Enabled && (c.Redis.Addr == "" || c.Redis.Channel == "") {
		return fmt.Errorf("redis.addr and redis.channel are required when redis is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.Retention < time.Hour {
		return fmt.Errorf("storage.retention must be at least 1 hour")
	}

	if c.Export.Enabled && c.Export.CSVPath == "" && c.Export.JSONDir == "" {
		return fmt.Errorf("export.csv_path or export.json_dir is required when export is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// EnabledSources returns the sources with enabled set, in configuration order.
func (c *Config) EnabledSources() []SourceConfig {
	var out []SourceConfig
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Location returns the reference timezone all kickoff times are converted to.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Monitor.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
