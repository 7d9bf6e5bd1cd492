package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all Hotel Price Guardian configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Areas     AreasConfig     `mapstructure:"areas"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	Path        string `mapstructure:"path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// ProviderConfig defines the priced-inventory provider.
type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	ClientID          string        `mapstructure:"client_id"`
	ClientSecret      string        `mapstructure:"client_secret"`
	Timeout           time.Duration `mapstructure:"timeout"`
	TokenMargin       time.Duration `mapstructure:"token_margin"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxResults        int           `mapstructure:"max_results"`
	DefaultAdults     int           `mapstructure:"default_adults"`
	Fallback          bool          `mapstructure:"fallback"`
}

// AreasConfig points at an optional area table override.
type AreasConfig struct {
	File string `mapstructure:"file"`
}

// QuotaConfig defines the per-user action allowance.
type QuotaConfig struct {
	DailyActions int           `mapstructure:"daily_actions"`
	Window       time.Duration `mapstructure:"window"`
}

// AlertsConfig defines alert registry limits.
type AlertsConfig struct {
	MaxActivePerUser int `mapstructure:"max_active_per_user"`
}

// EngineConfig defines the background evaluation loop.
type EngineConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Interval             time.Duration `mapstructure:"interval"`
	EvaluationTimeout    time.Duration `mapstructure:"evaluation_timeout"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
	FailureThreshold     int           `mapstructure:"failure_threshold"`
	Concurrency          int           `mapstructure:"concurrency"`
	NotifyOnDeactivation bool          `mapstructure:"notify_on_deactivation"`
	RunOnStart           bool          `mapstructure:"run_on_start"`
}

// NotifyConfig defines notification sinks.
type NotifyConfig struct {
	Log      bool           `mapstructure:"log"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig defines the user-facing Telegram bot.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	BaseURL  string `mapstructure:"base_url"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// CacheConfig defines the search result cache.
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
}

// RecommendConfig defines the recommendation provider.
type RecommendConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	PromptBudget int           `mapstructure:"prompt_budget"`
	Encoding     string        `mapstructure:"encoding"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ServerConfig defines the HTTP API.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Metrics      bool          `mapstructure:"metrics"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file, dotenv files and environment variables.
// Environment variables use the HPG_ prefix. Without envFiles, ./.env is read
// when present; variables already set in the environment win.
func Load(cfgFile string, envFiles ...string) (*Config, error) {
	if err := loadDotenv(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".hpg"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("HPG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so that env overrides apply to all of them.
func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(home, ".hpg", "guardian.db"))
	v.SetDefault("storage.postgres_url", "")

	v.SetDefault("provider.base_url", "https://test.api.amadeus.com")
	v.SetDefault("provider.client_id", "")
	v.SetDefault("provider.client_secret", "")
	v.SetDefault("provider.timeout", "15s")
	v.SetDefault("provider.token_margin", "60s")
	v.SetDefault("provider.requests_per_second", 5.0)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("provider.max_results", 5)
	v.SetDefault("provider.default_adults", 2)
	v.SetDefault("provider.fallback", true)

	v.SetDefault("areas.file", "")

	v.SetDefault("quota.daily_actions", 50)
	v.SetDefault("quota.window", "24h")

	v.SetDefault("alerts.max_active_per_user", 10)

	v.SetDefault("engine.enabled", true)
	v.SetDefault("engine.interval", "30m")
	v.SetDefault("engine.evaluation_timeout", "30s")
	v.SetDefault("engine.cooldown", "12h")
	v.SetDefault("engine.failure_threshold", 5)
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.notify_on_deactivation", true)
	v.SetDefault("engine.run_on_start", true)

	v.SetDefault("notify.log", true)
	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.base_url", "https://api.telegram.org")
	v.SetDefault("notify.slack.enabled", false)
	v.SetDefault("notify.slack.webhook_url", "")
	v.SetDefault("notify.slack.channel", "#hotel-prices")
	v.SetDefault("notify.webhook.enabled", false)
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.secret", "")

	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.prefix", "hpg:")

	v.SetDefault("recommend.base_url", "https://api.anthropic.com")
	v.SetDefault("recommend.api_key", "")
	v.SetDefault("recommend.model", "claude-3-5-haiku-latest")
	v.SetDefault("recommend.max_tokens", 400)
	v.SetDefault("recommend.prompt_budget", 2000)
	v.SetDefault("recommend.encoding", "cl100k_base")
	v.SetDefault("recommend.timeout", "30s")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.metrics", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func loadDotenv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Storage.Driver == "sqlite" || c.Storage.Driver == "postgres",
		"storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	check(c.Storage.Driver != "postgres" || c.Storage.PostgresURL != "",
		"storage.postgres_url is required with the postgres driver")
	check(c.Quota.DailyActions > 0, "quota.daily_actions must be positive")
	check(c.Quota.Window > 0, "quota.window must be positive")
	check(c.Alerts.MaxActivePerUser >= 0, "alerts.max_active_per_user must not be negative")
	check(c.Engine.Interval > 0, "engine.interval must be positive")
	check(c.Engine.EvaluationTimeout > 0, "engine.evaluation_timeout must be positive")
	check(c.Engine.Cooldown >= 0, "engine.cooldown must not be negative")
	check(c.Engine.FailureThreshold > 0, "engine.failure_threshold must be positive")
	check(c.Engine.Concurrency > 0, "engine.concurrency must be positive")
	check(c.Provider.MaxResults > 0, "provider.max_results must be positive")
	check(c.Provider.DefaultAdults >= 1 && c.Provider.DefaultAdults <= 9, "provider.default_adults must be between 1 and 9")
	check(c.Cache.TTL >= 0, "cache.ttl must not be negative")
	check(!c.Notify.Telegram.Enabled || c.Notify.Telegram.BotToken != "",
		"notify.telegram.bot_token is required when telegram is enabled")
	check(!c.Notify.Slack.Enabled || c.Notify.Slack.WebhookURL != "",
		"notify.slack.webhook_url is required when slack is enabled")
	check(!c.Notify.Webhook.Enabled || c.Notify.Webhook.URL != "",
		"notify.webhook.url is required when the webhook is enabled")
	check(c.Logging.Format == "json" || c.Logging.Format == "text",
		"logging.format must be json or text, got %q", c.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
