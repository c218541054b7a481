package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort            = 8080
	DefaultLogLevel            = "info"
	DefaultPerformanceCapacity = 1000
	DefaultSecurityCapacity    = 1000
	DefaultUserMetricCapacity  = 10000
	DefaultMetricCapacity      = 1000
	DefaultAlertCapacity       = 100
	DefaultSampleRetention     = 7 * 24 * time.Hour
	DefaultAlertRetention      = 30 * 24 * time.Hour
	DefaultSweepInterval       = time.Hour
	DefaultSlowResponseMs      = 5000
	DefaultDegradedResponseMs  = 3000
	DefaultUnhealthyErrorRate  = 10.0
	DefaultWebhookTimeout      = 10 * time.Second
	DefaultBroadcastInterval   = 5 * time.Second
	DefaultScrapeInterval      = 15 * time.Second
	DefaultCollectorInterval   = 30 * time.Second
)

// Environment variables read by the default webhook channels.
const (
	SlackWebhookEnv   = "SLACK_WEBHOOK_URL"
	DiscordWebhookEnv = "DISCORD_WEBHOOK_URL"
)

// Config is the full server configuration parsed from config.yaml.
type Config struct {
	Log           LogConfig           `yaml:"log"`
	Server        ServerConfig        `yaml:"server"`
	Limits        LimitsConfig        `yaml:"limits"`
	Retention     RetentionConfig     `yaml:"retention"`
	Thresholds    ThresholdsConfig    `yaml:"thresholds"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	Scrape        ScrapeConfig        `yaml:"scrape"`
	Collector     CollectorConfig     `yaml:"collector"`
}

// LogConfig controls the process-wide slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel maps Level to a slog.Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ServerConfig holds listener and access settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, ingest endpoints and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates API and ingest clients.
	Auth AuthConfig `yaml:"auth"`

	// RateLimit bounds ingest requests per client. Zero RPS disables limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// RateLimitConfig bounds ingest requests per client IP.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`

	// TrustForwardedFor keys clients on the first X-Forwarded-For hop. Enable
	// only behind a proxy that sets the header itself.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// LimitsConfig caps every in-memory store.
type LimitsConfig struct {
	Performance int `yaml:"performance"`
	Security    int `yaml:"security"`
	UserMetrics int `yaml:"user_metrics"`
	// Metric is the capacity of each named metric series.
	Metric int `yaml:"metric"`
	Alerts int `yaml:"alerts"`
}

// RetentionConfig controls the age-based sweeper.
type RetentionConfig struct {
	Samples       time.Duration `yaml:"samples"`
	Alerts        time.Duration `yaml:"alerts"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ThresholdsConfig holds the alert rule and health boundaries. It is the only
// section besides log that is re-applied on hot reload.
type ThresholdsConfig struct {
	SlowResponseMs     int     `yaml:"slow_response_ms"`
	DegradedResponseMs float64 `yaml:"degraded_response_ms"`
	UnhealthyErrorRate float64 `yaml:"unhealthy_error_rate"`
}

// NotificationsConfig lists webhook targets for new alerts. Without a
// webhooks key the slack and discord channels are read from
// SLACK_WEBHOOK_URL and DISCORD_WEBHOOK_URL; a webhooks list in the file
// replaces them.
type NotificationsConfig struct {
	Timeout  time.Duration   `yaml:"timeout"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Name identifies the channel in logs and metrics. Defaults to the type.
	Name string `yaml:"name"`

	// Type is one of: slack | discord | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// DashboardConfig controls the dashboard snapshot and its WebSocket stream.
type DashboardConfig struct {
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// Metrics are the named metrics whose latest value is shown on the dashboard.
	Metrics []string `yaml:"metrics"`
}

// ScrapeConfig lists Prometheus endpoints polled into named metrics.
type ScrapeConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Targets  []ScrapeTarget `yaml:"targets"`
}

// ScrapeTarget is one Prometheus text endpoint.
type ScrapeTarget struct {
	// Name prefixes every metric recorded from this target.
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`

	// Families lists the metric family names to sum and record.
	Families []string `yaml:"families"`
}

// CollectorConfig enables host CPU and memory sampling.
type CollectorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored. With no arguments it reads ".env".
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns a valid Config populated with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: DefaultLogLevel},
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
		},
		Limits: LimitsConfig{
			Performance: DefaultPerformanceCapacity,
			Security:    DefaultSecurityCapacity,
			UserMetrics: DefaultUserMetricCapacity,
			Metric:      DefaultMetricCapacity,
			Alerts:      DefaultAlertCapacity,
		},
		Retention: RetentionConfig{
			Samples:       DefaultSampleRetention,
			Alerts:        DefaultAlertRetention,
			SweepInterval: DefaultSweepInterval,
		},
		Thresholds: ThresholdsConfig{
			SlowResponseMs:     DefaultSlowResponseMs,
			DegradedResponseMs: DefaultDegradedResponseMs,
			UnhealthyErrorRate: DefaultUnhealthyErrorRate,
		},
		Notifications: NotificationsConfig{
			Timeout: DefaultWebhookTimeout,
			// A channel whose variable is unset is dropped at startup.
			Webhooks: []WebhookConfig{
				{Name: "slack", Type: "slack", URLEnv: SlackWebhookEnv},
				{Name: "discord", Type: "discord", URLEnv: DiscordWebhookEnv},
			},
		},
		Dashboard: DashboardConfig{
			BroadcastInterval: DefaultBroadcastInterval,
			Metrics:           []string{"totalUsers", "activeSessions"},
		},
		Scrape: ScrapeConfig{
			Interval: DefaultScrapeInterval,
		},
		Collector: CollectorConfig{
			Interval: DefaultCollectorInterval,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.RateLimit.RPS < 0 || cfg.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit values must not be negative")
	}

	l := cfg.Limits
	if l.Performance <= 0 || l.Security <= 0 || l.UserMetrics <= 0 || l.Metric <= 0 || l.Alerts <= 0 {
		return fmt.Errorf("limits: every capacity must be positive")
	}
	if cfg.Retention.Samples <= 0 || cfg.Retention.Alerts <= 0 {
		return fmt.Errorf("retention: samples and alerts must be positive")
	}
	if cfg.Retention.SweepInterval < 0 {
		return fmt.Errorf("retention.sweep_interval must not be negative")
	}
	if err := validateThresholds(cfg.Thresholds); err != nil {
		return err
	}

	for i, wh := range cfg.Notifications.Webhooks {
		switch wh.Type {
		case "slack", "discord", "teams", "http":
		default:
			return fmt.Errorf("notifications.webhooks[%d].type %q unknown: want slack|discord|teams|http", i, wh.Type)
		}
		if wh.URLEnv == "" {
			return fmt.Errorf("notifications.webhooks[%d].url_env is required", i)
		}
		if wh.Name == "" {
			cfg.Notifications.Webhooks[i].Name = wh.Type
		}
	}

	for i, t := range cfg.Scrape.Targets {
		if t.Name == "" || t.Endpoint == "" {
			return fmt.Errorf("scrape.targets[%d]: name and endpoint are required", i)
		}
		if len(t.Families) == 0 {
			return fmt.Errorf("scrape.targets[%d] (%s): at least one family is required", i, t.Name)
		}
	}
	return nil
}

func validateThresholds(t ThresholdsConfig) error {
	if t.SlowResponseMs <= 0 {
		return fmt.Errorf("thresholds.slow_response_ms must be positive")
	}
	if t.DegradedResponseMs <= 0 || t.DegradedResponseMs >= float64(t.SlowResponseMs) {
		return fmt.Errorf("thresholds.degraded_response_ms %.0f must be positive and below slow_response_ms %d",
			t.DegradedResponseMs, t.SlowResponseMs)
	}
	if t.UnhealthyErrorRate <= 0 || t.UnhealthyErrorRate > 100 {
		return fmt.Errorf("thresholds.unhealthy_error_rate %.2f is out of range (0, 100]", t.UnhealthyErrorRate)
	}
	return nil
}
