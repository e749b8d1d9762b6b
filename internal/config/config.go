// Package config handles loading and validating the application configuration
// from YAML files with environment variable substitution.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// Config is the top-level application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Source        SourceConfig        `yaml:"source"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig defines the Echo HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig defines PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	PoolSize int    `yaml:"pool_size"`
}

// DSN returns a PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
	)
}

// SourceConfig defines availability source API settings.
type SourceConfig struct {
	// BaseURL is used to build an availability URL for items that don't
	// carry their own.
	BaseURL   string          `yaml:"base_url"`
	Timeout   time.Duration   `yaml:"timeout"`
	Retries   int             `yaml:"retries"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig defines source API rate limiting settings.
type RateLimitConfig struct {
	PerSecond  float64 `yaml:"per_second"`
	Burst      int     `yaml:"burst"`
	DailyLimit int64   `yaml:"daily_limit"`
}

// MonitorConfig defines the poll cycle behavior.
type MonitorConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	ThresholdMinutes  int           `yaml:"threshold_minutes"`
	Regions           []string      `yaml:"regions"`
	FetchConcurrency  int           `yaml:"fetch_concurrency"`
	CycleDeadline     time.Duration `yaml:"cycle_deadline"`
	SnapshotRetention time.Duration `yaml:"snapshot_retention"`
}

// DispatchConfig defines delivery worker pool and retry behavior.
type DispatchConfig struct {
	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	DiscordSpacing time.Duration `yaml:"discord_spacing"`
	SlackSpacing   time.Duration `yaml:"slack_spacing"`
}

// NotificationsConfig defines the system default recipient.
type NotificationsConfig struct {
	Default DefaultRecipientConfig `yaml:"default"`
}

// DefaultRecipientConfig is the file-configured system default webhook.
// The settings table can override the URL and backend at runtime.
type DefaultRecipientConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Backend       string `yaml:"backend"` // discord, slack
	WebhookURL    string `yaml:"webhook_url"`
	Name          string `yaml:"name"`
	BotUsername   string `yaml:"bot_username"`
	AvatarURL     string `yaml:"avatar_url"`
	EmbedColor    string `yaml:"embed_color"`
	MentionRoleID string `yaml:"mention_role_id"`
	SlackChannel  string `yaml:"slack_channel"`
	IncludePrice  *bool  `yaml:"include_price"`
	IncludeSpecs  *bool  `yaml:"include_specs"`
}

// Recipient materializes the default recipient, or nil when not configured.
func (c *DefaultRecipientConfig) Recipient() *domain.Recipient {
	if !c.Enabled || c.WebhookURL == "" {
		return nil
	}
	name := c.Name
	if name == "" {
		name = "System Default"
	}
	includePrice := c.IncludePrice == nil || *c.IncludePrice
	includeSpecs := c.IncludeSpecs == nil || *c.IncludeSpecs
	return &domain.Recipient{
		ID:            "default",
		Kind:          domain.RecipientSystemDefault,
		Backend:       domain.Backend(c.Backend),
		WebhookURL:    c.WebhookURL,
		Name:          name,
		BotUsername:   c.BotUsername,
		AvatarURL:     c.AvatarURL,
		EmbedColor:    c.EmbedColor,
		MentionRoleID: c.MentionRoleID,
		SlackChannel:  c.SlackChannel,
		IncludePrice:  includePrice,
		IncludeSpecs:  includeSpecs,
		Active:        true,
	}
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads and parses a YAML config file, performing environment variable
// substitution and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the YAML content.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applySourceDefaults(&cfg.Source)
	applyMonitorDefaults(&cfg.Monitor)
	applyDispatchDefaults(&cfg.Dispatch)
	applyNotificationsDefaults(&cfg.Notifications)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(s *ServerConfig) {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
}

func applyDatabaseDefaults(d *DatabaseConfig) {
	if d.Port == 0 {
		d.Port = 5432
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
	if d.PoolSize == 0 {
		d.PoolSize = 10
	}
}

func applySourceDefaults(s *SourceConfig) {
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.Retries == 0 {
		s.Retries = 2
	}
	applyRateLimitDefaults(&s.RateLimit)
}

func applyRateLimitDefaults(r *RateLimitConfig) {
	if r.PerSecond == 0 {
		r.PerSecond = 2.0
	}
	if r.Burst == 0 {
		r.Burst = 4
	}
	if r.DailyLimit == 0 {
		r.DailyLimit = 20000
	}
}

func applyMonitorDefaults(m *MonitorConfig) {
	if m.PollInterval == 0 {
		m.PollInterval = 120 * time.Second
	}
	if m.ThresholdMinutes == 0 {
		m.ThresholdMinutes = 60
	}
	if len(m.Regions) == 0 {
		m.Regions = []string{"US"}
	}
	if m.FetchConcurrency == 0 {
		m.FetchConcurrency = 4
	}
	if m.CycleDeadline == 0 {
		m.CycleDeadline = 90 * time.Second
	}
	if m.SnapshotRetention == 0 {
		m.SnapshotRetention = 7 * 24 * time.Hour
	}
}

func applyDispatchDefaults(d *DispatchConfig) {
	if d.Workers == 0 {
		d.Workers = 8
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = 3
	}
	if d.BackoffBase == 0 {
		d.BackoffBase = time.Second
	}
	if d.SendTimeout == 0 {
		d.SendTimeout = 10 * time.Second
	}
	if d.DiscordSpacing == 0 {
		d.DiscordSpacing = 500 * time.Millisecond
	}
	if d.SlackSpacing == 0 {
		d.SlackSpacing = time.Second
	}
}

func applyNotificationsDefaults(n *NotificationsConfig) {
	if n.Default.Backend == "" {
		n.Default.Backend = "discord"
	}
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if cfg.Database.Name == "" {
		errs = append(errs, fmt.Errorf("database.name is required"))
	}
	if cfg.Database.User == "" {
		errs = append(errs, fmt.Errorf("database.user is required"))
	}

	if cfg.Monitor.ThresholdMinutes < 0 {
		errs = append(errs, fmt.Errorf("monitor.threshold_minutes must not be negative"))
	}
	if cfg.Dispatch.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("dispatch.max_attempts must be at least 1"))
	}

	switch cfg.Notifications.Default.Backend {
	case "discord", "slack":
	default:
		errs = append(errs, fmt.Errorf(
			"notifications.default.backend must be one of: discord, slack (got %q)",
			cfg.Notifications.Default.Backend,
		))
	}

	return errors.Join(errs...)
}
