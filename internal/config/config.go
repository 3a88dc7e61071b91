// Package config loads the engine configuration from a YAML file with
// environment-variable overrides for secrets and deploy-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the follow-up engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Gmail    GmailConfig    `yaml:"gmail"`
	SES      SESConfig      `yaml:"ses"`
	IMAP     IMAPConfig     `yaml:"imap"`
	Drafting DraftingConfig `yaml:"drafting"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CronSecret string `yaml:"cron_secret"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis address used for run locking.
// Empty Addr disables Redis; locking falls back to PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig holds batch scheduling settings.
type EngineConfig struct {
	BatchLimit          int           `yaml:"batch_limit"`
	TickInterval        time.Duration `yaml:"tick_interval"`
	ReplyPollInterval   time.Duration `yaml:"reply_poll_interval"`
	ReclaimStuckAfter   time.Duration `yaml:"reclaim_stuck_after"`
	ReclaimStuckEnabled bool          `yaml:"reclaim_stuck_enabled"`
	WindDownTemplate    string        `yaml:"wind_down_template"`
}

// GmailConfig holds Google OAuth application credentials.
// InboxOwnerID selects whose mailbox the inbound poller reads when IMAP
// is not configured.
type GmailConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
	InboxOwnerID string `yaml:"inbox_owner_id"`
}

// SESConfig holds AWS SES credentials for the SES send path.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	FromEmail string `yaml:"from_email"`
}

// Enabled reports whether the SES path is configured.
func (s SESConfig) Enabled() bool { return s.AccessKey != "" && s.SecretKey != "" }

// IMAPConfig holds settings for the IMAP inbound poller.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"`
}

// Enabled reports whether IMAP polling is configured.
func (i IMAPConfig) Enabled() bool { return i.Host != "" }

// DraftingConfig holds the message drafting provider settings.
type DraftingConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads the YAML file at path and applies defaults. A missing file
// is not an error when path is empty; defaults plus env apply.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads the YAML config (if path is non-empty) and then
// applies environment overrides. A .env file is honored when present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Server.CronSecret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Gmail.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Gmail.ClientSecret = v
	}
	if v := os.Getenv("GMAIL_INBOX_OWNER_ID"); v != "" {
		cfg.Gmail.InboxOwnerID = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("IMAP_PASSWORD"); v != "" {
		cfg.IMAP.Password = v
	}
	if v := os.Getenv("DRAFTING_API_KEY"); v != "" {
		cfg.Drafting.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Engine.BatchLimit == 0 {
		c.Engine.BatchLimit = 50
	}
	if c.Engine.TickInterval == 0 {
		c.Engine.TickInterval = 5 * time.Minute
	}
	if c.Engine.ReplyPollInterval == 0 {
		c.Engine.ReplyPollInterval = 5 * time.Minute
	}
	if c.Engine.ReclaimStuckAfter == 0 {
		c.Engine.ReclaimStuckAfter = 30 * time.Minute
	}
	if c.Gmail.BaseURL == "" {
		c.Gmail.BaseURL = "https://gmail.googleapis.com"
	}
	if c.SES.Region == "" {
		c.SES.Region = "us-east-1"
	}
	if c.IMAP.Port == 0 {
		c.IMAP.Port = 993
	}
	if c.IMAP.Mailbox == "" {
		c.IMAP.Mailbox = "INBOX"
	}
	if c.Drafting.BaseURL == "" {
		c.Drafting.BaseURL = "https://api.openai.com/v1"
	}
	if c.Drafting.Model == "" {
		c.Drafting.Model = "gpt-4o-mini"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
