package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the send pipeline binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Mail     MailConfig     `yaml:"mail"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the pool connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds the optional Redis connection. An empty URL disables
// wake-up signals and falls back to Postgres advisory locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Enabled reports whether a Redis URL was configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

// SMTPConfig holds the outbound relay settings used by the send worker.
type SMTPConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	User                   string `yaml:"user"`
	Pass                   string `yaml:"pass"`
	Secure                 bool   `yaml:"secure"`
	AllowInvalidTLS        bool   `yaml:"allow_invalid_tls"`
	ConnectTimeoutSeconds  int    `yaml:"connect_timeout_seconds"`
	GreetingTimeoutSeconds int    `yaml:"greeting_timeout_seconds"`
	SocketTimeoutSeconds   int    `yaml:"socket_timeout_seconds"`
}

// ErrSMTPNotConfigured is returned by Validate when host, user or password is blank.
var ErrSMTPNotConfigured = errors.New("smtp: SMTP_HOST, SMTP_USER and SMTP_PASS must be set")

// Validate checks the settings the worker cannot start without.
func (c SMTPConfig) Validate() error {
	if c.Host == "" || c.User == "" || c.Pass == "" {
		return ErrSMTPNotConfigured
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("smtp: invalid port %d", c.Port)
	}
	return nil
}

// ConnectTimeout bounds the TCP (and implicit TLS) handshake.
func (c SMTPConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// GreetingTimeout bounds the wait for the server banner.
func (c SMTPConfig) GreetingTimeout() time.Duration {
	return time.Duration(c.GreetingTimeoutSeconds) * time.Second
}

// SocketTimeout bounds each command/response exchange.
func (c SMTPConfig) SocketTimeout() time.Duration {
	return time.Duration(c.SocketTimeoutSeconds) * time.Second
}

// MailConfig holds sender defaults and the public URL base for tracking links.
type MailConfig struct {
	FromName   string `yaml:"from_name"`
	FromEmail  string `yaml:"from_email"`
	AppBaseURL string `yaml:"app_base_url"`
}

// WorkerConfig tunes the send worker loop.
type WorkerConfig struct {
	PollMS          int    `yaml:"poll_ms"`
	DelayMinMS      int    `yaml:"delay_min_ms"`
	DelayMaxMS      int    `yaml:"delay_max_ms"`
	MaxAttempts     int    `yaml:"max_attempts"`
	LeaseSeconds    int    `yaml:"lease_seconds"`
	RecoverySeconds int    `yaml:"recovery_seconds"`
	MetricsAddr     string `yaml:"metrics_addr"`
}

// PollInterval returns the idle wait between claim attempts.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollMS) * time.Millisecond
}

// DelayMin returns the lower bound of the inter-send delay.
func (c WorkerConfig) DelayMin() time.Duration {
	return time.Duration(c.DelayMinMS) * time.Millisecond
}

// DelayMax returns the upper bound of the inter-send delay.
func (c WorkerConfig) DelayMax() time.Duration {
	return time.Duration(c.DelayMaxMS) * time.Millisecond
}

// Lease returns how long a running job may go without progress before it is
// considered abandoned.
func (c WorkerConfig) Lease() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// RecoveryInterval returns how often the stale-job sweep runs.
func (c WorkerConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoverySeconds) * time.Second
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the configuration file. An empty path yields the
// defaults.
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

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = "postgres://localhost:5432/phishsense?sslmode=disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.SMTP.ConnectTimeoutSeconds == 0 {
		cfg.SMTP.ConnectTimeoutSeconds = 10
	}
	if cfg.SMTP.GreetingTimeoutSeconds == 0 {
		cfg.SMTP.GreetingTimeoutSeconds = 10
	}
	if cfg.SMTP.SocketTimeoutSeconds == 0 {
		cfg.SMTP.SocketTimeoutSeconds = 10
	}
	if cfg.Mail.AppBaseURL == "" {
		cfg.Mail.AppBaseURL = "http://localhost:3000"
	}
	if cfg.Worker.PollMS == 0 {
		cfg.Worker.PollMS = 1500
	}
	if cfg.Worker.DelayMinMS == 0 && cfg.Worker.DelayMaxMS == 0 {
		cfg.Worker.DelayMinMS = 200
		cfg.Worker.DelayMaxMS = 400
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = 3
	}
	if cfg.Worker.LeaseSeconds == 0 {
		cfg.Worker.LeaseSeconds = 600
	}
	if cfg.Worker.RecoverySeconds == 0 {
		cfg.Worker.RecoverySeconds = 60
	}
	if cfg.Worker.MetricsAddr == "" {
		cfg.Worker.MetricsAddr = ":9102"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := env("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	envInt("PORT", &cfg.Server.Port, 1)

	if v := env("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := env("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}

	// SMTP
	if v := env("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := env("SMTP_USER"); v != "" {
		cfg.SMTP.User = v
	}
	if v := env("SMTP_PASS"); v != "" {
		cfg.SMTP.Pass = v
	}
	envInt("SMTP_PORT", &cfg.SMTP.Port, 1)
	envBool("SMTP_SECURE", &cfg.SMTP.Secure)
	envBool("SMTP_ALLOW_INVALID_TLS", &cfg.SMTP.AllowInvalidTLS)

	// Sender defaults and link base
	if v := env("MAIL_FROM_NAME"); v != "" {
		cfg.Mail.FromName = v
	}
	if v := env("MAIL_FROM_EMAIL"); v != "" {
		cfg.Mail.FromEmail = v
	}
	if v := env("APP_BASE_URL"); v != "" {
		cfg.Mail.AppBaseURL = v
	} else if v := env("APP_URL"); v != "" {
		cfg.Mail.AppBaseURL = v
	}
	cfg.Mail.AppBaseURL = strings.TrimRight(cfg.Mail.AppBaseURL, "/")

	// Worker tuning
	envInt("SEND_WORKER_POLL_MS", &cfg.Worker.PollMS, 1)
	envInt("SEND_WORKER_DELAY_MIN_MS", &cfg.Worker.DelayMinMS, 0)
	envInt("SEND_WORKER_DELAY_MAX_MS", &cfg.Worker.DelayMaxMS, 0)
	envInt("SEND_WORKER_MAX_ATTEMPTS", &cfg.Worker.MaxAttempts, 1)
	envInt("SEND_WORKER_LEASE_SECONDS", &cfg.Worker.LeaseSeconds, 1)
	envInt("SEND_WORKER_RECOVERY_SECONDS", &cfg.Worker.RecoverySeconds, 1)
	if v := env("METRICS_ADDR"); v != "" {
		cfg.Worker.MetricsAddr = v
	}

	if v := env("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// envInt overrides dst when key holds an integer >= floor. Unparseable values
// leave the current setting in place.
func envInt(key string, dst *int, floor int) {
	v := env(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < floor {
		return
	}
	*dst = n
}

// envBool treats only "true" (any case) as true.
func envBool(key string, dst *bool) {
	if v := env(key); v != "" {
		*dst = strings.EqualFold(v, "true")
	}
}
