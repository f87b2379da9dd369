// Package config loads client configuration from YAML files.
//
// Values of the form ${VAR_NAME} are replaced with the named environment
// variable before parsing, so secrets such as the private key can stay out
// of the file. Durations are written as Go duration strings ("3s", "1m30s").
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultMaxAttempts       = 2
	DefaultReconnectInterval = 3 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
	DefaultAppName           = "JSR App"
	DefaultScope             = "console"
	DefaultApplication       = "0x0000000000000000000000000000000000000000"
	DefaultExpireDays        = 10
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// ErrMissingURL is returned by Validate when no node URL is configured.
var ErrMissingURL = errors.New("url is required")

// Config is the complete client configuration.
type Config struct {
	URL        string          `yaml:"url"`
	PrivateKey string          `yaml:"private_key"`
	SessionKey string          `yaml:"session_key"`
	Reconnect  ReconnectConfig `yaml:"reconnect"`
	Timeout    TimeoutConfig   `yaml:"timeout"`
	Auth       AuthConfig      `yaml:"auth"`
	Rate       RateConfig      `yaml:"rate"`
	Logging    LoggingConfig   `yaml:"logging"`
	Metrics    MetricsConfig   `yaml:"metrics"`
}

// ReconnectConfig holds the backoff settings.
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"-"`
	MaxDelay    time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
	MaxDelayRaw string `yaml:"max_delay"`
}

// TimeoutConfig holds connection and request deadlines.
type TimeoutConfig struct {
	Connection time.Duration `yaml:"-"`
	Request    time.Duration `yaml:"-"`

	ConnectionRaw string `yaml:"connection"`
	RequestRaw    string `yaml:"request"`
}

// AuthConfig holds the values sent in auth_request and signed in the
// policy message.
type AuthConfig struct {
	AppName     string           `yaml:"app_name"`
	Scope       string           `yaml:"scope"`
	Application string           `yaml:"application"`
	ExpireDays  int              `yaml:"expire_days"`
	Allowances  []AllowanceEntry `yaml:"allowances"`
	Credential  string           `yaml:"credential"`
}

// AllowanceEntry is one spending allowance.
type AllowanceEntry struct {
	Asset  string `yaml:"asset"`
	Amount string `yaml:"amount"`
}

// RateConfig limits outbound application requests. Zero disables limiting.
type RateConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig controls operational and protocol logging.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	ProtocolLog string `yaml:"protocol_log"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		Reconnect: ReconnectConfig{
			MaxAttempts: DefaultMaxAttempts,
			Interval:    DefaultReconnectInterval,
		},
		Timeout: TimeoutConfig{
			Connection: DefaultConnectionTimeout,
			Request:    DefaultRequestTimeout,
		},
		Auth: AuthConfig{
			AppName:     DefaultAppName,
			Scope:       DefaultScope,
			Application: DefaultApplication,
			ExpireDays:  DefaultExpireDays,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads the file at path, expands environment variables, applies
// defaults for missing values and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or an empty
// string when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url: scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Reconnect.Interval < 0 || c.Reconnect.MaxDelay < 0 {
		return fmt.Errorf("reconnect: durations must not be negative")
	}
	if c.Timeout.Connection < 0 || c.Timeout.Request < 0 {
		return fmt.Errorf("timeout: durations must not be negative")
	}
	if c.Auth.ExpireDays < 0 {
		return fmt.Errorf("auth.expire_days must not be negative")
	}
	for i, a := range c.Auth.Allowances {
		if a.Asset == "" || a.Amount == "" {
			return fmt.Errorf("auth.allowances[%d]: asset and amount are required", i)
		}
	}
	if c.Rate.RequestsPerSecond < 0 || c.Rate.Burst < 0 {
		return fmt.Errorf("rate: values must not be negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"reconnect.interval", cfg.Reconnect.IntervalRaw, &cfg.Reconnect.Interval},
		{"reconnect.max_delay", cfg.Reconnect.MaxDelayRaw, &cfg.Reconnect.MaxDelay},
		{"timeout.connection", cfg.Timeout.ConnectionRaw, &cfg.Timeout.Connection},
		{"timeout.request", cfg.Timeout.RequestRaw, &cfg.Timeout.Request},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
