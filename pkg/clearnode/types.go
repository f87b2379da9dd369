package clearnode

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/hookpay/clearnode-go/pkg/auth"
	"github.com/hookpay/clearnode-go/pkg/config"
	"github.com/hookpay/clearnode-go/pkg/connection"
	"github.com/hookpay/clearnode-go/pkg/wire"
)

// Client errors.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrConnectionClosed = errors.New("connection closed")
	ErrClientClosed     = errors.New("client closed")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Errors surfaced by the client that originate in other packages.
var (
	ErrConnectionTimeout  = connection.ErrConnectionTimeout
	ErrReconnectExhausted = connection.ErrReconnectExhausted
)

// DefaultRequestTimeout bounds the wait for a response.
const DefaultRequestTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	// URL is the node's WebSocket endpoint.
	URL string

	// ConnectionTimeout bounds how long the transport may take to open.
	ConnectionTimeout time.Duration

	// RequestTimeout bounds each application request.
	RequestTimeout time.Duration

	// Reconnect configures backoff after unexpected closes.
	Reconnect connection.PolicyConfig

	// Auth configures the policy requested at authentication.
	Auth auth.Settings

	// SessionKey is the address authorized to act for the wallet. A random
	// one is generated when empty.
	SessionKey string

	// Credential is a token from an earlier session. When usable it lets the
	// first handshake skip the challenge.
	Credential string

	// RateLimit caps outbound application requests per second. Zero
	// disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

// DefaultConfig returns a configuration for url with every default applied.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		ConnectionTimeout: connection.DefaultConnectionTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		Reconnect: connection.PolicyConfig{
			MaxAttempts:  connection.DefaultMaxAttempts,
			BaseInterval: connection.DefaultBaseInterval,
		},
		Auth: auth.Settings{
			AppName:     config.DefaultAppName,
			Scope:       config.DefaultScope,
			Application: config.DefaultApplication,
			ExpireDays:  config.DefaultExpireDays,
		},
	}
}

// ConfigFrom converts a loaded configuration file. The session key is not
// copied: the file holds a private key, so callers derive the address.
func ConfigFrom(c *config.Config) Config {
	allowances := make([]wire.Allowance, 0, len(c.Auth.Allowances))
	for _, a := range c.Auth.Allowances {
		allowances = append(allowances, wire.Allowance{Asset: a.Asset, Amount: a.Amount})
	}
	return Config{
		URL:               c.URL,
		ConnectionTimeout: c.Timeout.Connection,
		RequestTimeout:    c.Timeout.Request,
		Reconnect: connection.PolicyConfig{
			MaxAttempts:  c.Reconnect.MaxAttempts,
			BaseInterval: c.Reconnect.Interval,
			MaxDelay:     c.Reconnect.MaxDelay,
		},
		Auth: auth.Settings{
			AppName:     c.Auth.AppName,
			Scope:       c.Auth.Scope,
			Application: c.Auth.Application,
			ExpireDays:  c.Auth.ExpireDays,
			Allowances:  allowances,
		},
		Credential: c.Auth.Credential,
		RateLimit:  rate.Limit(c.Rate.RequestsPerSecond),
		RateBurst:  c.Rate.Burst,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.Join(ErrInvalidConfig, errors.New("url is required"))
	}
	if c.ConnectionTimeout < 0 || c.RequestTimeout < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("timeouts must not be negative"))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("rate must not be negative"))
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig(c.URL)
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.Auth.AppName == "" {
		c.Auth.AppName = d.Auth.AppName
	}
	if c.Auth.Scope == "" {
		c.Auth.Scope = d.Auth.Scope
	}
	if c.Auth.Application == "" {
		c.Auth.Application = d.Auth.Application
	}
	if c.Auth.ExpireDays == 0 {
		c.Auth.ExpireDays = d.Auth.ExpireDays
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = 1
	}
}
