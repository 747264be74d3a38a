package gateway

import (
	"time"

	"github.com/flemzord/ragchat/internal/security"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind      string                   `yaml:"bind"`
	Auth      AuthConfig               `yaml:"auth"`
	RateLimit security.RateLimitConfig `yaml:"rate_limit"`

	// TrustProxy takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxy bool `yaml:"trust_proxy"`

	// MaxBodyBytes caps request bodies and WebSocket frames.
	MaxBodyBytes int `yaml:"max_body_bytes"`

	// HistoryLimit is how many turns GET /sessions/{id} returns.
	HistoryLimit int `yaml:"history_limit"`

	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout applies to the whole response, streams included. Zero
	// leaves streamed turns bounded by the model stream timeout alone.
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = security.DefaultMaxMessageSize
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// AuthConfig configures authentication. When neither method is set every
// route is public.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
