package openaicompat

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	APIKeys   []string `yaml:"api_keys"`
	APIKeyEnv string   `yaml:"api_key_env"`

	Model         string `yaml:"model"`
	ContextWindow int    `yaml:"context_window"`
	MaxTokens     int    `yaml:"max_tokens"`

	// Temperature and TopP apply when a request leaves them unset.
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`

	Headers map[string]string `yaml:"headers"`

	// Timeout bounds the wait for response headers. Streams are bounded by
	// the caller's context instead.
	Timeout time.Duration `yaml:"timeout"`

	// SummarizerModel, when set, adds an internal-role entry so summaries
	// run on a cheaper model.
	SummarizerModel string `yaml:"summarizer_model"`
}

// defaults sets default values for unset fields.
func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = 8192
	}
	if c.BaseURL != "" {
		c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	}
}

// keys returns every configured key, resolving api_key_env last.
func (c *Config) keys() []string {
	var keys []string
	if c.APIKey != "" {
		keys = append(keys, c.APIKey)
	}
	for _, k := range c.APIKeys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if c.APIKeyEnv != "" {
		if v := os.Getenv(c.APIKeyEnv); v != "" {
			keys = append(keys, v)
		}
	}
	return keys
}

// validate reports every missing or invalid field.
func (c *Config) validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errMissingField("base_url"))
	} else {
		u, err := url.Parse(c.BaseURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("provider.openai_compatible: base_url is not a valid URL: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("provider.openai_compatible: base_url scheme must be http or https, got %q", u.Scheme))
		}
	}
	if len(c.keys()) == 0 {
		if c.APIKeyEnv != "" {
			errs = append(errs, fmt.Errorf("provider.openai_compatible: environment variable %s is empty", c.APIKeyEnv))
		} else {
			errs = append(errs, errors.New("provider.openai_compatible: one of api_key, api_keys or api_key_env is required"))
		}
	}
	if c.Model == "" {
		errs = append(errs, errMissingField("model"))
	}
	if c.ContextWindow < 0 {
		errs = append(errs, errors.New("provider.openai_compatible: context_window must not be negative"))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, errors.New("provider.openai_compatible: max_tokens must not be negative"))
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, errors.New("provider.openai_compatible: temperature must be within [0, 2]"))
	}
	if c.TopP != nil && (*c.TopP <= 0 || *c.TopP > 1) {
		errs = append(errs, errors.New("provider.openai_compatible: top_p must be within (0, 1]"))
	}
	return errors.Join(errs...)
}

// errMissingField returns a validation error for a missing required field.
func errMissingField(field string) error {
	return fmt.Errorf("provider.openai_compatible: %s is required", field)
}
