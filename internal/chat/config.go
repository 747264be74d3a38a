// Package chat drives conversation turns end to end: retrieval, bounded
// prompt assembly, the model call (buffered or streamed), the atomic commit
// of the exchange, and background compaction.
package chat

import (
	"errors"
	"log/slog"
	"time"

	ctxengine "github.com/flemzord/ragchat/internal/context"
	"github.com/flemzord/ragchat/internal/prompt"
	"github.com/flemzord/ragchat/internal/provider"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/session"
)

// Settings are the tunable knobs of the orchestrator, decoded from the
// "chat" configuration section.
type Settings struct {
	ctxengine.Config `yaml:",inline"`

	// SystemPrompt is sent ahead of every prompt. Defaults to prompt.System.
	SystemPrompt string `yaml:"system_prompt"`

	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	MaxTokens   int      `yaml:"max_tokens"`

	// ModelTimeout bounds a buffered model call.
	ModelTimeout time.Duration `yaml:"model_timeout"`

	// StreamTimeout bounds a whole streamed reply.
	StreamTimeout time.Duration `yaml:"stream_timeout"`

	// SerializeTurns runs turns of the same session one at a time, so each
	// turn sees its predecessor's reply.
	SerializeTurns bool `yaml:"serialize_turns"`

	// PreviewLength caps the retrieved-context preview in turn results.
	PreviewLength int `yaml:"preview_length"`

	// SessionTTL evicts sessions idle for longer. Zero keeps them forever.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// WithDefaults returns a copy of s with zero-valued fields replaced by
// defaults.
func (s Settings) WithDefaults() Settings {
	s.Config = s.Config.WithDefaults()
	if s.SystemPrompt == "" {
		s.SystemPrompt = prompt.System
	}
	if s.Temperature == nil {
		s.Temperature = provider.Float64(0.7)
	}
	if s.TopP == nil {
		s.TopP = provider.Float64(0.95)
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = 2048
	}
	if s.ModelTimeout == 0 {
		s.ModelTimeout = time.Minute
	}
	if s.StreamTimeout == 0 {
		s.StreamTimeout = 5 * time.Minute
	}
	if s.PreviewLength == 0 {
		s.PreviewLength = 200
	}
	return s
}

// Validate reports every invalid setting.
func (s Settings) Validate() error {
	errs := []error{s.Config.Validate()}
	if s.ModelTimeout < 0 || s.StreamTimeout < 0 || s.SessionTTL < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if s.MaxTokens < 0 {
		errs = append(errs, errors.New("max_tokens must not be negative"))
	}
	return errors.Join(errs...)
}

// Config wires the orchestrator to its collaborators.
type Config struct {
	Settings Settings

	// Store holds conversation state. Required.
	Store *session.Store

	// Chain answers turns with the primary role. Required.
	Chain *provider.Chain

	// Gate fetches passages. Nil disables retrieval.
	Gate *retrieval.Gate

	// Summarizer produces compaction summaries. Defaults to a
	// ChainSummarizer over Chain.
	Summarizer ctxengine.Summarizer

	// Metrics records turn outcomes. Nil disables metrics.
	Metrics *Metrics

	Logger *slog.Logger

	// Now is injectable for testing. Defaults to time.Now.
	Now func() time.Time
}
