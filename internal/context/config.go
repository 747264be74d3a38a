// Package ctxengine keeps the prompt sent to the model bounded: it assembles
// summary, recent exchanges and retrieved passages under a size budget, and
// compacts old history into a rolling summary.
package ctxengine

import (
	"errors"
	"fmt"
	"time"
)

// TriggerPolicy decides when a session's history is compacted.
type TriggerPolicy string

// Trigger policies.
const (
	// PolicyCount compacts once SinceCompaction reaches the threshold. The
	// counter resets only on success, so a failed attempt retries on the
	// next exchange.
	PolicyCount TriggerPolicy = "count"

	// PolicyModulo compacts whenever TurnCount is a multiple of the
	// threshold.
	PolicyModulo TriggerPolicy = "modulo"

	// PolicySize compacts whenever more than MaxHistoryMessages exchanges
	// are retained.
	PolicySize TriggerPolicy = "size"
)

// Budget units.
const (
	UnitChars  = "chars"
	UnitTokens = "tokens"
)

// Config holds the tuning knobs for assembly and compaction.
type Config struct {
	// MaxContextLength bounds the estimated size of everything sent to the
	// model, in BudgetUnit.
	MaxContextLength int `yaml:"max_context_length"`

	// MaxHistoryMessages is the number of most recent exchanges kept
	// verbatim after compaction.
	MaxHistoryMessages int `yaml:"max_history_messages"`

	// SummarizeThreshold parameterizes the trigger policy.
	SummarizeThreshold int `yaml:"summarize_threshold"`

	Policy TriggerPolicy `yaml:"summarize_policy"`

	// BudgetUnit is "chars" (runes) or "tokens" (estimated from
	// CharsPerToken).
	BudgetUnit    string  `yaml:"budget_unit"`
	CharsPerToken float64 `yaml:"chars_per_token"`

	// SummaryTimeout bounds one summarization call.
	SummaryTimeout time.Duration `yaml:"summary_timeout"`
}

// WithDefaults returns a copy of cfg with zero-valued fields replaced by
// defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.MaxContextLength == 0 {
		cfg.MaxContextLength = 4000
	}
	if cfg.MaxHistoryMessages == 0 {
		cfg.MaxHistoryMessages = 3
	}
	if cfg.SummarizeThreshold == 0 {
		cfg.SummarizeThreshold = 5
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyCount
	}
	if cfg.BudgetUnit == "" {
		cfg.BudgetUnit = UnitChars
	}
	if cfg.CharsPerToken == 0 {
		cfg.CharsPerToken = 4.0
	}
	if cfg.SummaryTimeout == 0 {
		cfg.SummaryTimeout = time.Minute
	}
	return cfg
}

// Validate reports every invalid field.
func (cfg Config) Validate() error {
	var errs []error
	if cfg.MaxContextLength <= 0 {
		errs = append(errs, fmt.Errorf("max_context_length must be positive, got %d", cfg.MaxContextLength))
	}
	if cfg.MaxHistoryMessages < 0 {
		errs = append(errs, fmt.Errorf("max_history_messages must not be negative, got %d", cfg.MaxHistoryMessages))
	}
	if cfg.SummarizeThreshold <= 0 {
		errs = append(errs, fmt.Errorf("summarize_threshold must be positive, got %d", cfg.SummarizeThreshold))
	}
	switch cfg.Policy {
	case PolicyCount, PolicyModulo, PolicySize:
	default:
		errs = append(errs, fmt.Errorf("unknown summarize_policy %q", cfg.Policy))
	}
	switch cfg.BudgetUnit {
	case UnitChars, UnitTokens:
	default:
		errs = append(errs, fmt.Errorf("unknown budget_unit %q", cfg.BudgetUnit))
	}
	if cfg.CharsPerToken < 0 {
		errs = append(errs, errors.New("chars_per_token must not be negative"))
	}
	return errors.Join(errs...)
}

// Estimator returns the estimator matching BudgetUnit.
func (cfg Config) Estimator() TokenEstimator {
	if cfg.BudgetUnit == UnitTokens {
		return NewCharEstimator(cfg.CharsPerToken)
	}
	return RuneEstimator{}
}
