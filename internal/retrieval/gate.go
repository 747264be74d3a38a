package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/flemzord/ragchat/internal/retrieval")

// GateConfig controls retrieval policy.
type GateConfig struct {
	// Enabled turns retrieval on globally. Per-request flags can only
	// narrow it.
	Enabled           bool          `yaml:"enabled"`
	TopK              int           `yaml:"top_k"`
	DistanceThreshold float64       `yaml:"distance_threshold"`
	Timeout           time.Duration `yaml:"timeout"`
}

func (c GateConfig) withDefaults() GateConfig {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Result is the outcome of a gated retrieval.
type Result struct {
	Passages []Passage

	// UsedRAG is true when at least one passage was retrieved.
	UsedRAG bool

	// Warning is set, wrapping ErrRetrievalFailed, when the backend failed
	// and the turn proceeds without passages.
	Warning error
}

// GateOption configures optional Gate behavior.
type GateOption func(*Gate)

// WithLogger injects a logger for degraded retrievals.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// Gate applies the retrieval policy around a Retriever. It is either
// Disabled (no retriever or switched off) or Enabled; a request may opt out
// per call.
type Gate struct {
	retriever Retriever
	cfg       GateConfig
	logger    *slog.Logger
}

// NewGate creates a gate. A nil retriever yields a permanently disabled gate.
func NewGate(r Retriever, cfg GateConfig, opts ...GateOption) *Gate {
	g := &Gate{retriever: r, cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Enabled reports whether retrieval can happen at all.
func (g *Gate) Enabled() bool {
	return g != nil && g.retriever != nil && g.cfg.Enabled
}

// Fetch retrieves passages for query when retrieval is enabled and
// requested. It never fails: backend errors and timeouts degrade to an
// empty Result carrying a Warning.
func (g *Gate) Fetch(ctx context.Context, query string, requested bool) Result {
	if !requested || !g.Enabled() {
		return Result{}
	}

	ctx, span := tracer.Start(ctx, "retrieval.Fetch")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	passages, err := g.retriever.Retrieve(ctx, Query{
		Text:              query,
		TopK:              g.cfg.TopK,
		DistanceThreshold: g.cfg.DistanceThreshold,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval degraded")
		g.logger.Warn("retrieval: degraded, continuing without passages", "error", err)
		return Result{Warning: fmt.Errorf("%w: %w", ErrRetrievalFailed, err)}
	}

	passages = Rank(passages, g.cfg.TopK)
	span.SetAttributes(attribute.Int("retrieval.passages", len(passages)))
	return Result{Passages: passages, UsedRAG: len(passages) > 0}
}
