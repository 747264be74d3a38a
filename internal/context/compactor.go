package ctxengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/flemzord/ragchat/internal/prompt"
	"github.com/flemzord/ragchat/internal/session"
)

var tracer = otel.Tracer("github.com/flemzord/ragchat/internal/context")

// Summarizer turns a rendered summarization prompt into summary text.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Compaction outcomes reported to the result hook.
const (
	OutcomeCompacted = "compacted"
	OutcomeFailed    = "failed"
	OutcomeStale     = "stale"
	OutcomeSkipped   = "skipped"
)

// CompactorOption configures optional Compactor behavior.
type CompactorOption func(*Compactor)

// WithCompactorLogger injects a logger.
func WithCompactorLogger(l *slog.Logger) CompactorOption {
	return func(c *Compactor) { c.logger = l }
}

// WithResultHook registers fn to be called with the outcome of every
// compaction attempt that got past the trigger check.
func WithResultHook(fn func(outcome string)) CompactorOption {
	return func(c *Compactor) { c.onResult = fn }
}

// Compactor replaces the older part of a session's history with a summary.
// Attempts for the same session are coalesced; attempts for different
// sessions run independently.
type Compactor struct {
	store      *session.Store
	summarizer Summarizer
	config     Config
	logger     *slog.Logger
	onResult   func(string)

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewCompactor creates a Compactor operating on store.
func NewCompactor(store *session.Store, summarizer Summarizer, cfg Config, opts ...CompactorOption) *Compactor {
	c := &Compactor{
		store:      store,
		summarizer: summarizer,
		config:     cfg.WithDefaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// ShouldCompact reports whether the trigger policy fires for st.
func (c *Compactor) ShouldCompact(st session.State) bool {
	switch c.config.Policy {
	case PolicyModulo:
		return st.TurnCount > 0 && st.TurnCount%int64(c.config.SummarizeThreshold) == 0
	case PolicySize:
		return len(st.Turns) > c.config.MaxHistoryMessages
	default:
		return st.SinceCompaction >= int64(c.config.SummarizeThreshold)
	}
}

// Schedule evaluates the trigger for id in the background. Failures are
// logged and absorbed. Wait blocks until every scheduled attempt is done.
func (c *Compactor) Schedule(id string) {
	c.wg.Go(func() {
		_, _, _ = c.MaybeCompact(context.Background(), id)
	})
}

// Wait blocks until all scheduled compactions have finished.
func (c *Compactor) Wait() {
	c.wg.Wait()
}

// MaybeCompact compacts id if the trigger fires. It reports whether history
// was replaced. Summarization failures are logged and absorbed; only
// ErrSessionNotFound is returned.
func (c *Compactor) MaybeCompact(ctx context.Context, id string) (session.State, bool, error) {
	st, compacted, err := c.run(ctx, id, false)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return st, false, nil
	}
	return st, compacted, err
}

// Force compacts id regardless of the trigger. It is a no-op when no more
// than MaxHistoryMessages exchanges are retained. Unlike turn-triggered
// compaction, summarization failures are returned.
func (c *Compactor) Force(ctx context.Context, id string) (session.State, error) {
	st, _, err := c.run(ctx, id, true)
	if errors.Is(err, session.ErrStaleCompaction) {
		// A concurrent compaction won; retry once against its result.
		st, _, err = c.run(ctx, id, true)
	}
	return st, err
}

type runResult struct {
	state     session.State
	compacted bool
}

func (c *Compactor) run(ctx context.Context, id string, force bool) (session.State, bool, error) {
	key := "auto:" + id
	if force {
		key = "force:" + id
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		st, compacted, err := c.compact(ctx, id, force)
		return runResult{st, compacted}, err
	})
	r, _ := v.(runResult)
	return r.state, r.compacted, err
}

func (c *Compactor) compact(ctx context.Context, id string, force bool) (session.State, bool, error) {
	st, err := c.store.Get(id)
	if err != nil {
		return session.State{}, false, err
	}
	if !force && !c.ShouldCompact(st) {
		return st, false, nil
	}

	retain := c.config.MaxHistoryMessages
	cut := len(st.Turns) - retain
	if cut <= 0 {
		c.report(OutcomeSkipped)
		return st, false, nil
	}

	ctx, span := tracer.Start(ctx, "ctxengine.Compact")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", id),
		attribute.Int("compaction.prefix", cut),
		attribute.Bool("compaction.forced", force),
	)

	summary, err := c.summarize(ctx, st.Summary, st.Turns[:cut])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarization failed")
		c.report(OutcomeFailed)
		c.logger.Warn("ctxengine: summarization failed, history left intact",
			"session_id", id,
			"turn_count", st.TurnCount,
			"error", err,
		)
		return st, false, err
	}

	keepFrom := st.TurnCount + 1
	if retain > 0 {
		keepFrom = st.Turns[cut].Seq
	}
	err = c.store.ReplaceHistory(ctx, id, session.Compaction{
		Summary:    summary,
		KeepFrom:   keepFrom,
		Snapshot:   st.TurnCount,
		Generation: st.Compactions,
	})
	if err != nil {
		if errors.Is(err, session.ErrStaleCompaction) {
			c.report(OutcomeStale)
		}
		return st, false, err
	}

	c.report(OutcomeCompacted)
	c.logger.Debug("ctxengine: history compacted",
		"session_id", id,
		"summarized", cut,
		"retained", retain,
	)

	st, err = c.store.Get(id)
	return st, err == nil, err
}

func (c *Compactor) summarize(ctx context.Context, previous string, turns []session.Turn) (string, error) {
	p, err := prompt.Render(prompt.KindSummarize, prompt.Fields{
		Summary: previous,
		History: exchanges(turns),
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.SummaryTimeout)
	defer cancel()

	summary, err := c.summarizer.Summarize(ctx, p)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("%w: empty summary", ErrSummarizationFailed)
	}
	return summary, nil
}

func (c *Compactor) report(outcome string) {
	if c.onResult != nil {
		c.onResult(outcome)
	}
}
