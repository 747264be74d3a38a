package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ctxengine "github.com/flemzord/ragchat/internal/context"
	"github.com/flemzord/ragchat/internal/provider"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/session"
)

var tracer = otel.Tracer("github.com/flemzord/ragchat/internal/chat")

// TurnRequest is one user message addressed to a session.
type TurnRequest struct {
	// SessionID names the session. An id never seen before starts a
	// session under that id; empty starts one under a generated id. Either
	// way the session is stored only once the turn commits.
	SessionID string

	Message string

	// UseRAG asks for retrieval. It has no effect when retrieval is
	// disabled.
	UseRAG bool
}

// TurnResult is the outcome of a committed turn.
type TurnResult struct {
	Response     string `json:"response"`
	SessionID    string `json:"session_id"`
	MessageCount int64  `json:"message_count"`

	// UsedRAG is true when at least one passage made it into the prompt.
	UsedRAG bool `json:"used_rag"`

	// ContextUsed previews the included passage text.
	ContextUsed string `json:"context_used,omitempty"`

	Context  ctxengine.Inclusion `json:"context"`
	Warnings []string            `json:"warnings,omitempty"`
}

// Orchestrator runs conversation turns against a session store.
type Orchestrator struct {
	settings  Settings
	store     *session.Store
	chain     *provider.Chain
	gate      *retrieval.Gate
	assembler *ctxengine.ContextAssembler
	compactor *ctxengine.Compactor
	lanes     *session.LaneLock
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	if cfg.Chain == nil {
		return nil, errors.New("chat: provider chain is required")
	}
	settings := cfg.Settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("chat: invalid settings: %w", err)
	}

	o := &Orchestrator{
		settings:  settings,
		store:     cfg.Store,
		chain:     cfg.Chain,
		gate:      cfg.Gate,
		assembler: ctxengine.NewContextAssembler(settings.Config),
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if settings.SerializeTurns {
		o.lanes = session.NewLaneLock()
	}

	summarizer := cfg.Summarizer
	if summarizer == nil {
		summarizer = &ctxengine.ChainSummarizer{
			Chain:       cfg.Chain,
			MaxTokens:   settings.MaxTokens,
			Temperature: settings.Temperature,
		}
	}
	o.compactor = ctxengine.NewCompactor(cfg.Store, summarizer, settings.Config,
		ctxengine.WithCompactorLogger(o.logger),
		ctxengine.WithResultHook(o.metrics.compaction),
	)
	return o, nil
}

// RAGEnabled reports whether turns can be grounded in retrieved passages.
func (o *Orchestrator) RAGEnabled() bool {
	return o.gate.Enabled()
}

// Providers reports the health of every configured model provider.
func (o *Orchestrator) Providers() []provider.EntryStatus {
	return o.chain.Status()
}

// Stats returns the number of live sessions and the turns they hold.
func (o *Orchestrator) Stats() (sessions int, turns int64) {
	return o.store.Len(), o.store.TotalTurns()
}

// StartSession creates an empty session.
func (o *Orchestrator) StartSession(ctx context.Context) session.State {
	return o.store.Create(ctx)
}

// GetSession returns a snapshot of the session.
func (o *Orchestrator) GetSession(id string) (session.State, error) {
	return o.store.Get(id)
}

// ListSessions summarizes every session.
func (o *Orchestrator) ListSessions() []session.Info {
	return o.store.List()
}

// DeleteSession removes a session. A compaction in flight for it finishes
// without effect.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	return o.store.Delete(ctx, id)
}

// ForceSummarize compacts the session now, regardless of the trigger policy.
// Unlike background compaction, summarization errors are returned.
func (o *Orchestrator) ForceSummarize(ctx context.Context, id string) (session.State, error) {
	ctx, cancel := context.WithTimeout(ctx, o.settings.ModelTimeout)
	defer cancel()
	return o.compactor.Force(ctx, id)
}

// SweepCompactions schedules background compaction for every session whose
// trigger has fired. It picks up sessions left armed by a failed attempt.
func (o *Orchestrator) SweepCompactions() int {
	var n int
	for id := range o.store.IDs() {
		st, err := o.store.Get(id)
		if err != nil || !o.compactor.ShouldCompact(st) {
			continue
		}
		o.compactor.Schedule(id)
		n++
	}
	return n
}

// PruneIdle deletes sessions idle longer than the configured TTL.
func (o *Orchestrator) PruneIdle(ctx context.Context) []string {
	if o.settings.SessionTTL <= 0 {
		return nil
	}
	removed := o.store.Prune(ctx, o.settings.SessionTTL)
	if o.lanes != nil && len(removed) > 0 {
		o.lanes.Cleanup(o.store.IDs())
	}
	return removed
}

// Wait blocks until background compactions have finished.
func (o *Orchestrator) Wait() {
	o.compactor.Wait()
}

// SubmitTurn answers req with a single buffered model call and commits the
// exchange. Nothing is committed on error.
func (o *Orchestrator) SubmitTurn(ctx context.Context, req TurnRequest) (res TurnResult, err error) {
	start := o.now()
	ctx, span := tracer.Start(ctx, "chat.SubmitTurn")
	defer func() {
		recordSpan(span, err)
		span.End()
		o.metrics.turn(modeBuffered, err, o.now().Sub(start))
	}()

	p, err := o.prepare(ctx, req)
	if err != nil {
		return TurnResult{}, err
	}
	defer p.release()
	span.SetAttributes(attribute.String("session.id", p.id))

	callCtx, cancel := context.WithTimeout(ctx, o.settings.ModelTimeout)
	defer cancel()

	resp, err := o.chain.Complete(callCtx, provider.RolePrimary, o.completionRequest(p.assembly.Prompt))
	if err != nil {
		return TurnResult{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return TurnResult{}, fmt.Errorf("%w: %w", ErrGenerationFailed, provider.ErrEmptyResponse)
	}
	return o.commit(ctx, p, resp.Content)
}

// pending is a turn that passed setup and awaits its reply.
type pending struct {
	id        string
	fresh     bool
	message   string
	assembly  ctxengine.Assembly
	retrieval retrieval.Result
	release   func()
}

// prepare resolves the session, retrieves passages and assembles the
// prompt. On success the caller owns p.release.
func (o *Orchestrator) prepare(ctx context.Context, req TurnRequest) (*pending, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	id := req.SessionID
	if id == "" {
		id = o.store.NewID()
	}

	release := func() {}
	if o.lanes != nil {
		release = o.lanes.Acquire(id)
	}

	// Snapshot after the lane so a serialized turn sees its predecessor.
	st, exists, err := o.store.Open(id)
	if err != nil {
		release()
		return nil, err
	}

	fetched := o.gate.Fetch(ctx, req.Message, req.UseRAG)
	if fetched.Warning != nil {
		o.metrics.retrievalFailed()
	}

	a, err := o.assembler.Assemble(ctxengine.AssemblyRequest{
		System:   o.settings.SystemPrompt,
		Message:  req.Message,
		Summary:  st.Summary,
		Turns:    st.Turns,
		Passages: fetched.Passages,
	})
	if err != nil {
		release()
		return nil, err
	}
	o.metrics.assembled(a.Estimate)

	return &pending{
		id:        id,
		fresh:     !exists,
		message:   req.Message,
		assembly:  a,
		retrieval: fetched,
		release:   release,
	}, nil
}

func (o *Orchestrator) completionRequest(p string) provider.CompletionRequest {
	return provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleSystem, Content: o.settings.SystemPrompt},
			{Role: provider.MessageRoleUser, Content: p},
		},
		MaxTokens:   o.settings.MaxTokens,
		Temperature: o.settings.Temperature,
		TopP:        o.settings.TopP,
	}
}

// commit registers a new session, appends the exchange and schedules
// compaction when due. It runs even if ctx was cancelled after the reply
// arrived.
func (o *Orchestrator) commit(ctx context.Context, p *pending, reply string) (TurnResult, error) {
	ctx = context.WithoutCancel(ctx)
	if p.fresh {
		if _, err := o.store.Ensure(ctx, p.id); err != nil {
			return TurnResult{}, err
		}
	}

	now := o.now()
	usedRAG := len(p.assembly.Used.Passages) > 0
	_, st, err := o.store.AppendTurn(ctx, p.id,
		session.NewMessage(session.RoleUser, p.message, now),
		session.NewMessage(session.RoleAssistant, reply, now),
		usedRAG,
	)
	if err != nil {
		return TurnResult{}, err
	}
	if o.compactor.ShouldCompact(st) {
		o.compactor.Schedule(p.id)
	}

	res := TurnResult{
		Response:     reply,
		SessionID:    p.id,
		MessageCount: st.TurnCount,
		UsedRAG:      usedRAG,
		ContextUsed:  preview(retrieval.Texts(p.assembly.Used.Passages), o.settings.PreviewLength),
		Context:      p.assembly.Used,
	}
	if p.retrieval.Warning != nil {
		res.Warnings = append(res.Warnings, p.retrieval.Warning.Error())
	}
	if d := p.assembly.Used.PassagesDropped; d > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d retrieved passages did not fit the context budget", d))
	}
	return res, nil
}

// preview joins texts by blank lines and truncates to n runes plus "...".
func preview(texts []string, n int) string {
	if len(texts) == 0 {
		return ""
	}
	joined := []rune(strings.Join(texts, "\n\n"))
	if len(joined) <= n {
		return string(joined)
	}
	return string(joined[:n]) + "..."
}

func recordSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
}
