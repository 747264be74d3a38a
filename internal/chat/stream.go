package chat

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/ragchat/internal/provider"
)

// EventType tags a StreamEvent.
type EventType string

// Stream event types. A stream yields chunk events, then either metadata
// followed by done, or a single error.
const (
	EventChunk    EventType = "chunk"
	EventMetadata EventType = "metadata"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// StreamEvent is one element of a streamed turn.
type StreamEvent struct {
	Type      EventType
	SessionID string

	// Content is set on chunk events.
	Content string

	// Result is set on metadata and done events, after the commit.
	Result *TurnResult

	// Err is set on error events.
	Err error
}

// TurnStream is a prepared streamed turn. Range over Events once, then
// call Close.
type TurnStream struct {
	o     *Orchestrator
	ctx   context.Context
	span  trace.Span
	start time.Time
	p     *pending

	consumed  atomic.Bool
	closeOnce sync.Once
}

// StreamTurn prepares a streamed turn. Setup failures (deleted or malformed
// session id, context too large, empty message) are returned here, before
// any event.
func (o *Orchestrator) StreamTurn(ctx context.Context, req TurnRequest) (*TurnStream, error) {
	start := o.now()
	ctx, span := tracer.Start(ctx, "chat.StreamTurn")

	p, err := o.prepare(ctx, req)
	if err != nil {
		recordSpan(span, err)
		span.End()
		o.metrics.turn(modeStream, err, 0)
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", p.id))
	return &TurnStream{o: o, ctx: ctx, span: span, start: start, p: p}, nil
}

// SessionID returns the session the turn belongs to. A new session is
// stored only if the turn commits.
func (s *TurnStream) SessionID() string {
	return s.p.id
}

// Events returns a single-use sequence of stream events. Stopping the range
// early cancels the model stream and nothing is committed.
func (s *TurnStream) Events() iter.Seq[StreamEvent] {
	return func(yield func(StreamEvent) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(StreamEvent{Type: EventError, SessionID: s.p.id, Err: ErrStreamConsumed})
			return
		}
		err := s.run(yield)
		recordSpan(s.span, err)
		s.o.metrics.turn(modeStream, err, s.o.now().Sub(s.start))
		s.Close()
	}
}

// Close releases the turn. It is safe to call more than once.
func (s *TurnStream) Close() {
	s.closeOnce.Do(func() {
		s.p.release()
		s.span.End()
	})
}

func (s *TurnStream) run(yield func(StreamEvent) bool) error {
	fail := func(err error) error {
		yield(StreamEvent{Type: EventError, SessionID: s.p.id, Err: err})
		return err
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.o.settings.StreamTimeout)
	defer cancel()

	chunks, err := s.o.chain.Stream(ctx, provider.RolePrimary, s.o.completionRequest(s.p.assembly.Prompt))
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrGenerationFailed, err))
	}

	var reply strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			cancel()
			return fail(fmt.Errorf("%w: %w", ErrStreamInterrupted, chunk.Err))
		}
		if chunk.Content == "" {
			continue
		}
		reply.WriteString(chunk.Content)
		if !yield(StreamEvent{Type: EventChunk, SessionID: s.p.id, Content: chunk.Content}) {
			return fmt.Errorf("%w: consumer stopped", ErrStreamInterrupted)
		}
	}
	// The chain closes the channel without an error when ctx ends.
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%w: %w", ErrStreamInterrupted, err))
	}
	if strings.TrimSpace(reply.String()) == "" {
		return fail(fmt.Errorf("%w: %w", ErrGenerationFailed, provider.ErrEmptyResponse))
	}

	res, err := s.o.commit(s.ctx, s.p, reply.String())
	if err != nil {
		return fail(err)
	}
	if !yield(StreamEvent{Type: EventMetadata, SessionID: s.p.id, Result: &res}) {
		return nil
	}
	yield(StreamEvent{Type: EventDone, SessionID: s.p.id, Result: &res})
	return nil
}
