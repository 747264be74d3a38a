package chat

import (
	"context"
	"errors"

	ctxengine "github.com/flemzord/ragchat/internal/context"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/session"
)

// Sentinel errors raised by the orchestrator itself. Errors from the layers
// below (session.ErrSessionNotFound, ctxengine.ErrContextTooLarge, ...)
// pass through wrapped and are classified by KindOf.
var (
	// ErrGenerationFailed indicates the model call failed or timed out.
	// Nothing was committed.
	ErrGenerationFailed = errors.New("chat: generation failed")

	// ErrStreamInterrupted indicates a stream ended early: the model
	// errored mid-stream, the deadline passed, or the consumer stopped.
	// Nothing was committed.
	ErrStreamInterrupted = errors.New("chat: stream interrupted")

	// ErrEmptyMessage indicates a turn without any text.
	ErrEmptyMessage = errors.New("chat: message is empty")

	// ErrStreamConsumed indicates Events was ranged over twice.
	ErrStreamConsumed = errors.New("chat: stream already consumed")
)

// Kind classifies an error for callers that map errors to transport codes.
type Kind string

// Error kinds.
const (
	KindNone                Kind = ""
	KindInvalidRequest      Kind = "invalid_request"
	KindSessionNotFound     Kind = "session_not_found"
	KindContextTooLarge     Kind = "context_too_large"
	KindRetrievalFailed     Kind = "retrieval_failed"
	KindGenerationFailed    Kind = "generation_failed"
	KindStreamInterrupted   Kind = "stream_interrupted"
	KindSummarizationFailed Kind = "summarization_failed"
	KindCanceled            Kind = "canceled"
	KindInternal            Kind = "internal"
)

// KindOf classifies err. Order matters: a stream interrupted by
// cancellation is reported as interrupted, not canceled.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, session.ErrInvalidID):
		return KindInvalidRequest
	case errors.Is(err, session.ErrSessionNotFound):
		return KindSessionNotFound
	case errors.Is(err, ctxengine.ErrContextTooLarge):
		return KindContextTooLarge
	case errors.Is(err, ErrStreamInterrupted):
		return KindStreamInterrupted
	case errors.Is(err, ErrGenerationFailed):
		return KindGenerationFailed
	case errors.Is(err, ctxengine.ErrSummarizationFailed):
		return KindSummarizationFailed
	case errors.Is(err, retrieval.ErrRetrievalFailed):
		return KindRetrievalFailed
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

// TurnError pairs an error with its Kind for transports that report both.
type TurnError struct {
	Kind Kind
	Err  error
}

// NewTurnError classifies err. It returns nil for a nil err.
func NewTurnError(err error) *TurnError {
	if err == nil {
		return nil
	}
	var te *TurnError
	if errors.As(err, &te) {
		return te
	}
	return &TurnError{Kind: KindOf(err), Err: err}
}

func (e *TurnError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }

func (e *TurnError) Unwrap() error { return e.Err }
