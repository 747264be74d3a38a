package ctxengine

import "errors"

var (
	// ErrContextTooLarge indicates the new message alone does not fit the
	// budget. The model is never called.
	ErrContextTooLarge = errors.New("ctxengine: context too large")

	// ErrSummarizationFailed indicates compaction could not produce a
	// summary. History is left untouched.
	ErrSummarizationFailed = errors.New("ctxengine: summarization failed")
)
