package session

import "errors"

// Sentinel errors for session operations.
var (
	// ErrSessionNotFound indicates the id does not name a live session.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrInvalidID indicates a client-chosen id that cannot name a session.
	ErrInvalidID = errors.New("session: invalid id")

	// ErrStaleCompaction indicates the history changed under a compaction
	// in a way that makes its summary inapplicable.
	ErrStaleCompaction = errors.New("session: stale compaction")
)
