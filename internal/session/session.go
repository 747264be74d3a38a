// Package session owns conversation state: the ordered exchanges of every
// session, its rolling summary and the counters that drive compaction.
// All access goes through Store, which serializes writers per session and
// hands out snapshots to readers.
package session

import (
	"fmt"
	"slices"
	"time"
)

// MaxIDLength bounds the length of a client-chosen session id.
const MaxIDLength = 128

// ValidateID checks that id can name a session: 1 to MaxIDLength ASCII
// letters, digits, '-', '_', '.' or ':'.
func ValidateID(id string) error {
	if id == "" || len(id) > MaxIDLength {
		return fmt.Errorf("%w: length must be 1 to %d", ErrInvalidID, MaxIDLength)
	}
	for _, c := range []byte(id) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidID, c)
		}
	}
	return nil
}

// Role identifies who produced a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged utterance. Messages are immutable once created.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message stamped with t.
func NewMessage(role Role, text string, t time.Time) Message {
	return Message{Role: role, Text: text, Timestamp: t}
}

// Turn is one stored exchange: a user message and the reply it received,
// appended together.
type Turn struct {
	// Seq is the session's TurnCount at append time, starting at 1.
	Seq       int64   `json:"seq"`
	User      Message `json:"user"`
	Assistant Message `json:"assistant"`
	UsedRAG   bool    `json:"used_rag"`
}

// State is the full state of one conversation.
type State struct {
	ID             string    `json:"id"`
	Turns          []Turn    `json:"turns"`
	Summary        string    `json:"summary,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// TurnCount counts every exchange ever appended, compacted or not.
	TurnCount int64 `json:"turn_count"`

	// SinceCompaction counts exchanges appended since the last successful
	// compaction.
	SinceCompaction int64 `json:"since_compaction"`

	// Compactions counts successful compactions. It doubles as the
	// generation checked by ReplaceHistory.
	Compactions int `json:"compactions"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	s.Turns = slices.Clone(s.Turns)
	return s
}

// Messages flattens the stored exchanges into role-tagged messages in
// chronological order.
func (s State) Messages() []Message {
	out := make([]Message, 0, 2*len(s.Turns))
	for _, t := range s.Turns {
		out = append(out, t.User, t.Assistant)
	}
	return out
}

// Info is the enumeration view of a session.
type Info struct {
	ID             string    `json:"session_id"`
	TurnCount      int64     `json:"message_count"`
	Retained       int       `json:"retained"`
	HasSummary     bool      `json:"has_summary"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_updated"`
}

func (s *State) info() Info {
	return Info{
		ID:             s.ID,
		TurnCount:      s.TurnCount,
		Retained:       len(s.Turns),
		HasSummary:     s.Summary != "",
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
}

// Compaction describes a history replacement computed from a snapshot.
type Compaction struct {
	// Summary replaces the session summary.
	Summary string

	// KeepFrom is the Seq of the first retained exchange. Every exchange
	// with a smaller Seq is dropped.
	KeepFrom int64

	// Snapshot is the TurnCount of the state the summary was computed from.
	Snapshot int64

	// Generation is the Compactions value of that state. A mismatch means
	// another compaction won the race.
	Generation int
}
