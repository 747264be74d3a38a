package session

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal persists session mutations. The store calls it while holding the
// session's lock, after the in-memory change succeeded; a journal error is
// logged and never rolls back or fails the in-memory operation.
type Journal interface {
	SaveSession(ctx context.Context, st State) error
	AppendTurn(ctx context.Context, st State, turn Turn) error
	ReplaceHistory(ctx context.Context, st State, c Compaction) error
	DeleteSession(ctx context.Context, id string) error
	LoadSessions(ctx context.Context) ([]State, error)
}

// StoreOption configures optional Store behavior.
type StoreOption func(*Store)

// WithJournal makes the store write through to j.
func WithJournal(j Journal) StoreOption {
	return func(s *Store) { s.journal = j }
}

// WithLogger injects the logger used for journal failures.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Store is the concurrency-safe registry of conversations. The map lock is
// held only for lookups and membership changes; each session has its own
// mutex so operations on different sessions never contend.
//
// A session exists from Create, or from the first Ensure of an id a client
// chose. Deleted ids are retired and never name a session again.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	retired  map[string]struct{}

	journal Journal
	logger  *slog.Logger
	now     func() time.Time
}

type entry struct {
	mu      sync.Mutex
	state   State
	deleted bool
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		retired:  make(map[string]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Restore loads every journaled session. It replaces nothing that already
// exists in memory.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	states, err := s.journal.LoadSessions(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range states {
		if _, ok := s.sessions[st.ID]; ok {
			continue
		}
		s.sessions[st.ID] = &entry{state: st}
		n++
	}
	return n, nil
}

// Create registers a new empty session and returns its snapshot.
func (s *Store) Create(ctx context.Context) State {
	for {
		st, created, err := s.ensure(ctx, s.NewID())
		if err == nil && created {
			return st
		}
	}
}

// NewID returns an id that names no live or retired session.
func (s *Store) NewID() string {
	for {
		id := uuid.NewString()
		s.mu.RLock()
		_, live := s.sessions[id]
		_, retired := s.retired[id]
		s.mu.RUnlock()
		if !live && !retired {
			return id
		}
	}
}

// Open resolves id for a turn. A live session is returned with exists set.
// An id never seen before yields an empty state carrying that id, which
// Ensure registers once the turn commits. Retired ids report
// ErrSessionNotFound.
func (s *Store) Open(id string) (st State, exists bool, err error) {
	if err := ValidateID(id); err != nil {
		return State{}, false, err
	}
	st, err = s.Get(id)
	switch {
	case err == nil:
		return st, true, nil
	case s.isRetired(id):
		return State{}, false, ErrSessionNotFound
	}
	now := s.now()
	return State{ID: id, CreatedAt: now, LastActivityAt: now}, false, nil
}

// Ensure registers an empty session under id unless one is live. It
// reports whether the session was created here.
func (s *Store) Ensure(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	_, created, err := s.ensure(ctx, id)
	return created, err
}

func (s *Store) ensure(ctx context.Context, id string) (State, bool, error) {
	now := s.now()
	e := &entry{state: State{ID: id, CreatedAt: now, LastActivityAt: now}}

	// Lock the entry before publishing it so no one appends ahead of the
	// journal's create record.
	e.mu.Lock()
	defer e.mu.Unlock()

	s.mu.Lock()
	if _, ok := s.retired[id]; ok {
		s.mu.Unlock()
		return State{}, false, ErrSessionNotFound
	}
	if _, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return State{}, false, nil
	}
	s.sessions[id] = e
	s.mu.Unlock()

	if s.journal != nil {
		s.journalErr("create", id, s.journal.SaveSession(ctx, e.state))
	}
	return e.state.Clone(), true, nil
}

func (s *Store) isRetired(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.retired[id]
	return ok
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

// locked runs fn with the session's lock held. Deleted sessions are
// reported as not found even if a caller obtained the entry before removal.
func (s *Store) locked(id string, fn func(e *entry) error) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return ErrSessionNotFound
	}
	return fn(e)
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (State, error) {
	var st State
	err := s.locked(id, func(e *entry) error {
		st = e.state.Clone()
		return nil
	})
	return st, err
}

// AppendTurn atomically appends one exchange and returns the stored turn.
func (s *Store) AppendTurn(ctx context.Context, id string, user, assistant Message, usedRAG bool) (Turn, State, error) {
	var (
		turn Turn
		snap State
	)
	err := s.locked(id, func(e *entry) error {
		st := &e.state
		st.TurnCount++
		st.SinceCompaction++
		st.LastActivityAt = s.now()
		turn = Turn{Seq: st.TurnCount, User: user, Assistant: assistant, UsedRAG: usedRAG}
		st.Turns = append(st.Turns, turn)
		snap = st.Clone()

		if s.journal != nil {
			s.journalErr("append", id, s.journal.AppendTurn(ctx, snap, turn))
		}
		return nil
	})
	return turn, snap, err
}

// ReplaceHistory applies a compaction: the summary is replaced and every
// exchange before c.KeepFrom is dropped. Exchanges appended after the
// snapshot the compaction was computed from are kept and counted toward the
// next trigger.
func (s *Store) ReplaceHistory(ctx context.Context, id string, c Compaction) error {
	return s.locked(id, func(e *entry) error {
		st := &e.state
		if st.Compactions != c.Generation || st.TurnCount < c.Snapshot {
			return ErrStaleCompaction
		}

		keep := slices.IndexFunc(st.Turns, func(t Turn) bool { return t.Seq >= c.KeepFrom })
		if keep < 0 {
			keep = len(st.Turns)
		}
		st.Turns = slices.Clone(st.Turns[keep:])
		st.Summary = c.Summary
		st.SinceCompaction = st.TurnCount - c.Snapshot
		st.Compactions++

		if s.journal != nil {
			s.journalErr("replace", id, s.journal.ReplaceHistory(ctx, st.Clone(), c))
		}
		return nil
	})
}

// Delete removes the session and retires its id. Later operations on id
// fail with ErrSessionNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.deleteIf(ctx, id, nil)
}

var errKept = errors.New("session: kept")

// deleteIf removes the session unless keep reports true for its current
// state. The check and the removal happen under the session's lock.
func (s *Store) deleteIf(ctx context.Context, id string, keep func(*State) bool) error {
	return s.locked(id, func(e *entry) error {
		if keep != nil && keep(&e.state) {
			return errKept
		}
		e.deleted = true

		s.mu.Lock()
		delete(s.sessions, id)
		s.retired[id] = struct{}{}
		s.mu.Unlock()

		if s.journal != nil {
			s.journalErr("delete", id, s.journal.DeleteSession(ctx, id))
		}
		return nil
	})
}

// List returns a consistent view of every session, oldest first.
func (s *Store) List() []Info {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.state.info())
		}
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// TotalTurns sums TurnCount across all sessions.
func (s *Store) TotalTurns() int64 {
	var n int64
	for _, info := range s.List() {
		n += info.TurnCount
	}
	return n
}

// Prune deletes sessions idle for longer than maxIdle and returns their ids.
// A session touched after the scan began is kept.
func (s *Store) Prune(ctx context.Context, maxIdle time.Duration) []string {
	cutoff := s.now().Add(-maxIdle)
	active := func(st *State) bool { return !st.LastActivityAt.Before(cutoff) }

	var pruned []string
	for _, info := range s.List() {
		if active(&State{LastActivityAt: info.LastActivityAt}) {
			continue
		}
		if err := s.deleteIf(ctx, info.ID, active); err == nil {
			pruned = append(pruned, info.ID)
		}
	}
	return pruned
}

// IDs returns the ids of live sessions, for lane cleanup.
func (s *Store) IDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[string]struct{}, len(s.sessions))
	for id := range s.sessions {
		ids[id] = struct{}{}
	}
	return ids
}

func (s *Store) journalErr(op, id string, err error) {
	if err != nil {
		s.logger.Warn("session: journal write failed",
			"op", op,
			"session_id", id,
			"error", err,
		)
	}
}
