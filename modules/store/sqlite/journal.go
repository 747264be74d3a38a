package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/ragchat/internal/session"
)

// Journal implements session.Journal on a SQLite database.
type Journal struct {
	db *sql.DB
}

var _ session.Journal = (*Journal)(nil)

// NewJournal returns a journal over db, migrating its schema first.
func NewJournal(ctx context.Context, db *sql.DB) (*Journal, error) {
	if err := migrateJournal(ctx, db); err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// upsertSession writes the session row from st.
func upsertSession(ctx context.Context, ex execer, st session.State) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO sessions (id, summary, created_at, last_activity_at, turn_count, since_compaction, compactions)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary          = excluded.summary,
			last_activity_at = excluded.last_activity_at,
			turn_count       = excluded.turn_count,
			since_compaction = excluded.since_compaction,
			compactions      = excluded.compactions`,
		st.ID, st.Summary, formatTime(st.CreatedAt), formatTime(st.LastActivityAt),
		st.TurnCount, st.SinceCompaction, st.Compactions,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save session: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction, rolling back on error.
func (j *Journal) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveSession implements session.Journal.
func (j *Journal) SaveSession(ctx context.Context, st session.State) error {
	return upsertSession(ctx, j.db, st)
}

// AppendTurn implements session.Journal. The turn and the session counters
// are written in one transaction.
func (j *Journal) AppendTurn(ctx context.Context, st session.State, turn session.Turn) error {
	return j.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertSession(ctx, tx, st); err != nil {
			return err
		}
		usedRAG := 0
		if turn.UsedRAG {
			usedRAG = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO turns (session_id, seq, user_text, user_at, assistant_text, assistant_at, used_rag)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			st.ID, turn.Seq,
			turn.User.Text, formatTime(turn.User.Timestamp),
			turn.Assistant.Text, formatTime(turn.Assistant.Timestamp),
			usedRAG,
		)
		if err != nil {
			return fmt.Errorf("sqlite: append turn: %w", err)
		}
		return nil
	})
}

// ReplaceHistory implements session.Journal. Exchanges before c.KeepFrom
// are dropped and the summary replaced atomically.
func (j *Journal) ReplaceHistory(ctx context.Context, st session.State, c session.Compaction) error {
	return j.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM turns WHERE session_id = ? AND seq < ?", st.ID, c.KeepFrom,
		); err != nil {
			return fmt.Errorf("sqlite: drop compacted turns: %w", err)
		}
		return upsertSession(ctx, tx, st)
	})
}

// DeleteSession implements session.Journal.
func (j *Journal) DeleteSession(ctx context.Context, id string) error {
	return j.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", id); err != nil {
			return fmt.Errorf("sqlite: delete turns: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
			return fmt.Errorf("sqlite: delete session: %w", err)
		}
		return nil
	})
}

// LoadSessions implements session.Journal. Sessions come back oldest
// first with their retained turns in Seq order.
func (j *Journal) LoadSessions(ctx context.Context) ([]session.State, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, summary, created_at, last_activity_at, turn_count, since_compaction, compactions
		FROM sessions
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []session.State
	index := make(map[string]int)
	for rows.Next() {
		var (
			st                session.State
			created, activity string
		)
		if err := rows.Scan(&st.ID, &st.Summary, &created, &activity,
			&st.TurnCount, &st.SinceCompaction, &st.Compactions); err != nil {
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		if st.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("sqlite: session %s created_at: %w", st.ID, err)
		}
		if st.LastActivityAt, err = parseTime(activity); err != nil {
			return nil, fmt.Errorf("sqlite: session %s last_activity_at: %w", st.ID, err)
		}
		index[st.ID] = len(states)
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load sessions rows: %w", err)
	}
	_ = rows.Close()

	if err := j.loadTurns(ctx, states, index); err != nil {
		return nil, err
	}
	return states, nil
}

func (j *Journal) loadTurns(ctx context.Context, states []session.State, index map[string]int) error {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session_id, seq, user_text, user_at, assistant_text, assistant_at, used_rag
		FROM turns
		ORDER BY session_id, seq`)
	if err != nil {
		return fmt.Errorf("sqlite: load turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id             string
			t              session.Turn
			userAt, asstAt string
			usedRAG        int
		)
		if err := rows.Scan(&id, &t.Seq, &t.User.Text, &userAt, &t.Assistant.Text, &asstAt, &usedRAG); err != nil {
			return fmt.Errorf("sqlite: scan turn: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		if t.User.Timestamp, err = parseTime(userAt); err != nil {
			return fmt.Errorf("sqlite: turn %s/%d: %w", id, t.Seq, err)
		}
		if t.Assistant.Timestamp, err = parseTime(asstAt); err != nil {
			return fmt.Errorf("sqlite: turn %s/%d: %w", id, t.Seq, err)
		}
		t.User.Role = session.RoleUser
		t.Assistant.Role = session.RoleAssistant
		t.UsedRAG = usedRAG != 0
		states[i].Turns = append(states[i].Turns, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: load turns rows: %w", err)
	}
	return nil
}
