package sqlite

import (
	"context"
	"database/sql"

	"github.com/flemzord/ragchat/internal/sqlitedb"
)

const component = "session_journal"

// migrations define the journal schema. Timestamps are RFC 3339 text with
// nanoseconds so they round-trip exactly.
var migrations = []sqlitedb.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT    PRIMARY KEY,
			summary          TEXT    NOT NULL DEFAULT '',
			created_at       TEXT    NOT NULL,
			last_activity_at TEXT    NOT NULL,
			turn_count       INTEGER NOT NULL DEFAULT 0,
			since_compaction INTEGER NOT NULL DEFAULT 0,
			compactions      INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS turns (
			session_id     TEXT    NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq            INTEGER NOT NULL,
			user_text      TEXT    NOT NULL,
			user_at        TEXT    NOT NULL,
			assistant_text TEXT    NOT NULL,
			assistant_at   TEXT    NOT NULL,
			used_rag       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, seq)
		)`,
	}},
}

func migrateJournal(ctx context.Context, db *sql.DB) error {
	return sqlitedb.Migrate(ctx, db, component, migrations)
}
