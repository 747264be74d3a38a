package sqlite

import "github.com/flemzord/ragchat/internal/sqlitedb"

const defaultDBFile = "sessions.db"

// Config holds the SQLite session store configuration.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/sessions.db.
	Path string `yaml:"path"`

	sqlitedb.Options `yaml:",inline"`
}
