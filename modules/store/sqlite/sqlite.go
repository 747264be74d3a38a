// Package sqlite implements a durable session journal on SQLite
// (modernc.org/sqlite, pure Go, no CGO). Conversations written through it
// survive restarts: the chat core restores them at boot.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/flemzord/ragchat/internal/core"
	"github.com/flemzord/ragchat/internal/session"
	"github.com/flemzord/ragchat/internal/sqlitedb"
	"gopkg.in/yaml.v3"
)

const moduleID = "store.sqlite"

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module provides the "session.journal" service.
type Module struct {
	config  Config
	db      *sql.DB
	logger  *slog.Logger
	journal *Journal
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  moduleID,
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	db, err := sqlitedb.Open(context.TODO(), m.config.Path, m.config.Options)
	if err != nil {
		return err
	}
	j, err := NewJournal(context.TODO(), db)
	if err != nil {
		_ = db.Close()
		return err
	}

	m.db = db
	m.journal = j
	ctx.RegisterService("session.journal", session.Journal(j))

	m.logger.Info("sqlite session store provisioned",
		"path", m.config.Path,
		"wal", m.config.WALEnabled(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.Validate(); err != nil {
		return err
	}
	if err := m.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.db == nil {
		return nil
	}
	m.logger.Info("sqlite session store stopping")
	return m.db.Close()
}

// Journal returns the session journal.
func (m *Module) Journal() *Journal {
	return m.journal
}
