// Package sqlite provides a local retrieval corpus on SQLite FTS5. Documents
// are split into paragraph passages at ingestion and ranked with bm25 at
// query time.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/flemzord/ragchat/internal/core"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/sqlitedb"
	"gopkg.in/yaml.v3"
)

const moduleID = "retrieval.sqlite"

// DefaultDBFile is the corpus file name under the data directory.
const DefaultDBFile = "corpus.db"

func init() {
	core.RegisterModule(&Module{})
}

// Config holds the corpus configuration.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/corpus.db.
	Path string `yaml:"path"`

	// ChunkSize is the target passage length in characters.
	ChunkSize int `yaml:"chunk_size"`

	sqlitedb.Options `yaml:",inline"`
}

// Resolve fills the path and chunk size defaults against dataDir.
func (c *Config) Resolve(dataDir string) {
	if c.Path == "" {
		c.Path = filepath.Join(dataDir, DefaultDBFile)
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
}

// Open opens the corpus described by cfg, as the module would. The
// caller closes the returned *sql.DB.
func Open(ctx context.Context, cfg Config, dataDir string) (*Corpus, *sql.DB, error) {
	cfg.Resolve(dataDir)
	if err := cfg.Options.Validate(); err != nil {
		return nil, nil, err
	}
	return OpenCorpus(ctx, cfg.Path, cfg.Options, cfg.ChunkSize)
}

// Module provides the "retrieval.retriever" service.
type Module struct {
	config Config
	db     *sql.DB
	corpus *Corpus
	logger *slog.Logger
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
		return fmt.Errorf("retrieval.sqlite: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	m.config.Resolve(ctx.DataDir)

	corpus, db, err := OpenCorpus(context.TODO(), m.config.Path, m.config.Options, m.config.ChunkSize)
	if err != nil {
		return err
	}
	m.db = db
	m.corpus = corpus

	ctx.RegisterService("retrieval.retriever", retrieval.Retriever(corpus))

	n, err := corpus.Len(context.TODO())
	if err != nil {
		return fmt.Errorf("retrieval.sqlite: count passages: %w", err)
	}
	if n == 0 {
		m.logger.Warn("retrieval corpus is empty; index documents with 'ragchat corpus add'", "path", m.config.Path)
	} else {
		m.logger.Info("retrieval corpus opened", "path", m.config.Path, "passages", n)
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	var errs []error
	if m.config.ChunkSize < 0 {
		errs = append(errs, errors.New("retrieval.sqlite: chunk_size must not be negative"))
	}
	errs = append(errs, m.config.Options.Validate())
	return errors.Join(errs...)
}

// Stop implements core.Stopper.
func (m *Module) Stop(context.Context) error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// Corpus returns the passage index.
func (m *Module) Corpus() *Corpus {
	return m.corpus
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)
