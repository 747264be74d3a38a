package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/sqlitedb"
)

const component = "retrieval_corpus"

var migrations = []sqlitedb.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS passages (
			id         INTEGER PRIMARY KEY,
			source     TEXT    NOT NULL,
			chunk      INTEGER NOT NULL,
			text       TEXT    NOT NULL,
			created_at TEXT    NOT NULL,
			UNIQUE (source, chunk)
		)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS passages_fts USING fts5(
			text,
			content=passages,
			content_rowid=id,
			tokenize='unicode61 remove_diacritics 2'
		)`,

		`CREATE TRIGGER IF NOT EXISTS passages_ai AFTER INSERT ON passages BEGIN
			INSERT INTO passages_fts(rowid, text) VALUES (new.id, new.text);
		END`,

		`CREATE TRIGGER IF NOT EXISTS passages_ad AFTER DELETE ON passages BEGIN
			INSERT INTO passages_fts(passages_fts, rowid, text) VALUES ('delete', old.id, old.text);
		END`,

		`CREATE TRIGGER IF NOT EXISTS passages_au AFTER UPDATE ON passages BEGIN
			INSERT INTO passages_fts(passages_fts, rowid, text) VALUES ('delete', old.id, old.text);
			INSERT INTO passages_fts(rowid, text) VALUES (new.id, new.text);
		END`,
	}},
}

// Corpus is a full-text passage index. It implements retrieval.Retriever.
type Corpus struct {
	db        *sql.DB
	chunkSize int
	now       func() time.Time
}

var _ retrieval.Retriever = (*Corpus)(nil)

// NewCorpus returns a corpus over db, migrating its schema first.
func NewCorpus(ctx context.Context, db *sql.DB, chunkSize int) (*Corpus, error) {
	if err := sqlitedb.Migrate(ctx, db, component, migrations); err != nil {
		return nil, err
	}
	return &Corpus{db: db, chunkSize: chunkSize, now: time.Now}, nil
}

// OpenCorpus opens the corpus database at path. The caller closes the
// returned *sql.DB.
func OpenCorpus(ctx context.Context, path string, opts sqlitedb.Options, chunkSize int) (*Corpus, *sql.DB, error) {
	db, err := sqlitedb.Open(ctx, path, opts)
	if err != nil {
		return nil, nil, err
	}
	c, err := NewCorpus(ctx, db, chunkSize)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return c, db, nil
}

// Add indexes text under source, replacing anything previously indexed
// for that source. It returns the number of passages written.
func (c *Corpus) Add(ctx context.Context, source, text string) (n int, err error) {
	chunks := Chunk(text, c.chunkSize)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM passages WHERE source = ?", source); err != nil {
		return 0, fmt.Errorf("sqlite: clear %s: %w", source, err)
	}
	created := c.now().UTC().Format(time.RFC3339Nano)
	for i, chunk := range chunks {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO passages (source, chunk, text, created_at) VALUES (?, ?, ?, ?)",
			source, i, chunk, created,
		); err != nil {
			return 0, fmt.Errorf("sqlite: index %s#%d: %w", source, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return len(chunks), nil
}

// Remove drops every passage indexed under source.
func (c *Corpus) Remove(ctx context.Context, source string) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM passages WHERE source = ?", source)
	if err != nil {
		return 0, fmt.Errorf("sqlite: remove %s: %w", source, err)
	}
	return res.RowsAffected()
}

// Len returns the number of indexed passages.
func (c *Corpus) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT count(*) FROM passages").Scan(&n)
	return n, err
}

// Retrieve implements retrieval.Retriever. Passages are ranked by bm25;
// a relevance r maps to the distance 1/(1+r), which DistanceThreshold
// bounds when positive.
func (c *Corpus) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.Passage, error) {
	match := matchExpr(q.Text)
	if match == "" {
		return nil, nil
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT p.text, p.source, bm25(passages_fts)
		FROM passages_fts
		JOIN passages p ON p.id = passages_fts.rowid
		WHERE passages_fts MATCH ?
		ORDER BY bm25(passages_fts)
		LIMIT ?`, match, topK)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []retrieval.Passage
	for rows.Next() {
		var (
			p    retrieval.Passage
			rank float64
		)
		if err := rows.Scan(&p.Text, &p.Source, &rank); err != nil {
			return nil, fmt.Errorf("sqlite: scan passage: %w", err)
		}
		// bm25 is negative; more negative is more relevant.
		distance := Distance(-rank)
		if q.DistanceThreshold > 0 && distance > q.DistanceThreshold {
			continue
		}
		p.Score = 1 - distance
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: search rows: %w", err)
	}
	return out, nil
}

// Distance maps a non-negative relevance to (0, 1].
func Distance(relevance float64) float64 {
	if relevance < 0 {
		relevance = 0
	}
	return 1 / (1 + relevance)
}

// matchExpr turns free text into an FTS5 query matching any of its terms.
// Terms are quoted so user punctuation never reaches the FTS5 parser.
func matchExpr(text string) string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
