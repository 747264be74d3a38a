package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flemzord/ragchat/internal/config"
	"github.com/flemzord/ragchat/pkg/app"
	corpus "github.com/flemzord/ragchat/modules/retrieval/sqlite"
)

// indexedExtensions are the file types picked up when walking a directory.
var indexedExtensions = []string{".md", ".markdown", ".txt", ".rst"}

func corpusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Manage the local retrieval corpus (retrieval.sqlite)",
	}

	add := &cobra.Command{
		Use:   "add <file or dir>...",
		Short: "Index documents; re-adding a file replaces its passages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCorpus(cmd, func(ctx context.Context, c *corpus.Corpus) error {
				return addDocuments(ctx, cmd.OutOrStdout(), c, args)
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <source>...",
		Short: "Drop every passage indexed from a source",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCorpus(cmd, func(ctx context.Context, c *corpus.Corpus) error {
				for _, src := range args {
					n, err := c.Remove(ctx, src)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d passages\n", src, n)
				}
				return nil
			})
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print the number of indexed passages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCorpus(cmd, func(ctx context.Context, c *corpus.Corpus) error {
				n, err := c.Len(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d passages\n", n)
				return nil
			})
		},
	}

	cmd.PersistentFlags().String("db", "", "Corpus database path (overrides the configuration)")
	cmd.AddCommand(add, remove, stats)
	return cmd
}

// withCorpus opens the corpus the configuration points at. Without a
// configuration file the defaults under the data directory apply.
func withCorpus(cmd *cobra.Command, fn func(context.Context, *corpus.Corpus) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	params := runParams(cmd)
	dbPath, _ := cmd.Flags().GetString("db")

	cfg, err := loadOptionalConfig(params.ConfigPath)
	if err != nil {
		return err
	}
	c, db, err := openCorpus(ctx, cfg, params.DataDir, dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(ctx, c)
}

func loadOptionalConfig(path string) (*config.Config, error) {
	if path == "" {
		resolved, err := app.ResolveConfigPath()
		if err != nil {
			return nil, nil
		}
		path = resolved
	}
	return config.Load(path)
}

func openCorpus(ctx context.Context, cfg *config.Config, dataDir, dbPath string) (*corpus.Corpus, *sql.DB, error) {
	var cc corpus.Config
	if cfg != nil {
		if node, ok := cfg.Modules["retrieval.sqlite"]; ok {
			if err := node.Decode(&cc); err != nil {
				return nil, nil, fmt.Errorf("retrieval.sqlite: decode config: %w", err)
			}
		}
	}
	if dbPath != "" {
		cc.Path = dbPath
	}
	return corpus.Open(ctx, cc, app.ResolveDataDir(dataDir, cfg))
}

// addDocuments indexes every file named in paths, walking directories for
// text documents. Sources are recorded as given on the command line so a
// later add of the same path replaces them.
func addDocuments(ctx context.Context, out io.Writer, c *corpus.Corpus, paths []string) error {
	files, err := collectFiles(paths)
	if err != nil {
		return err
	}
	total := 0
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		n, err := c.Add(ctx, filepath.ToSlash(f), string(raw))
		if err != nil {
			return err
		}
		total += n
		fmt.Fprintf(out, "%s: %d passages\n", f, n)
	}
	fmt.Fprintf(out, "indexed %d files, %d passages\n", len(files), total)
	return nil
}

func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, filepath.Clean(p))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && path != p && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if !d.IsDir() && slices.Contains(indexedExtensions, strings.ToLower(filepath.Ext(path))) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
