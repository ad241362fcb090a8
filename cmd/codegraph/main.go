package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codegraph-mcp/internal/chunker"
	"github.com/dshills/codegraph-mcp/internal/config"
	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/internal/indexer"
	"github.com/dshills/codegraph-mcp/internal/mcp"
	"github.com/dshills/codegraph-mcp/internal/parser"
	"github.com/dshills/codegraph-mcp/internal/searcher"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/internal/symbol"
	"github.com/dshills/codegraph-mcp/internal/textindex"
	"github.com/dshills/codegraph-mcp/internal/vector"
	"github.com/dshills/codegraph-mcp/internal/watcher"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "codegraph",
	Short: "Code and document intelligence engine",
	Long: `codegraph extracts symbols and prose chunks from a source tree,
builds a hybrid exact/fuzzy/semantic index and answers low-latency
lookup and similarity queries.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("data_dir", "", "Directory for index data (default ~/.codegraph)")
	rootCmd.PersistentFlags().String("log_level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

// loadSettings resolves configuration with the command's flags layered on
// top of env vars, config file and defaults
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	settings, err := config.LoadSettingsWithFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}
	config.SetupLogging(settings)
	return settings, nil
}

// app bundles the engine components for CLI commands
type app struct {
	settings *config.Settings
	storage  storage.Storage
	text     *textindex.Index
	vectors  *vector.Store
	emb      embedder.Embedder
	arena    *symbol.Arena
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
}

func openApp(ctx context.Context, settings *config.Settings) (*app, error) {
	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(ctx, filepath.Join(settings.DataDir, "codegraph.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	text, err := textindex.Open(filepath.Join(settings.DataDir, "text.bleve"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open text index: %w", err)
	}
	emb, err := embedder.New(settings.Embedding)
	if err != nil {
		_ = text.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	vectors, err := vector.Open(filepath.Join(settings.DataDir, "vectors"), emb.Model(), emb.Dimension())
	if err != nil {
		_ = emb.Close()
		_ = text.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	arena := symbol.NewArena(settings.Vector.ShardCount)

	idx := indexer.New(indexer.Options{
		Parser:         parser.NewRegistry(),
		Chunker:        chunker.New(settings.Chunking),
		Storage:        store,
		Text:           text,
		Vectors:        vectors,
		Embedder:       emb,
		Arena:          arena,
		Settings:       settings.Pipeline,
		EmbedBatchSize: settings.Embedding.BatchSize,
	})

	return &app{
		settings: settings,
		storage:  store,
		text:     text,
		vectors:  vectors,
		emb:      emb,
		arena:    arena,
		indexer:  idx,
		searcher: searcher.New(text, vectors, emb, store, arena),
	}, nil
}

func (a *app) close() {
	_ = a.emb.Close()
	_ = a.vectors.Close()
	_ = a.text.Close()
	_ = a.storage.Close()
}

func indexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a source tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			ctx := signalContext()
			a, err := openApp(ctx, settings)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.indexer.Run(ctx, root, force)
			if err != nil {
				return err
			}

			fmt.Printf("Indexed %d files (%d skipped, %d failed) in %s\n",
				report.FilesIndexed, report.FilesSkipped, report.FilesFailed,
				report.Duration.Round(time.Millisecond))
			fmt.Printf("Symbols: %d  Relationships: %d  Chunks: %d\n",
				report.Symbols, report.Relationships, report.Chunks)
			for _, fe := range report.Errors {
				fmt.Fprintf(os.Stderr, "  %s (%s): %s\n", fe.Path, fe.Stage, fe.Err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reprocess every file, ignoring content fingerprints")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		mode      string
		language  string
		limit     int
		threshold float64
		probes    int
		depth     int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			ctx := signalContext()
			a, err := openApp(ctx, settings)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("probes") {
				probes = settings.Vector.ProbeCount
			}

			results, err := a.searcher.Search(ctx, searcher.Request{
				Query:      args[0],
				Mode:       searcher.Mode(mode),
				Language:   types.Language(language),
				Limit:      limit,
				Threshold:  threshold,
				ProbeCount: probes,
				Depth:      depth,
			})
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Println("No results.")
				return nil
			}
			for i := range results {
				res := &results[i]
				fmt.Printf("%2d. %-30s %-10s %s:%d", res.Rank, res.Name, res.Kind, res.FilePath, res.Line)
				if res.Score != 0 {
					fmt.Printf("  (%.3f)", res.Score)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(searcher.ModeFuzzy), "Search mode: exact, fuzzy, semantic, semantic_with_context, traverse")
	cmd.Flags().StringVar(&language, "language", "", "Restrict to one source language")
	cmd.Flags().IntVar(&limit, "limit", searcher.DefaultLimit, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity for semantic results")
	cmd.Flags().IntVar(&probes, "probes", 0, "Vector clusters examined per semantic search (0 = automatic)")
	cmd.Flags().IntVar(&depth, "depth", 1, "Traversal depth for traverse mode")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a source tree and keep the index current",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			ctx := signalContext()
			a, err := openApp(ctx, settings)
			if err != nil {
				return err
			}
			defer a.close()

			w, err := watcher.New(root, a.indexer, time.Duration(settings.Watch.DebounceMillis)*time.Millisecond)
			if err != nil {
				return err
			}

			err = w.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			ctx := signalContext()
			srv, err := mcp.NewServer(ctx, settings)
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("codegraph %s\n", version)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("SQLite: %s (%s)\n", storage.DriverName, storage.BuildMode)
		},
	}
}

// signalContext returns a context cancelled by SIGINT/SIGTERM
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx
}
