package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codegraph-mcp/internal/chunker"
	"github.com/dshills/codegraph-mcp/internal/config"
	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/internal/indexer"
	"github.com/dshills/codegraph-mcp/internal/parser"
	"github.com/dshills/codegraph-mcp/internal/searcher"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/internal/symbol"
	"github.com/dshills/codegraph-mcp/internal/textindex"
	"github.com/dshills/codegraph-mcp/internal/vector"
)

const (
	// ServerName is the MCP server name
	ServerName = "codegraph-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	settings *config.Settings
	storage  storage.Storage
	text     *textindex.Index
	vectors  *vector.Store
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
}

// NewServer creates a new MCP server instance from resolved settings
func NewServer(ctx context.Context, settings *config.Settings) (*Server, error) {
	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(ctx, filepath.Join(settings.DataDir, "codegraph.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	text, err := textindex.Open(filepath.Join(settings.DataDir, "text.bleve"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize text index: %w", err)
	}

	emb, err := embedder.New(settings.Embedding)
	if err != nil {
		_ = text.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	vectors, err := vector.Open(filepath.Join(settings.DataDir, "vectors"), emb.Model(), emb.Dimension())
	if err != nil {
		_ = emb.Close()
		_ = text.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
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

	srch := searcher.New(text, vectors, emb, store, arena)

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:      mcpServer,
		settings: settings,
		storage:  store,
		text:     text,
		vectors:  vectors,
		indexer:  idx,
		searcher: srch,
	}

	s.registerTools()

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown. Stdout
// carries the protocol; all logging goes to stderr.
func (s *Server) Serve(ctx context.Context) error {
	defer s.closeAll()
	return server.ServeStdio(s.mcp)
}

func (s *Server) closeAll() {
	_ = s.vectors.Close()
	_ = s.text.Close()
	_ = s.storage.Close()
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexProjectTool(), s.handleIndexProject)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(findSymbolTool(), s.handleFindSymbol)
	s.mcp.AddTool(getRelationshipsTool(), s.handleGetRelationships)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
