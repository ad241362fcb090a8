package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph-mcp/internal/chunker"
	"github.com/dshills/codegraph-mcp/internal/config"
	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/internal/parser"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/internal/symbol"
	"github.com/dshills/codegraph-mcp/internal/textindex"
	"github.com/dshills/codegraph-mcp/internal/vector"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// harness wires a full pipeline over real components in temp dirs
type harness struct {
	idx     *Indexer
	storage storage.Storage
	text    *textindex.Index
	vectors *vector.Store
	arena   *symbol.Arena
	root    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	dataDir := t.TempDir()

	store, err := storage.NewSQLiteStorage(ctx, filepath.Join(dataDir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	text, err := textindex.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = text.Close() })

	emb, err := embedder.NewLocalProvider(embedder.NewCache(1000))
	require.NoError(t, err)

	vectors, err := vector.Open(filepath.Join(dataDir, "vectors"), emb.Model(), emb.Dimension())
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	arena := symbol.NewArena(16)

	idx := New(Options{
		Parser:  parser.NewRegistry(),
		Chunker: chunker.New(config.ChunkingSettings{
			MinChunkChars: 200,
			MaxChunkChars: 1500,
			OverlapChars:  100,
			Strategy:      config.StrategyParagraph,
		}),
		Storage:  store,
		Text:     text,
		Vectors:  vectors,
		Embedder: emb,
		Arena:    arena,
		Settings: config.PipelineSettings{
			Workers:     4,
			BatchSize:   100,
			IgnoreDirs:  []string{"vendor", "node_modules"},
			IncludeDocs: true,
		},
		EmbedBatchSize: 8,
	})

	return &harness{
		idx:     idx,
		storage: store,
		text:    text,
		vectors: vectors,
		arena:   arena,
		root:    t.TempDir(),
	}
}

func (h *harness) writeFile(t *testing.T, relPath, content string) {
	t.Helper()
	path := filepath.Join(h.root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (h *harness) run(t *testing.T, force bool) *RunReport {
	t.Helper()
	report, err := h.idx.Run(context.Background(), h.root, force)
	require.NoError(t, err)
	return report
}

const mainSrc = `package main

// Run starts the service.
func Run() {
	setup()
}

func setup() {}
`

const utilSrc = `package main

type Config struct {
	Host string
}
`

const guideDoc = `# Guide

This paragraph describes the service in enough words to survive chunking as
real prose would. It explains what the indexer does, how files are
discovered, and how symbols end up searchable across every index at once.
`

func TestRunIndexesProject(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "main.go", mainSrc)
	h.writeFile(t, "util.go", utilSrc)
	h.writeFile(t, "docs/guide.md", guideDoc)

	report := h.run(t, false)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.FilesDiscovered)
	assert.Equal(t, 3, report.FilesIndexed)
	assert.Zero(t, report.FilesSkipped)
	assert.Zero(t, report.FilesFailed)
	assert.Equal(t, 3, report.Symbols)
	assert.Equal(t, 1, report.Relationships)
	assert.Equal(t, 1, report.Chunks)
	assert.Empty(t, report.Errors)

	// Symbols landed in storage with the call edge resolved
	ctx := context.Background()
	syms, err := h.storage.FindSymbolsByName(ctx, "Run")
	require.NoError(t, err)
	require.Len(t, syms, 1)

	out, err := h.storage.ListRelationshipsFrom(ctx, syms[0].ID, types.RelCalls)
	require.NoError(t, err)
	require.Len(t, out, 1)

	// Text index committed
	hits, err := h.text.FindExact("Config", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	// Every symbol and chunk got an embedding
	assert.Equal(t, 4, h.vectors.Count())
	assert.Zero(t, report.EmbeddingsFailed)

	// Arena warm
	assert.Equal(t, 3, h.arena.Len())
}

func TestRunEmptyTree(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "README.txt", "not an indexable file")

	_, err := h.idx.Run(context.Background(), h.root, false)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestSecondRunSkipsUnchanged(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "main.go", mainSrc)
	h.writeFile(t, "util.go", utilSrc)

	h.run(t, false)
	report := h.run(t, false)

	assert.Equal(t, 2, report.FilesDiscovered)
	assert.Zero(t, report.FilesIndexed)
	assert.Equal(t, 2, report.FilesSkipped)
}

func TestForceReprocessesEverything(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "main.go", mainSrc)

	h.run(t, false)
	report := h.run(t, true)

	assert.Equal(t, 1, report.FilesIndexed)
	assert.Zero(t, report.FilesSkipped)

	// Full replace keeps exactly one copy of everything
	hits, err := h.text.FindExact("Run", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.Equal(t, 2, h.arena.Len())
}

func TestModifiedFileReplacedNotDuplicated(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "main.go", mainSrc)
	h.writeFile(t, "util.go", utilSrc)
	h.run(t, false)

	// Backdate so the rewrite is a content change under the same second
	h.writeFile(t, "main.go", `package main

// Launch replaces Run.
func Launch() {}
`)
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(h.root, "main.go"), future, future))

	report := h.run(t, false)
	assert.Equal(t, 1, report.FilesIndexed)
	assert.Equal(t, 1, report.FilesSkipped)

	ctx := context.Background()
	old, err := h.storage.FindSymbolsByName(ctx, "Run")
	require.NoError(t, err)
	assert.Empty(t, old, "replaced symbols must not linger")

	fresh, err := h.storage.FindSymbolsByName(ctx, "Launch")
	require.NoError(t, err)
	assert.Len(t, fresh, 1)

	hits, err := h.text.FindExact("Run", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIgnoreDirsAndHiddenSkipped(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "main.go", mainSrc)
	h.writeFile(t, "vendor/dep.go", "package dep\n\nfunc Vendored() {}\n")
	h.writeFile(t, ".hidden/secret.go", "package hidden\n\nfunc Hidden() {}\n")

	report := h.run(t, false)
	assert.Equal(t, 1, report.FilesDiscovered)

	syms, err := h.storage.FindSymbolsByName(context.Background(), "Vendored")
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestDocsExcludedWhenConfigured(t *testing.T) {
	h := newHarness(t)
	h.idx.includeDocs = false
	h.writeFile(t, "main.go", mainSrc)
	h.writeFile(t, "docs/guide.md", guideDoc)

	report := h.run(t, false)
	assert.Equal(t, 1, report.FilesDiscovered)
	assert.Zero(t, report.Chunks)
}

func TestMarkdownCollections(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "docs/guide.md", guideDoc)
	h.writeFile(t, "README.md", guideDoc)

	h.run(t, false)

	ctx := context.Background()
	file, err := h.storage.GetFile(ctx, "docs/guide.md")
	require.NoError(t, err)
	ids, err := h.storage.ChunkIDsByFile(ctx, file.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	chunk, err := h.storage.GetChunk(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "docs", chunk.Collection)

	file, err = h.storage.GetFile(ctx, "README.md")
	require.NoError(t, err)
	ids, err = h.storage.ChunkIDsByFile(ctx, file.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	chunk, err = h.storage.GetChunk(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "root", chunk.Collection)
}

func TestSyntaxErrorFileStillContributes(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "broken.go", "package main\n\nfunc ok() {}\n\nfunc bad( {\n")

	report := h.run(t, false)

	assert.Equal(t, 1, report.FilesIndexed)
	syms, err := h.storage.FindSymbolsByName(context.Background(), "ok")
	require.NoError(t, err)
	assert.Len(t, syms, 1)
}

func TestRemoveFile(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "main.go", mainSrc)
	h.writeFile(t, "util.go", utilSrc)
	h.run(t, false)

	require.NoError(t, h.idx.RemoveFile(context.Background(), "main.go"))

	ctx := context.Background()
	_, err := h.storage.GetFile(ctx, "main.go")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	syms, err := h.storage.FindSymbolsByName(ctx, "Run")
	require.NoError(t, err)
	assert.Empty(t, syms)

	hits, err := h.text.FindExact("Run", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// util.go survives untouched
	syms, err = h.storage.FindSymbolsByName(ctx, "Config")
	require.NoError(t, err)
	assert.Len(t, syms, 1)
	assert.Equal(t, 1, h.vectors.Count())
	assert.Equal(t, 1, h.arena.Len())

	// Removing an untracked path is a no-op
	require.NoError(t, h.idx.RemoveFile(ctx, "missing.go"))
}

func TestBatchBoundarySpansFiles(t *testing.T) {
	h := newHarness(t)
	h.idx.batchSize = 2

	h.writeFile(t, "a.go", "package main\n\nfunc A1() {}\n\nfunc A2() {}\n\nfunc A3() {}\n")
	h.writeFile(t, "b.go", "package main\n\nfunc B1() {}\n")

	report := h.run(t, false)
	assert.Equal(t, 4, report.Symbols)
	assert.Equal(t, 4, h.vectors.Count())

	hits, err := h.text.FindExact("A3", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSymlinksNeverFollowed(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "main.go", "package main\n\nfunc Keep() {}\n")

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "leak.go"), []byte("package leak\n\nfunc Leak() {}\n"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "leak.go"), filepath.Join(h.root, "link.go")))
	require.NoError(t, os.Symlink(outside, filepath.Join(h.root, "linked")))

	report := h.run(t, false)
	assert.Equal(t, 1, report.FilesDiscovered)
	assert.Equal(t, 1, report.FilesIndexed)

	ctx := context.Background()
	_, err := h.storage.GetFile(ctx, "link.go")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = h.storage.GetFile(ctx, filepath.Join("linked", "leak.go"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	hits, err := h.text.FindExact("Leak", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDiscoveryStreamsLargeTrees(t *testing.T) {
	// Far more files than the stage channels hold, so the walk has to
	// interleave with downstream consumption rather than buffer ahead.
	h := newHarness(t)
	for i := 0; i < 120; i++ {
		h.writeFile(t, fmt.Sprintf("pkg%03d/file.go", i), fmt.Sprintf("package pkg%03d\n\nfunc Fn%03d() {}\n", i, i))
	}

	report := h.run(t, false)
	assert.Equal(t, 120, report.FilesDiscovered)
	assert.Equal(t, 120, report.FilesIndexed)
	assert.Equal(t, 120, report.Symbols)
}
