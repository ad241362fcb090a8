package searcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/internal/symbol"
	"github.com/dshills/codegraph-mcp/internal/textindex"
	"github.com/dshills/codegraph-mcp/internal/vector"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// fixture stands up a searcher over real components in a temp dir
type fixture struct {
	searcher *Searcher
	storage  storage.Storage
	text     *textindex.Index
	vectors  *vector.Store
	embedder embedder.Embedder
	arena    *symbol.Arena
	fileID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(ctx, filepath.Join(dir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	text, err := textindex.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = text.Close() })

	emb, err := embedder.NewLocalProvider(embedder.NewCache(100))
	require.NoError(t, err)

	vectors, err := vector.Open(filepath.Join(dir, "vectors"), emb.Model(), emb.Dimension())
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	arena := symbol.NewArena(16)

	return &fixture{
		searcher: New(text, vectors, emb, store, arena),
		storage:  store,
		text:     text,
		vectors:  vectors,
		embedder: emb,
		arena:    arena,
	}
}

// addFile registers a file and stores, indexes and embeds its symbols
func (f *fixture) addFile(t *testing.T, path string, symbols []types.Symbol) []types.Symbol {
	t.Helper()
	ctx := context.Background()

	file := &storage.File{
		Path:     path,
		ModTime:  time.Now(),
		Language: types.LangGo,
	}
	require.NoError(t, f.storage.UpsertFile(ctx, file))
	f.fileID = file.ID

	for i := range symbols {
		symbols[i].FilePath = path
		if symbols[i].Language == "" {
			symbols[i].Language = types.LangGo
		}
	}
	require.NoError(t, f.storage.InsertSymbols(ctx, f.fileID, symbols))
	require.NoError(t, f.text.Insert(symbols))
	require.NoError(t, f.text.Commit())

	entries := make([]vector.Entry, 0, len(symbols))
	for i := range symbols {
		f.arena.Insert(symbols[i])
		text := symbols[i].Signature
		if text == "" {
			text = symbols[i].Name
		}
		emb, err := f.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		require.NoError(t, err)
		entries = append(entries, vector.Entry{
			ID:       uint64(symbols[i].ID),
			Vector:   emb.Vector,
			Language: symbols[i].Language,
		})
	}
	require.NoError(t, f.vectors.Insert(entries))
	return symbols
}

func (f *fixture) addRelationships(t *testing.T, rels []types.Relationship) {
	t.Helper()
	_, err := f.storage.InsertRelationships(context.Background(), rels)
	require.NoError(t, err)
}

func namedSymbol(name string, kind types.SymbolKind) types.Symbol {
	return types.Symbol{
		Name:       name,
		Kind:       kind,
		Signature:  "func " + name + "()",
		Visibility: types.VisibilityPublic,
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t)

	_, err := f.searcher.Search(context.Background(), Request{Query: "   ", Mode: ModeExact})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchRejectsUnknownMode(t *testing.T) {
	f := newFixture(t)

	_, err := f.searcher.Search(context.Background(), Request{Query: "x", Mode: "regex"})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestExactSearch(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "pkg/handler.go", []types.Symbol{
		namedSymbol("HandleRequest", types.KindFunction),
		namedSymbol("HandleRequestLegacy", types.KindFunction),
	})

	results, err := f.searcher.Search(context.Background(), Request{
		Query: "HandleRequest",
		Mode:  ModeExact,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "HandleRequest", results[0].Name)
	assert.Equal(t, "pkg/handler.go", results[0].FilePath)
	assert.Equal(t, types.SourceExact, results[0].Source)
	assert.Equal(t, 1, results[0].Rank)
}

func TestExactSearchMissReturnsEmpty(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "pkg/handler.go", []types.Symbol{
		namedSymbol("HandleRequest", types.KindFunction),
	})

	results, err := f.searcher.Search(context.Background(), Request{
		Query: "DoesNotExist",
		Mode:  ModeExact,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFuzzySearch(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "pkg/handler.go", []types.Symbol{
		namedSymbol("handler", types.KindFunction),
		namedSymbol("unrelated", types.KindFunction),
	})

	results, err := f.searcher.Search(context.Background(), Request{
		Query: "handlr",
		Mode:  ModeFuzzy,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "handler", results[0].Name)
	assert.Equal(t, types.SourceFuzzy, results[0].Source)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSemanticSearchFindsOwnText(t *testing.T) {
	f := newFixture(t)
	symbols := f.addFile(t, "pkg/handler.go", []types.Symbol{
		namedSymbol("HandleRequest", types.KindFunction),
		namedSymbol("ParseConfig", types.KindFunction),
	})

	// The local embedder is content-addressed, so the exact stored text
	// is its own nearest neighbor with similarity 1.
	results, err := f.searcher.Search(context.Background(), Request{
		Query: symbols[0].Signature,
		Mode:  ModeSemantic,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "HandleRequest", results[0].Name)
	assert.Equal(t, types.SourceSemantic, results[0].Source)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestSemanticThresholdFilters(t *testing.T) {
	f := newFixture(t)
	symbols := f.addFile(t, "pkg/handler.go", []types.Symbol{
		namedSymbol("HandleRequest", types.KindFunction),
		namedSymbol("ParseConfig", types.KindFunction),
	})

	results, err := f.searcher.Search(context.Background(), Request{
		Query:     symbols[0].Signature,
		Mode:      ModeSemantic,
		Threshold: 0.999,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "HandleRequest", results[0].Name)
}

func TestSemanticLanguageFilter(t *testing.T) {
	f := newFixture(t)
	goSyms := f.addFile(t, "pkg/handler.go", []types.Symbol{
		namedSymbol("process", types.KindFunction),
	})
	pySym := namedSymbol("process_py", types.KindFunction)
	pySym.Language = types.LangPython
	f.addFile(t, "scripts/process.py", []types.Symbol{pySym})

	results, err := f.searcher.Search(context.Background(), Request{
		Query:    goSyms[0].Signature,
		Mode:     ModeSemantic,
		Language: types.LangPython,
	})
	require.NoError(t, err)
	for _, res := range results {
		assert.Equal(t, types.LangPython, res.Language)
	}
}

func TestTraverseFollowsCallEdges(t *testing.T) {
	f := newFixture(t)
	symbols := f.addFile(t, "pkg/chain.go", []types.Symbol{
		namedSymbol("Root", types.KindFunction),
		namedSymbol("Middle", types.KindFunction),
		namedSymbol("Leaf", types.KindFunction),
	})
	f.addRelationships(t, []types.Relationship{
		{FromID: symbols[0].ID, ToID: symbols[1].ID, Kind: types.RelCalls, FilePath: "pkg/chain.go", Line: 2},
		{FromID: symbols[1].ID, ToID: symbols[2].ID, Kind: types.RelCalls, FilePath: "pkg/chain.go", Line: 5},
	})

	// Depth 1 reaches only the direct neighbor
	results, err := f.searcher.Search(context.Background(), Request{
		Query: "Root",
		Mode:  ModeTraverse,
		Depth: 1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Middle", results[0].Name)
	assert.Equal(t, types.SourceTraverse, results[0].Source)

	// Depth 2 reaches the transitive callee, layer order preserved
	results, err = f.searcher.Search(context.Background(), Request{
		Query: "Root",
		Mode:  ModeTraverse,
		Depth: 2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Middle", results[0].Name)
	assert.Equal(t, "Leaf", results[1].Name)
}

func TestTraverseIsCycleSafe(t *testing.T) {
	f := newFixture(t)
	symbols := f.addFile(t, "pkg/cycle.go", []types.Symbol{
		namedSymbol("Ping", types.KindFunction),
		namedSymbol("Pong", types.KindFunction),
	})
	f.addRelationships(t, []types.Relationship{
		{FromID: symbols[0].ID, ToID: symbols[1].ID, Kind: types.RelCalls, FilePath: "pkg/cycle.go", Line: 2},
		{FromID: symbols[1].ID, ToID: symbols[0].ID, Kind: types.RelCalls, FilePath: "pkg/cycle.go", Line: 6},
	})

	results, err := f.searcher.Search(context.Background(), Request{
		Query: "Ping",
		Mode:  ModeTraverse,
		Depth: 5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1, "the root never re-enters the result set")
	assert.Equal(t, "Pong", results[0].Name)
}

func TestTraverseIncludesIncomingEdges(t *testing.T) {
	f := newFixture(t)
	symbols := f.addFile(t, "pkg/edges.go", []types.Symbol{
		namedSymbol("Target", types.KindFunction),
		namedSymbol("Caller", types.KindFunction),
	})
	f.addRelationships(t, []types.Relationship{
		{FromID: symbols[1].ID, ToID: symbols[0].ID, Kind: types.RelCalls, FilePath: "pkg/edges.go", Line: 3},
	})

	results, err := f.searcher.Search(context.Background(), Request{
		Query: "Target",
		Mode:  ModeTraverse,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Caller", results[0].Name)
}

func TestTraverseUnknownRoot(t *testing.T) {
	f := newFixture(t)

	results, err := f.searcher.Search(context.Background(), Request{
		Query: "Nobody",
		Mode:  ModeTraverse,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSemanticWithContextAttachesNeighbors(t *testing.T) {
	f := newFixture(t)
	symbols := f.addFile(t, "pkg/ctx.go", []types.Symbol{
		namedSymbol("Center", types.KindFunction),
		namedSymbol("Callee", types.KindFunction),
		namedSymbol("Caller", types.KindFunction),
	})
	f.addRelationships(t, []types.Relationship{
		{FromID: symbols[0].ID, ToID: symbols[1].ID, Kind: types.RelCalls, FilePath: "pkg/ctx.go", Line: 2},
		{FromID: symbols[2].ID, ToID: symbols[0].ID, Kind: types.RelCalls, FilePath: "pkg/ctx.go", Line: 9},
	})

	results, err := f.searcher.Search(context.Background(), Request{
		Query: symbols[0].Signature,
		Mode:  ModeSemanticContext,
		Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Calls, 1)
	assert.Equal(t, "Callee", results[0].Calls[0].Name)
	require.Len(t, results[0].CalledBy, 1)
	assert.Equal(t, "Caller", results[0].CalledBy[0].Name)
}

func TestTraverseFallsBackToStorageWhenArenaCold(t *testing.T) {
	f := newFixture(t)
	symbols := f.addFile(t, "pkg/cold.go", []types.Symbol{
		namedSymbol("Origin", types.KindFunction),
		namedSymbol("Dest", types.KindFunction),
	})
	f.addRelationships(t, []types.Relationship{
		{FromID: symbols[0].ID, ToID: symbols[1].ID, Kind: types.RelCalls, FilePath: "pkg/cold.go", Line: 2},
	})

	// Simulate a restarted process: the arena is empty, storage is not
	f.arena.RemoveByIDs([]types.SymbolID{symbols[0].ID, symbols[1].ID})

	results, err := f.searcher.Search(context.Background(), Request{
		Query: "Origin",
		Mode:  ModeTraverse,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Dest", results[0].Name)
}

// recordingVectors wraps a store and captures the options of the last
// similarity search
type recordingVectors struct {
	inner    *vector.Store
	lastOpts vector.SearchOptions
}

func (r *recordingVectors) Search(query []float32, k int, opts vector.SearchOptions) ([]vector.Result, error) {
	r.lastOpts = opts
	return r.inner.Search(query, k, opts)
}

func TestSemanticSearchForwardsProbeCount(t *testing.T) {
	f := newFixture(t)
	symbols := f.addFile(t, "pkg/handler.go", []types.Symbol{
		namedSymbol("HandleRequest", types.KindFunction),
	})

	rec := &recordingVectors{inner: f.vectors}
	s := New(f.text, rec, f.embedder, f.storage, f.arena)

	_, err := s.Search(context.Background(), Request{
		Query:      symbols[0].Signature,
		Mode:       ModeSemantic,
		ProbeCount: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, rec.lastOpts.ProbeCount)

	// Zero keeps the store's automatic probe selection.
	_, err = s.Search(context.Background(), Request{
		Query: symbols[0].Signature,
		Mode:  ModeSemantic,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.lastOpts.ProbeCount)
}
