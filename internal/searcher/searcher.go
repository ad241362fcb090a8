// Package searcher routes queries across the text index, vector store and
// relationship graph, composing a single ranked result list.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/internal/symbol"
	"github.com/dshills/codegraph-mcp/internal/textindex"
	"github.com/dshills/codegraph-mcp/internal/vector"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Mode selects the search strategy
type Mode string

const (
	ModeExact    Mode = "exact"
	ModeFuzzy    Mode = "fuzzy"
	ModeSemantic Mode = "semantic"
	ModeTraverse Mode = "traverse"

	// ModeSemanticContext runs a semantic search, then attaches one-hop
	// calls / called-by neighbors to each hit. Bounded fan-out, never a
	// recursive expansion.
	ModeSemanticContext Mode = "semantic_with_context"
)

// DefaultLimit bounds result sets when the caller doesn't say
const DefaultLimit = 10

// MaxTraversalDepth caps relationship walks
const MaxTraversalDepth = 5

var (
	// ErrEmptyQuery is returned for blank query text
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrUnknownMode is returned for an unrecognized search mode
	ErrUnknownMode = errors.New("unknown search mode")
)

// Request is one search invocation
type Request struct {
	Query     string
	Mode      Mode
	Language  types.Language // empty = all languages
	Limit     int
	Threshold float64 // minimum similarity for semantic results

	// ProbeCount overrides how many vector clusters a semantic search
	// examines. Zero selects the store's automatic probe count.
	ProbeCount int

	// Depth bounds relationship traversal; only meaningful for
	// ModeTraverse. Zero selects depth 1.
	Depth int
}

// VectorIndex is the similarity-search surface the router needs from the
// vector store
type VectorIndex interface {
	Search(query []float32, k int, opts vector.SearchOptions) ([]vector.Result, error)
}

// Searcher answers queries against the built indexes
type Searcher struct {
	text     *textindex.Index
	vectors  VectorIndex
	embedder embedder.Embedder
	storage  storage.Storage
	arena    *symbol.Arena

	logger *slog.Logger
}

// New creates a Searcher over the given indexes
func New(text *textindex.Index, vectors VectorIndex, emb embedder.Embedder, store storage.Storage, arena *symbol.Arena) *Searcher {
	return &Searcher{
		text:     text,
		vectors:  vectors,
		embedder: emb,
		storage:  store,
		arena:    arena,
		logger:   slog.Default(),
	}
}

// Search dispatches a request to the matching strategy and returns ranked
// results
func (s *Searcher) Search(ctx context.Context, req Request) ([]types.SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	switch req.Mode {
	case ModeExact:
		return s.searchExact(ctx, req)
	case ModeFuzzy:
		return s.searchFuzzy(ctx, req)
	case ModeSemantic:
		return s.searchSemantic(ctx, req)
	case ModeSemanticContext:
		results, err := s.searchSemantic(ctx, req)
		if err != nil {
			return nil, err
		}
		return s.attachContext(ctx, results)
	case ModeTraverse:
		return s.traverse(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
}

// searchExact delegates to the text index's term lookup
func (s *Searcher) searchExact(ctx context.Context, req Request) ([]types.SearchResult, error) {
	hits, err := s.text.FindExact(req.Query, req.Limit*2)
	if err != nil {
		return nil, err
	}
	return s.resolveHits(ctx, hits, types.SourceExact, req)
}

// searchFuzzy delegates to the text index's fuzzy matcher, ranked by the
// index's native relevance score
func (s *Searcher) searchFuzzy(ctx context.Context, req Request) ([]types.SearchResult, error) {
	hits, err := s.text.FindFuzzy(req.Query, req.Limit*2)
	if err != nil {
		return nil, err
	}
	return s.resolveHits(ctx, hits, types.SourceFuzzy, req)
}

// searchSemantic embeds the query text and ranks by cosine similarity.
// The language filter narrows the candidate set before any similarity
// math; it never changes a surviving candidate's score.
func (s *Searcher) searchSemantic(ctx context.Context, req Request) ([]types.SearchResult, error) {
	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.vectors.Search(emb.Vector, req.Limit, vector.SearchOptions{
		Language:   req.Language,
		ProbeCount: req.ProbeCount,
	})
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(hits))
	for _, hit := range hits {
		if req.Threshold > 0 && hit.Score < req.Threshold {
			continue
		}
		res, err := s.resolveID(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // vector outlived its metadata; skip
			}
			return nil, err
		}
		res.Score = hit.Score
		res.Source = types.SourceSemantic
		res.Rank = len(results) + 1
		results = append(results, *res)
	}
	return results, nil
}

// attachContext enriches each result with its one-hop outgoing "calls" and
// incoming "called-by" neighbors
func (s *Searcher) attachContext(ctx context.Context, results []types.SearchResult) ([]types.SearchResult, error) {
	for i := range results {
		res := &results[i]
		if res.SymbolID == 0 {
			continue // chunks carry no relationships
		}

		out, err := s.storage.ListRelationshipsFrom(ctx, res.SymbolID, types.RelCalls)
		if err != nil {
			return nil, err
		}
		for _, rel := range out {
			if named, ok := s.symbolName(ctx, rel.ToID); ok {
				res.Calls = append(res.Calls, types.RelatedSymbol{ID: rel.ToID, Name: named, Kind: types.RelCalls})
			}
		}

		in, err := s.storage.ListRelationshipsTo(ctx, res.SymbolID, types.RelCalls)
		if err != nil {
			return nil, err
		}
		for _, rel := range in {
			if named, ok := s.symbolName(ctx, rel.FromID); ok {
				res.CalledBy = append(res.CalledBy, types.RelatedSymbol{ID: rel.FromID, Name: named, Kind: types.RelCalls})
			}
		}
	}
	return results, nil
}

// traverse walks the relationship graph breadth-first from the named
// symbol, cycle-safe via a visited set. Results preserve discovery order:
// BFS layer first, insertion order within a layer.
func (s *Searcher) traverse(ctx context.Context, req Request) ([]types.SearchResult, error) {
	depth := req.Depth
	if depth <= 0 {
		depth = 1
	}
	if depth > MaxTraversalDepth {
		depth = MaxTraversalDepth
	}

	roots, err := s.findByName(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, nil
	}

	visited := make(map[types.SymbolID]struct{})
	frontier := make([]types.SymbolID, 0, len(roots))
	for _, root := range roots {
		if _, seen := visited[root]; !seen {
			visited[root] = struct{}{}
			frontier = append(frontier, root)
		}
	}

	var order []types.SymbolID
	for layer := 0; layer < depth && len(frontier) > 0; layer++ {
		var next []types.SymbolID
		for _, id := range frontier {
			neighbors, err := s.neighbors(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				order = append(order, n)
				next = append(next, n)
			}
		}
		frontier = next
	}

	results := make([]types.SearchResult, 0, len(order))
	for _, id := range order {
		if len(results) >= req.Limit {
			break
		}
		res, err := s.resolveID(ctx, uint64(id))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		res.Source = types.SourceTraverse
		res.Rank = len(results) + 1
		results = append(results, *res)
	}
	return results, nil
}

// neighbors returns a symbol's adjacent IDs across all relationship kinds,
// outgoing then incoming, in stored order
func (s *Searcher) neighbors(ctx context.Context, id types.SymbolID) ([]types.SymbolID, error) {
	out, err := s.storage.ListRelationshipsFrom(ctx, id, "")
	if err != nil {
		return nil, err
	}
	in, err := s.storage.ListRelationshipsTo(ctx, id, "")
	if err != nil {
		return nil, err
	}

	ids := make([]types.SymbolID, 0, len(out)+len(in))
	for _, rel := range out {
		ids = append(ids, rel.ToID)
	}
	for _, rel := range in {
		ids = append(ids, rel.FromID)
	}
	return ids, nil
}

// findByName resolves a name to symbol IDs, arena first, storage fallback
func (s *Searcher) findByName(ctx context.Context, name string) ([]types.SymbolID, error) {
	cached := s.arena.Lookup(name)
	if len(cached) > 0 {
		ids := make([]types.SymbolID, len(cached))
		for i := range cached {
			ids[i] = cached[i].ID
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		return ids, nil
	}

	syms, err := s.storage.FindSymbolsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	ids := make([]types.SymbolID, len(syms))
	for i, sym := range syms {
		ids[i] = sym.ID
	}
	return ids, nil
}

// resolveHits turns text-index hits into full results, applying the
// language filter and limit
func (s *Searcher) resolveHits(ctx context.Context, hits []textindex.Hit, source types.ResultSource, req Request) ([]types.SearchResult, error) {
	results := make([]types.SearchResult, 0, len(hits))
	for _, hit := range hits {
		if len(results) >= req.Limit {
			break
		}
		res, err := s.resolveID(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if req.Language != "" && res.Language != req.Language {
			continue
		}
		res.Score = hit.Score
		res.Source = source
		res.Rank = len(results) + 1
		results = append(results, *res)
	}
	return results, nil
}

// resolveID loads display metadata for a vector-space identifier, which
// addresses either a symbol or a document chunk
func (s *Searcher) resolveID(ctx context.Context, id uint64) (*types.SearchResult, error) {
	if storage.IsChunkID(id) {
		chunk, err := s.storage.GetChunk(ctx, types.ChunkID(id))
		if err != nil {
			return nil, err
		}
		name := chunk.Heading()
		if name == "" {
			name = chunk.DocPath
		}
		return &types.SearchResult{
			Name:     name,
			Kind:     types.KindModule,
			FilePath: chunk.DocPath,
			Language: types.LangMarkdown,
			Doc:      chunk.Text,
		}, nil
	}

	symID := types.SymbolID(id)
	if sym, ok := s.arena.GetByID(symID); ok {
		return symbolResult(&sym), nil
	}
	sym, err := s.storage.GetSymbol(ctx, symID)
	if err != nil {
		return nil, err
	}
	return symbolResult(sym), nil
}

func (s *Searcher) symbolName(ctx context.Context, id types.SymbolID) (string, bool) {
	if sym, ok := s.arena.GetByID(id); ok {
		return sym.Name, true
	}
	sym, err := s.storage.GetSymbol(ctx, id)
	if err != nil {
		return "", false
	}
	return sym.Name, true
}

func symbolResult(sym *types.Symbol) *types.SearchResult {
	return &types.SearchResult{
		SymbolID: sym.ID,
		Name:     sym.Name,
		Kind:     sym.Kind,
		FilePath: sym.FilePath,
		Line:     sym.Span.StartLine,
		Language: sym.Language,
		Doc:      sym.Doc,
	}
}
