// Package textindex wraps the bleve full-text engine behind the narrow
// surface the pipeline and searcher need: batched inserts with
// caller-controlled commits, exact-name and fuzzy lookup, and per-file
// deletion. The engine's on-disk format is bleve's own.
package textindex

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Field names in the bleve document mapping
const (
	FieldName     = "name"
	FieldKind     = "kind"
	FieldFilePath = "file_path"
	FieldLanguage = "language"
	FieldDoc      = "doc"
	FieldText     = "text"
)

// document is the shape stored in bleve for both symbols and chunks
type document struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	FilePath string `json:"file_path"`
	Language string `json:"language"`
	Doc      string `json:"doc,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Hit is one text-search result
type Hit struct {
	ID       uint64
	Name     string
	FilePath string
	Score    float64
}

// Index is a single-writer/multi-reader text index. Writers accumulate into
// an uncommitted batch; readers see only committed state.
type Index struct {
	mu    sync.RWMutex
	idx   bleve.Index
	batch *bleve.Batch
}

// buildMapping returns the bleve mapping: name, kind, file path and
// language are keyword fields (exact term lookup), doc and chunk text are
// analyzed for fuzzy/full-text matching.
func buildMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = keyword.Name
	nameField.Store = true
	docMapping.AddFieldMappingsAt(FieldName, nameField)

	kindField := bleve.NewTextFieldMapping()
	kindField.Analyzer = keyword.Name
	kindField.Store = true
	docMapping.AddFieldMappingsAt(FieldKind, kindField)

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true
	docMapping.AddFieldMappingsAt(FieldFilePath, pathField)

	langField := bleve.NewTextFieldMapping()
	langField.Analyzer = keyword.Name
	langField.Store = true
	docMapping.AddFieldMappingsAt(FieldLanguage, langField)

	docField := bleve.NewTextFieldMapping()
	docField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(FieldDoc, docField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(FieldText, textField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Open opens or creates the text index at the given path
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open text index: %w", err)
	}
	return &Index{idx: idx, batch: idx.NewBatch()}, nil
}

// OpenInMemory creates an ephemeral index, used in tests
func OpenInMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory text index: %w", err)
	}
	return &Index{idx: idx, batch: idx.NewBatch()}, nil
}

// docID zero-pads to 20 digits (the uint64 maximum) so the "_id" sort,
// which compares strings, orders documents numerically.
func docID(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

// Insert buffers symbols into the pending batch; they become visible to
// readers at the next Commit
func (t *Index) Insert(symbols []types.Symbol) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range symbols {
		sym := &symbols[i]
		doc := document{
			Name:     sym.Name,
			Kind:     string(sym.Kind),
			FilePath: sym.FilePath,
			Language: string(sym.Language),
			Doc:      sym.Doc,
		}
		if err := t.batch.Index(docID(uint64(sym.ID)), doc); err != nil {
			return fmt.Errorf("failed to batch symbol %s: %w", sym.Name, err)
		}
	}
	return nil
}

// InsertChunks buffers document chunks into the pending batch. Chunk IDs
// carry the chunk tag bit, so they never collide with symbol documents.
func (t *Index) InsertChunks(chunks []*types.DocumentChunk) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, chunk := range chunks {
		doc := document{
			Name:     chunk.Heading(),
			Kind:     "chunk",
			FilePath: chunk.DocPath,
			Language: string(types.LangMarkdown),
			Text:     chunk.Text,
		}
		if err := t.batch.Index(docID(uint64(chunk.ID)), doc); err != nil {
			return fmt.Errorf("failed to batch chunk %d: %w", chunk.ID, err)
		}
	}
	return nil
}

// Commit flushes the pending batch. Called once per completed pipeline
// batch, not per symbol, to bound write amplification.
func (t *Index) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.batch.Size() == 0 {
		return nil
	}
	if err := t.idx.Batch(t.batch); err != nil {
		return fmt.Errorf("failed to commit text index batch: %w", err)
	}
	t.batch = t.idx.NewBatch()
	return nil
}

// FindExact returns committed symbols whose name matches exactly, ordered
// by ascending ID for determinism
func (t *Index) FindExact(name string, limit int) ([]Hit, error) {
	q := bleve.NewTermQuery(name)
	q.SetField(FieldName)
	return t.search(q, limit, true)
}

// FindFuzzy returns committed entries whose name, doc or text approximately
// matches the query, ranked by bleve's native relevance score
func (t *Index) FindFuzzy(queryText string, limit int) ([]Hit, error) {
	nameQuery := bleve.NewFuzzyQuery(queryText)
	nameQuery.SetField(FieldName)
	nameQuery.SetBoost(3.0)

	docQuery := bleve.NewMatchQuery(queryText)
	docQuery.SetField(FieldDoc)

	textQuery := bleve.NewMatchQuery(queryText)
	textQuery.SetField(FieldText)

	return t.search(bleve.NewDisjunctionQuery(nameQuery, docQuery, textQuery), limit, false)
}

// DeleteFile removes every committed document that belongs to a file path.
// Used for full-replace reindexing.
func (t *Index) DeleteFile(path string) error {
	pathQuery := bleve.NewTermQuery(path)
	pathQuery.SetField(FieldFilePath)

	t.mu.Lock()
	defer t.mu.Unlock()

	req := bleve.NewSearchRequest(pathQuery)
	req.Size = 10000
	for {
		results, err := t.idx.Search(req)
		if err != nil {
			return fmt.Errorf("failed to find documents for %s: %w", path, err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := t.idx.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := t.idx.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete documents for %s: %w", path, err)
		}
		if uint64(len(results.Hits)) >= results.Total {
			return nil
		}
	}
}

// Count returns the number of committed documents
func (t *Index) Count() (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.idx.DocCount()
}

// Close releases the underlying index
func (t *Index) Close() error {
	return t.idx.Close()
}

func (t *Index) search(q query.Query, limit int, sortByID bool) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{FieldName, FieldFilePath}
	if sortByID {
		// Exact lookups have uniform scores; order by document ID so
		// repeated queries return identical output.
		req.SortBy([]string{"_id"})
	}

	t.mu.RLock()
	results, err := t.idx.Search(req)
	t.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("text search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results.Hits))
	for _, h := range results.Hits {
		id, err := strconv.ParseUint(h.ID, 10, 64)
		if err != nil {
			continue
		}
		hit := Hit{ID: id, Score: h.Score}
		if name, ok := h.Fields[FieldName].(string); ok {
			hit.Name = name
		}
		if path, ok := h.Fields[FieldFilePath].(string); ok {
			hit.FilePath = path
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
