// Package indexer coordinates the indexing pipeline: discover -> read ->
// parse -> collect -> {text index, embed}. Stages communicate only through
// bounded channels; channel capacity is the sole backpressure mechanism, so
// a slow embedding backend throttles the whole pipeline and peak memory
// stays bounded.
package indexer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codegraph-mcp/internal/chunker"
	"github.com/dshills/codegraph-mcp/internal/config"
	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/internal/parser"
	"github.com/dshills/codegraph-mcp/internal/security"
	"github.com/dshills/codegraph-mcp/internal/storage"
	"github.com/dshills/codegraph-mcp/internal/symbol"
	"github.com/dshills/codegraph-mcp/internal/textindex"
	"github.com/dshills/codegraph-mcp/internal/vector"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

const (
	// DefaultBatchSize is the collect-stage batch size; batching amortizes
	// text-index commit cost and embedding dispatch overhead
	DefaultBatchSize = 5000

	readRetries   = 3
	readRetryBase = 100 * time.Millisecond
)

// ErrNoFiles aborts a run whose discover stage found nothing to index
var ErrNoFiles = errors.New("no indexable files discovered")

// Indexer drives pipeline runs over a source tree
type Indexer struct {
	parser   *parser.Registry
	chunker  *chunker.Chunker
	storage  storage.Storage
	text     *textindex.Index
	vectors  *vector.Store
	embedder embedder.Embedder
	arena    *symbol.Arena

	workers     int
	batchSize   int
	embedBatch  int
	ignoreDirs  map[string]struct{}
	includeDocs bool

	logger *slog.Logger
}

// Options bundles the pipeline's collaborators
type Options struct {
	Parser   *parser.Registry
	Chunker  *chunker.Chunker
	Storage  storage.Storage
	Text     *textindex.Index
	Vectors  *vector.Store
	Embedder embedder.Embedder
	Arena    *symbol.Arena
	Settings config.PipelineSettings

	// EmbedBatchSize is the embedding scheduler batch size
	EmbedBatchSize int
}

// New creates an Indexer from its collaborators
func New(opts Options) *Indexer {
	workers := opts.Settings.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batchSize := opts.Settings.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ignore := make(map[string]struct{}, len(opts.Settings.IgnoreDirs))
	for _, d := range opts.Settings.IgnoreDirs {
		ignore[d] = struct{}{}
	}

	return &Indexer{
		parser:      opts.Parser,
		chunker:     opts.Chunker,
		storage:     opts.Storage,
		text:        opts.Text,
		vectors:     opts.Vectors,
		embedder:    opts.Embedder,
		arena:       opts.Arena,
		workers:     workers,
		batchSize:   batchSize,
		embedBatch:  opts.EmbedBatchSize,
		ignoreDirs:  ignore,
		includeDocs: opts.Settings.IncludeDocs,
		logger:      slog.Default(),
	}
}

// fileTask is one discovered file
type fileTask struct {
	path    string // absolute
	relPath string
	info    fs.FileInfo
}

// fileData is a read file with its content fingerprint
type fileData struct {
	task     fileTask
	src      []byte
	hash     [32]byte
	existing *storage.File // previous index record, nil for new files
}

// parsedFile is the parse stage's output for one file
type parsedFile struct {
	data   fileData
	result *types.ParseResult
	chunks []*types.DocumentChunk
}

// symbolBatch is the unit handed to the two terminal consumers
type symbolBatch struct {
	symbols []types.Symbol
	chunks  []*types.DocumentChunk
}

// Run executes one pipeline run over root. force bypasses fingerprint
// comparison and reprocesses every discovered file. Individual file errors
// are collected into the report; only an empty discover set or a fatal
// storage error aborts the run.
func (idx *Indexer) Run(ctx context.Context, root string, force bool) (*RunReport, error) {
	boundary, err := security.NewBoundary(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	absRoot := boundary.Root()

	rc := newRunContext(boundary, force)
	idx.logger.Info("pipeline run starting", "run_id", rc.runID, "root", absRoot, "force", force)

	sched := embedder.NewScheduler(idx.embedder, idx.vectors, idx.embedBatch, idx.workers)
	defer sched.Close()

	// Worker shares: parse gets the largest, read the remainder. Collect
	// is single-threaded by design; it owns the batch state unsynchronized.
	readWorkers := idx.workers / 3
	if readWorkers < 1 {
		readWorkers = 1
	}
	parseWorkers := idx.workers - readWorkers
	if parseWorkers < 1 {
		parseWorkers = 1
	}

	tasks := make(chan fileTask, idx.workers*2)
	read := make(chan fileData, idx.workers*2)
	parsed := make(chan parsedFile, idx.workers*2)
	batches := make(chan symbolBatch, 2)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(tasks)
		return idx.discover(gctx, rc, absRoot, tasks)
	})

	var readGroup errgroup.Group
	for i := 0; i < readWorkers; i++ {
		readGroup.Go(func() error {
			return idx.readStage(gctx, rc, tasks, read)
		})
	}
	g.Go(func() error {
		defer close(read)
		return readGroup.Wait()
	})

	var parseGroup errgroup.Group
	for i := 0; i < parseWorkers; i++ {
		parseGroup.Go(func() error {
			return idx.parseStage(gctx, rc, read, parsed)
		})
	}
	g.Go(func() error {
		defer close(parsed)
		return parseGroup.Wait()
	})

	g.Go(func() error {
		defer close(batches)
		return idx.collectStage(gctx, rc, sched, parsed, batches)
	})

	// Terminal text-index consumer; the embedding consumer is the
	// scheduler's worker pool. The run completes only when both drain.
	g.Go(func() error {
		return idx.indexStage(gctx, batches)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if rc.discovered.Load() == 0 {
		return nil, ErrNoFiles
	}

	if err := sched.Drain(ctx); err != nil {
		return nil, fmt.Errorf("embedding drain failed: %w", err)
	}

	stats := sched.Stats()
	if stats.Embedded > 0 {
		if err := idx.vectors.Recluster(); err != nil {
			return nil, fmt.Errorf("vector recluster failed: %w", err)
		}
	}

	report := rc.report()
	report.EmbeddingsFailed = stats.Failed

	idx.logger.Info("pipeline run complete",
		"run_id", rc.runID,
		"indexed", report.FilesIndexed,
		"skipped", report.FilesSkipped,
		"failed", report.FilesFailed,
		"symbols", report.Symbols,
		"chunks", report.Chunks,
		"duration", report.Duration)

	return report, nil
}

// discover walks the tree streaming indexable files into out, so a large
// tree never piles up ahead of the read stage. Ignored and hidden
// directories are pruned and symlinks are never followed.
func (idx *Indexer) discover(ctx context.Context, rc *runContext, root string, out chan<- fileTask) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		if d.IsDir() {
			if path != root {
				if strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				if _, ignored := idx.ignoreDirs[name]; ignored {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil // a link target may sit outside the workspace
		}

		lang := types.DetectLanguage(path)
		switch {
		case lang == types.LangMarkdown:
			if !idx.includeDocs {
				return nil
			}
		case idx.parser.Supports(path):
		default:
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil // deleted between walk and stat
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		rc.discovered.Add(1)
		select {
		case out <- fileTask{path: path, relPath: relPath, info: info}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	return nil
}

// readStage loads file bytes and applies the incremental fingerprint check:
// a matching mtime+size skips without reading; otherwise bytes are read and
// hashed, and a matching hash still skips. Transient read errors are
// retried with doubling delays before the file is reported failed.
func (idx *Indexer) readStage(ctx context.Context, rc *runContext, in <-chan fileTask, out chan<- fileData) error {
	for {
		var task fileTask
		var ok bool
		select {
		case task, ok = <-in:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		existing, err := idx.storage.GetFile(ctx, task.relPath)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("fingerprint lookup for %s: %w", task.relPath, err)
		}
		if errors.Is(err, storage.ErrNotFound) {
			existing = nil
		}

		if !rc.force && existing != nil &&
			existing.ModTime.Equal(task.info.ModTime()) &&
			existing.SizeBytes == task.info.Size() {
			rc.skipped.Add(1)
			continue
		}

		// Re-check the boundary at read time: a directory component may
		// have been swapped for a symlink since the walk classified it.
		resolved, err := rc.boundary.Resolve(task.path)
		if err != nil {
			rc.fail(task.relPath, "read", err)
			continue
		}

		src, err := readFileRetry(ctx, resolved)
		if err != nil {
			rc.fail(task.relPath, "read", err)
			continue
		}
		hash := sha256.Sum256(src)

		if !rc.force && existing != nil && hash == existing.ContentHash {
			// Content unchanged; refresh the stored mtime so the next run
			// takes the fast path.
			existing.ModTime = task.info.ModTime()
			existing.SizeBytes = task.info.Size()
			if err := idx.storage.UpsertFile(ctx, existing); err != nil {
				return fmt.Errorf("fingerprint refresh for %s: %w", task.relPath, err)
			}
			rc.skipped.Add(1)
			continue
		}

		select {
		case out <- fileData{task: task, src: src, hash: hash, existing: existing}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func readFileRetry(ctx context.Context, path string) ([]byte, error) {
	delay := readRetryBase
	var lastErr error
	for attempt := 0; attempt < readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
		src, err := security.ReadFile(path)
		if err == nil {
			return src, nil
		}
		lastErr = err
		if os.IsNotExist(err) || errors.Is(err, security.ErrSymlink) {
			break // retrying won't help
		}
	}
	return nil, lastErr
}

// parseStage extracts symbols from code files and chunks from documents.
// Parser failures and extraction gaps are file-local: the file is reported
// failed or partial, the run continues.
func (idx *Indexer) parseStage(ctx context.Context, rc *runContext, in <-chan fileData, out chan<- parsedFile) error {
	for {
		var data fileData
		var ok bool
		select {
		case data, ok = <-in:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		pf := parsedFile{data: data}
		lang := types.DetectLanguage(data.task.path)

		if lang == types.LangMarkdown {
			collection := collectionOf(data.task.relPath)
			pf.chunks = idx.chunker.ChunkDocument(data.task.relPath, collection, string(data.src))
			pf.result = &types.ParseResult{Language: lang}
		} else {
			result, err := idx.parser.Parse(ctx, data.task.relPath, data.src)
			if err != nil {
				rc.fail(data.task.relPath, "parse", err)
				continue
			}
			for i := range result.Gaps {
				gap := &result.Gaps[i]
				idx.logger.Debug("extraction gap", "file", gap.File, "line", gap.Line, "msg", gap.Message)
			}
			pf.result = result
		}

		select {
		case out <- pf:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// collectionOf derives the chunk collection from the document's top-level
// directory
func collectionOf(relPath string) string {
	dir, _, found := strings.Cut(filepath.ToSlash(relPath), "/")
	if !found {
		return "root"
	}
	return dir
}

// collectStage is the single-threaded heart of the pipeline: it owns all
// mutable batch state, persists each file's results (full replace on
// change, never a partial patch) and forwards fixed-size symbol batches to
// the two terminal consumers.
func (idx *Indexer) collectStage(ctx context.Context, rc *runContext, sched *embedder.Scheduler, in <-chan parsedFile, out chan<- symbolBatch) error {
	batch := symbolBatch{}

	flush := func() error {
		if len(batch.symbols) == 0 && len(batch.chunks) == 0 {
			return nil
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := sched.Submit(ctx, embedTasks(rc.generation, batch)); err != nil {
			return fmt.Errorf("embedding submit failed: %w", err)
		}
		batch = symbolBatch{}
		return nil
	}

	for {
		var pf parsedFile
		var ok bool
		select {
		case pf, ok = <-in:
			if !ok {
				if err := flush(); err != nil {
					return err
				}
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := idx.persistFile(ctx, rc, &pf); err != nil {
			rc.fail(pf.data.task.relPath, "store", err)
			continue
		}

		batch.symbols = append(batch.symbols, pf.result.Symbols...)
		batch.chunks = append(batch.chunks, pf.chunks...)
		if len(batch.symbols)+len(batch.chunks) >= idx.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// persistFile replaces a file's stored artifacts wholesale: previous
// symbols, relationships (via cascade), chunks and vectors are removed
// before the new extraction is inserted. Partial patching risks stale
// relationships and is never attempted.
func (idx *Indexer) persistFile(ctx context.Context, rc *runContext, pf *parsedFile) error {
	relPath := pf.data.task.relPath

	if pf.data.existing != nil {
		oldSymbols, err := idx.storage.SymbolIDsByFile(ctx, pf.data.existing.ID)
		if err != nil {
			return err
		}
		oldChunks, err := idx.storage.ChunkIDsByFile(ctx, pf.data.existing.ID)
		if err != nil {
			return err
		}

		stale := make([]uint64, 0, len(oldSymbols)+len(oldChunks))
		for _, id := range oldSymbols {
			stale = append(stale, uint64(id))
		}
		for _, id := range oldChunks {
			stale = append(stale, uint64(id))
		}
		idx.vectors.Delete(stale)
		idx.arena.RemoveByIDs(oldSymbols)

		if err := idx.text.DeleteFile(relPath); err != nil {
			return err
		}
		if err := idx.storage.DeleteSymbolsByFile(ctx, pf.data.existing.ID); err != nil {
			return err
		}
		if err := idx.storage.DeleteChunksByFile(ctx, pf.data.existing.ID); err != nil {
			return err
		}
	}

	file := &storage.File{
		Path:        relPath,
		ContentHash: pf.data.hash,
		ModTime:     pf.data.task.info.ModTime(),
		SizeBytes:   pf.data.task.info.Size(),
		Language:    pf.result.Language,
	}
	if err := idx.storage.UpsertFile(ctx, file); err != nil {
		return err
	}

	if len(pf.result.Symbols) > 0 {
		if err := idx.storage.InsertSymbols(ctx, file.ID, pf.result.Symbols); err != nil {
			return err
		}
		for i := range pf.result.Symbols {
			idx.arena.Insert(pf.result.Symbols[i])
		}
		rc.symbols.Add(int64(len(pf.result.Symbols)))
	}

	if len(pf.result.Relationships) > 0 {
		rels := idx.resolveRelationships(pf.result)
		if len(rels) > 0 {
			stored, err := idx.storage.InsertRelationships(ctx, rels)
			if err != nil {
				return err
			}
			rc.relations.Add(int64(stored))
		}
	}

	if len(pf.chunks) > 0 {
		if err := idx.storage.InsertChunks(ctx, file.ID, pf.chunks); err != nil {
			return err
		}
		rc.chunks.Add(int64(len(pf.chunks)))
	}

	rc.indexed.Add(1)
	return nil
}

// resolveRelationships maps name-based references from the parser to
// symbol identifiers. Origins resolve within the file; targets resolve
// within the file first, then globally through the arena (lowest ID wins
// for ambiguous names). Unresolvable references are dropped.
func (idx *Indexer) resolveRelationships(result *types.ParseResult) []types.Relationship {
	local := make(map[string]types.SymbolID, len(result.Symbols))
	for i := range result.Symbols {
		sym := &result.Symbols[i]
		if _, seen := local[sym.Name]; !seen {
			local[sym.Name] = sym.ID
		}
	}

	resolve := func(name string, localOnly bool) (types.SymbolID, bool) {
		if id, ok := local[name]; ok {
			return id, true
		}
		if localOnly {
			return 0, false
		}
		candidates := idx.arena.Lookup(name)
		best := types.SymbolID(0)
		for i := range candidates {
			if best == 0 || candidates[i].ID < best {
				best = candidates[i].ID
			}
		}
		return best, best != 0
	}

	var rels []types.Relationship
	for i := range result.Relationships {
		ref := &result.Relationships[i]
		fromID, ok := resolve(ref.FromName, true)
		if !ok {
			continue
		}
		toID, ok := resolve(ref.ToName, false)
		if !ok || toID == fromID {
			continue
		}
		rels = append(rels, types.Relationship{
			FromID:   fromID,
			ToID:     toID,
			Kind:     ref.Kind,
			FilePath: ref.FilePath,
			Line:     ref.Line,
		})
	}
	return rels
}

// indexStage is the text-index terminal consumer: one commit per batch,
// never per symbol, to bound write amplification
func (idx *Indexer) indexStage(ctx context.Context, in <-chan symbolBatch) error {
	for {
		var batch symbolBatch
		var ok bool
		select {
		case batch, ok = <-in:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		if len(batch.symbols) > 0 {
			if err := idx.text.Insert(batch.symbols); err != nil {
				return err
			}
		}
		if len(batch.chunks) > 0 {
			if err := idx.text.InsertChunks(batch.chunks); err != nil {
				return err
			}
		}
		if err := idx.text.Commit(); err != nil {
			return err
		}
	}
}

// embedTasks converts a batch into embedding scheduler tasks. Symbols embed
// their signature and doc text; chunks embed their text.
func embedTasks(generation int64, batch symbolBatch) []embedder.Task {
	tasks := make([]embedder.Task, 0, len(batch.symbols)+len(batch.chunks))
	for i := range batch.symbols {
		sym := &batch.symbols[i]
		text := sym.Signature
		if text == "" {
			text = sym.Name
		}
		if sym.Doc != "" {
			text += "\n" + sym.Doc
		}
		tasks = append(tasks, embedder.Task{
			ID:         uint64(sym.ID),
			Text:       text,
			Language:   sym.Language,
			Generation: generation,
		})
	}
	for _, chunk := range batch.chunks {
		tasks = append(tasks, embedder.Task{
			ID:         uint64(chunk.ID),
			Text:       chunk.Text,
			Language:   types.LangMarkdown,
			Generation: generation,
		})
	}
	return tasks
}

// RemoveFile removes a deleted file's artifacts from every index. Used by
// the watcher when a tracked file disappears.
func (idx *Indexer) RemoveFile(ctx context.Context, relPath string) error {
	existing, err := idx.storage.GetFile(ctx, relPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	oldSymbols, err := idx.storage.SymbolIDsByFile(ctx, existing.ID)
	if err != nil {
		return err
	}
	oldChunks, err := idx.storage.ChunkIDsByFile(ctx, existing.ID)
	if err != nil {
		return err
	}

	stale := make([]uint64, 0, len(oldSymbols)+len(oldChunks))
	for _, id := range oldSymbols {
		stale = append(stale, uint64(id))
	}
	for _, id := range oldChunks {
		stale = append(stale, uint64(id))
	}
	idx.vectors.Delete(stale)
	idx.arena.RemoveByIDs(oldSymbols)

	if err := idx.text.DeleteFile(relPath); err != nil {
		return err
	}
	if err := idx.text.Commit(); err != nil {
		return err
	}
	return idx.storage.DeleteFile(ctx, relPath)
}
