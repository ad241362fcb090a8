package indexer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/codegraph-mcp/internal/security"
)

// FileError records one file that failed during a run. The run itself still
// succeeds; failures are reported, not fatal.
type FileError struct {
	Path  string
	Stage string
	Err   string
}

// RunReport summarizes a completed pipeline run
type RunReport struct {
	RunID     string
	Root      string
	StartedAt time.Time
	Duration  time.Duration

	FilesDiscovered int
	FilesIndexed    int
	FilesSkipped    int
	FilesFailed     int

	Symbols       int
	Relationships int
	Chunks        int

	EmbeddingsFailed int

	Errors []FileError
}

// runContext threads per-run mutable state through the stages: counters,
// the error accumulator and the run's embedding generation. Never global.
type runContext struct {
	runID      string
	root       string
	boundary   *security.Boundary
	startedAt  time.Time
	generation int64
	force      bool

	discovered atomic.Int64
	indexed    atomic.Int64
	skipped    atomic.Int64
	symbols    atomic.Int64
	relations  atomic.Int64
	chunks     atomic.Int64

	mu     sync.Mutex
	errors []FileError
}

func newRunContext(boundary *security.Boundary, force bool) *runContext {
	now := time.Now()
	return &runContext{
		runID:      uuid.NewString(),
		root:       boundary.Root(),
		boundary:   boundary,
		startedAt:  now,
		generation: now.UnixNano(),
		force:      force,
	}
}

// fail records a per-file error without aborting the run
func (rc *runContext) fail(path, stage string, err error) {
	rc.mu.Lock()
	rc.errors = append(rc.errors, FileError{Path: path, Stage: stage, Err: err.Error()})
	rc.mu.Unlock()
}

func (rc *runContext) report() *RunReport {
	rc.mu.Lock()
	errs := make([]FileError, len(rc.errors))
	copy(errs, rc.errors)
	rc.mu.Unlock()

	return &RunReport{
		RunID:           rc.runID,
		Root:            rc.root,
		StartedAt:       rc.startedAt,
		Duration:        time.Since(rc.startedAt),
		FilesDiscovered: int(rc.discovered.Load()),
		FilesIndexed:    int(rc.indexed.Load()),
		FilesSkipped:    int(rc.skipped.Load()),
		FilesFailed:     len(errs),
		Symbols:         int(rc.symbols.Load()),
		Relationships:   int(rc.relations.Load()),
		Chunks:          int(rc.chunks.Load()),
		Errors:          errs,
	}
}
