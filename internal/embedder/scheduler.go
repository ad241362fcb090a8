package embedder

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/dshills/codegraph-mcp/internal/vector"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// DefaultSchedulerBatchSize amortizes the provider's fixed per-call overhead
const DefaultSchedulerBatchSize = 64

// Task is one pending embedding request
type Task struct {
	ID         uint64
	Text       string
	Language   types.Language
	Generation int64
}

// Sink receives completed batches as single atomic inserts. Satisfied by
// *vector.Store.
type Sink interface {
	Insert(entries []vector.Entry) error
}

// SchedulerStats summarizes scheduler activity since creation
type SchedulerStats struct {
	Submitted int
	Embedded  int
	Failed    int
	FailedIDs []uint64
}

// Scheduler groups pending texts into fixed-size batches and drives the
// embedding provider across a fixed-size worker pool.
//
// Guarantees at most one embedding task per (id, generation): resubmitting
// an ID before its prior task completes supersedes the pending text rather
// than duplicating work, and a completed batch only publishes entries whose
// generation is still current. A failed batch is retried once, then its
// entries are reported failed without blocking other batches.
type Scheduler struct {
	embedder Embedder
	sink     Sink

	batchSize int
	workers   int

	mu       sync.Mutex
	queue    []Task
	queued   map[uint64]int   // id -> index in queue
	latest   map[uint64]int64 // id -> most recent generation
	stats    SchedulerStats
	closed   bool

	batches  chan []Task
	pending  sync.WaitGroup // open batches, counted before send
	workerWG sync.WaitGroup

	logger *slog.Logger
}

// NewScheduler creates a scheduler feeding sink. workers <= 0 selects CPU
// parallelism; batchSize <= 0 selects the default of 64.
func NewScheduler(emb Embedder, sink Sink, batchSize, workers int) *Scheduler {
	if batchSize <= 0 {
		batchSize = DefaultSchedulerBatchSize
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	s := &Scheduler{
		embedder:  emb,
		sink:      sink,
		batchSize: batchSize,
		workers:   workers,
		queued:    make(map[uint64]int),
		latest:    make(map[uint64]int64),
		batches:   make(chan []Task, workers),
		logger:    slog.Default(),
	}

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}

	return s
}

// Submit enqueues entries for embedding. Full batches are dispatched
// immediately; the send blocks when all workers are busy, which is the
// backpressure that throttles the producing pipeline.
func (s *Scheduler) Submit(ctx context.Context, tasks []Task) error {
	var ready [][]Task

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	for _, t := range tasks {
		if gen, ok := s.latest[t.ID]; ok {
			if gen > t.Generation {
				continue // stale resubmission
			}
			if gen == t.Generation {
				// Same generation seen before: refresh the queued copy
				// if it hasn't dispatched yet; if it has, the earlier
				// task already covers this entry.
				if idx, qok := s.queued[t.ID]; qok {
					s.queue[idx] = t
				}
				continue
			}
		}
		s.latest[t.ID] = t.Generation
		s.stats.Submitted++

		if idx, ok := s.queued[t.ID]; ok {
			// Supersede the pending task in place
			s.queue[idx] = t
			continue
		}
		s.queued[t.ID] = len(s.queue)
		s.queue = append(s.queue, t)

		if len(s.queue) >= s.batchSize {
			ready = append(ready, s.cutBatchLocked())
		}
	}
	s.mu.Unlock()

	for _, batch := range ready {
		s.pending.Add(1)
		select {
		case s.batches <- batch:
		case <-ctx.Done():
			s.pending.Done()
			return ctx.Err()
		}
	}
	return nil
}

// cutBatchLocked removes up to batchSize tasks from the head of the queue
func (s *Scheduler) cutBatchLocked() []Task {
	n := s.batchSize
	if n > len(s.queue) {
		n = len(s.queue)
	}
	batch := make([]Task, n)
	copy(batch, s.queue[:n])
	s.queue = append(s.queue[:0], s.queue[n:]...)
	for id, idx := range s.queued {
		if idx < n {
			delete(s.queued, id)
		} else {
			s.queued[id] = idx - n
		}
	}
	return batch
}

// Drain dispatches any partial batch and blocks until every dispatched
// batch has completed. The run is drained when Drain returns.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	var partial []Task
	if len(s.queue) > 0 {
		partial = s.cutBatchLocked()
	}
	s.mu.Unlock()

	if len(partial) > 0 {
		s.pending.Add(1)
		select {
		case s.batches <- partial:
		case <-ctx.Done():
			s.pending.Done()
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the worker pool. Pending queue contents are discarded;
// call Drain first for a clean finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.batches)
	s.workerWG.Wait()
}

// Stats returns a snapshot of scheduler counters
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.FailedIDs = append([]uint64(nil), s.stats.FailedIDs...)
	return out
}

func (s *Scheduler) worker() {
	defer s.workerWG.Done()
	for batch := range s.batches {
		s.process(batch)
		s.pending.Done()
	}
}

// process embeds one batch and hands it to the sink as a single insert
func (s *Scheduler) process(batch []Task) {
	texts := make([]string, len(batch))
	for i, t := range batch {
		texts[i] = t.Text
	}

	ctx := context.Background()
	resp, err := s.embedder.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		// One retry, then the batch's entries are reported failed
		resp, err = s.embedder.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
	}
	if err != nil {
		s.logger.Warn("embedding batch failed", "size", len(batch), "error", err)
		s.mu.Lock()
		s.stats.Failed += len(batch)
		for _, t := range batch {
			s.stats.FailedIDs = append(s.stats.FailedIDs, t.ID)
		}
		s.mu.Unlock()
		return
	}

	entries := make([]vector.Entry, 0, len(batch))
	s.mu.Lock()
	for i, t := range batch {
		if s.latest[t.ID] != t.Generation {
			continue // superseded while in flight
		}
		entries = append(entries, vector.Entry{
			ID:         t.ID,
			Vector:     resp.Embeddings[i].Vector,
			Language:   t.Language,
			Generation: t.Generation,
		})
	}
	s.mu.Unlock()

	if len(entries) == 0 {
		return
	}
	if err := s.sink.Insert(entries); err != nil {
		s.logger.Warn("vector insert failed", "size", len(entries), "error", err)
		s.mu.Lock()
		s.stats.Failed += len(entries)
		for _, e := range entries {
			s.stats.FailedIDs = append(s.stats.FailedIDs, e.ID)
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.stats.Embedded += len(entries)
	s.mu.Unlock()
}
