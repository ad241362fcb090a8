package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

const (
	// pointerFile names the active segment; updated via temp+rename so the
	// swap is atomic and a crash mid-recluster leaves the old segment live
	pointerFile = "current"

	segmentSuffix = ".seg"
	metaSuffix    = ".meta"
)

var (
	// ErrDimensionMismatch is returned for vectors of the wrong dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Entry is one ownership-transferring write into the store
type Entry struct {
	ID         uint64
	Vector     []float32
	Language   types.Language
	Generation int64
}

// Result is one ranked similarity hit
type Result struct {
	ID    uint64
	Score float64
}

// SearchOptions narrows a similarity search
type SearchOptions struct {
	// Language restricts the candidate set before any similarity math.
	// Filtering never changes the score of a surviving candidate.
	Language types.Language

	// ProbeCount is the number of nearest clusters to examine; 0 selects
	// enough clusters to examine roughly sqrt(total vectors) vectors.
	ProbeCount int
}

// entryMeta is the per-vector metadata kept outside the segment format
type entryMeta struct {
	Language   types.Language `json:"lang,omitempty"`
	Generation int64          `json:"gen"`
}

// Store is a clustered, memory-mapped vector store with nearest-centroid
// (IVFFlat) search.
//
// Inserts append to an in-memory staging area and are O(1); clustering
// happens only in Recluster, which writes a new immutable segment file and
// atomically swaps the active segment pointer. Deletes tombstone vectors
// until the next recluster physically drops them.
type Store struct {
	dir     string
	modelID string
	dim     int
	seed    int64

	active atomic.Pointer[segment]

	mu         sync.RWMutex // guards staging, tombstones, meta
	staging    []Entry      // normalized vectors, newest duplicate wins
	tombstones map[uint64]struct{}
	meta       map[uint64]entryMeta

	// Recluster and Delete are mutually exclusive with each other, not
	// with readers.
	maintMu sync.Mutex

	retired  []*segment // unmapped only at Close, readers may still hold them
	retireMu sync.Mutex

	logger *slog.Logger
}

// Open opens or creates a vector store under dir. A corrupt active segment
// falls back to the most recent valid one; with no valid segment the store
// starts empty and requires a full rebuild.
func Open(dir, modelID string, dim int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vector store dir: %w", err)
	}

	s := &Store{
		dir:        dir,
		modelID:    modelID,
		dim:        dim,
		seed:       defaultSeed,
		tombstones: make(map[uint64]struct{}),
		meta:       make(map[uint64]entryMeta),
		logger:     slog.Default(),
	}

	if err := s.recover(); err != nil {
		return nil, err
	}

	return s, nil
}

// recover loads the active segment named by the pointer file, falling back
// to older valid segments on corruption
func (s *Store) recover() error {
	name, err := os.ReadFile(filepath.Join(s.dir, pointerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // fresh store
		}
		return err
	}

	candidates := []string{string(name)}
	others, _ := filepath.Glob(filepath.Join(s.dir, "*"+segmentSuffix))
	sort.Sort(sort.Reverse(sort.StringSlice(others)))
	for _, o := range others {
		if base := filepath.Base(o); base != candidates[0] {
			candidates = append(candidates, base)
		}
	}

	for i, candidate := range candidates {
		seg, err := openSegment(filepath.Join(s.dir, candidate), s.dim, s.modelID)
		if err != nil {
			if errors.Is(err, ErrCorruptSegment) || os.IsNotExist(err) {
				s.logger.Warn("skipping unusable vector segment", "segment", candidate, "error", err)
				continue
			}
			return err
		}
		if i > 0 {
			s.logger.Warn("active segment unusable, serving previous segment", "segment", candidate)
		}
		if err := s.loadMeta(candidate); err != nil {
			_ = seg.Close()
			s.logger.Warn("segment metadata unreadable, skipping segment", "segment", candidate, "error", err)
			continue
		}
		s.active.Store(seg)
		return nil
	}

	if len(candidates) > 0 {
		s.logger.Warn("no valid vector segment found, store starts empty and needs a full rebuild")
	}
	return nil
}

// Count returns the number of live vectors (staged plus stored, minus
// tombstones and superseded duplicates)
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staged := make(map[uint64]struct{}, len(s.staging))
	for _, e := range s.staging {
		staged[e.ID] = struct{}{}
	}

	count := len(staged)
	if seg := s.active.Load(); seg != nil {
		for i := 0; i < seg.vectorCount; i++ {
			id := seg.vectorID(i)
			if _, dead := s.tombstones[id]; dead {
				continue
			}
			if _, shadowed := staged[id]; shadowed {
				continue
			}
			count++
		}
	}
	return count
}

// Generation returns the generation timestamp recorded for id
func (s *Store) Generation(id uint64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meta[id]
	return m.Generation, ok
}

// Insert appends entries to the staging area. Vectors are L2-normalized on
// the way in so cosine similarity reduces to a dot product. Re-inserting an
// existing ID supersedes the stored vector; the old one is retired at the
// next recluster.
func (s *Store) Insert(entries []Entry) error {
	for _, e := range entries {
		if len(e.Vector) != s.dim {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e.Vector), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		e.Vector = normalize(vec)
		s.staging = append(s.staging, e)
		s.meta[e.ID] = entryMeta{Language: e.Language, Generation: e.Generation}
		delete(s.tombstones, e.ID)
	}

	return nil
}

// Delete tombstones the given vectors. They disappear from search results
// immediately and are physically removed at the next recluster.
func (s *Store) Delete(ids []uint64) {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		s.tombstones[id] = struct{}{}
		delete(s.meta, id)
	}
	// Drop staged copies so a recluster doesn't resurrect them
	live := s.staging[:0]
	for _, e := range s.staging {
		if _, dead := s.tombstones[e.ID]; !dead {
			live = append(live, e)
		}
	}
	s.staging = live
}

// candidate is an intermediate scoring record
type candidate struct {
	id    uint64
	score float64
}

// Search returns the k most similar live vectors to query, ranked by
// descending cosine similarity with ties broken by ascending ID. A store
// with zero segments and empty staging returns an empty result set.
func (s *Store) Search(query []float32, k int, opts SearchOptions) ([]Result, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), s.dim)
	}
	if k <= 0 {
		return []Result{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalize(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Staged entries shadow their segment copies, so staged candidates
	// always win the per-ID merge below.
	best := make(map[uint64]candidate)

	if seg := s.active.Load(); seg != nil {
		probes := opts.ProbeCount
		if probes <= 0 {
			probes = autoProbeCount(len(seg.clusters), seg.vectorCount)
		}
		for _, ci := range nearestClusters(q, seg.clusters, probes) {
			c := seg.clusters[ci]
			for i := int(c.memberStart); i < int(c.memberEnd); i++ {
				id := seg.vectorID(i)
				if _, dead := s.tombstones[id]; dead {
					continue
				}
				// Language filtering narrows the candidate set before any
				// similarity math; it never alters a surviving score.
				if opts.Language != "" && s.meta[id].Language != opts.Language {
					continue
				}
				if _, shadowed := best[id]; shadowed {
					continue
				}
				best[id] = candidate{id: id, score: float64(seg.dotAt(i, q))}
			}
		}
	}

	for _, e := range s.staging {
		if opts.Language != "" && e.Language != opts.Language {
			continue
		}
		// Staged duplicates supersede segment copies and earlier stages
		best[e.ID] = candidate{id: e.ID, score: float64(dot(e.Vector, q))}
	}

	ranked := make([]candidate, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	results := make([]Result, len(ranked))
	for i, c := range ranked {
		results[i] = Result{ID: c.id, Score: c.score}
	}
	return results, nil
}

// autoProbeCount selects enough clusters to examine roughly sqrt(n) vectors
func autoProbeCount(clusterCount, n int) int {
	if clusterCount == 0 || n == 0 {
		return 1
	}
	perCluster := float64(n) / float64(clusterCount)
	probes := int(math.Ceil(math.Sqrt(float64(n)) / perCluster))
	if probes < 1 {
		probes = 1
	}
	if probes > clusterCount {
		probes = clusterCount
	}
	return probes
}

// nearestClusters returns the indices of the probe nearest centroids to q
func nearestClusters(q []float32, clusters []clusterMeta, probe int) []int {
	if probe > len(clusters) {
		probe = len(clusters)
	}
	type scored struct {
		idx   int
		score float32
	}
	all := make([]scored, len(clusters))
	for i, c := range clusters {
		all[i] = scored{idx: i, score: dot(q, c.centroid)}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	picked := make([]int, probe)
	for i := 0; i < probe; i++ {
		picked[i] = all[i].idx
	}
	return picked
}

// Recluster runs k-means over all live vectors, writes a new immutable
// segment, and atomically swaps the active segment pointer. The previous
// segment stays valid and readable until the swap completes, so a crash
// mid-recluster never corrupts the queryable store.
func (s *Store) Recluster() error {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	ids, vectors, metas := s.snapshotLive()
	if len(ids) == 0 {
		return nil
	}

	k := int(math.Round(math.Sqrt(float64(len(ids)))))
	centroids, assign := kmeans(vectors, k, s.seed)

	// Group vectors by cluster so member ranges are contiguous. Within a
	// cluster, order by ID for byte-stable output.
	byCluster := make([][]int, len(centroids))
	for i, c := range assign {
		byCluster[c] = append(byCluster[c], i)
	}

	clusters := make([]clusterMeta, len(centroids))
	entries := make([]segmentEntry, 0, len(ids))
	for c, members := range byCluster {
		sort.Slice(members, func(a, b int) bool { return ids[members[a]] < ids[members[b]] })
		start := uint32(len(entries))
		for _, m := range members {
			entries = append(entries, segmentEntry{id: ids[m], vec: vectors[m]})
		}
		clusters[c] = clusterMeta{centroid: centroids[c], memberStart: start, memberEnd: uint32(len(entries))}
	}

	created := time.Now()
	name := fmt.Sprintf("segment-%020d%s", created.UnixNano(), segmentSuffix)
	path := filepath.Join(s.dir, name)

	if err := writeSegment(path, s.modelID, s.dim, uint64(created.Unix()), clusters, entries); err != nil {
		return fmt.Errorf("failed to write segment: %w", err)
	}
	if err := s.writeMeta(name, ids, metas); err != nil {
		return fmt.Errorf("failed to write segment metadata: %w", err)
	}

	seg, err := openSegment(path, s.dim, s.modelID)
	if err != nil {
		return fmt.Errorf("failed to reopen new segment: %w", err)
	}

	// Single designated writer: the pointer file rename plus this pointer
	// store are the only mutation concurrent readers can observe.
	if err := s.writePointer(name); err != nil {
		_ = seg.Close()
		return err
	}
	old := s.active.Swap(seg)
	if old != nil {
		s.retireMu.Lock()
		s.retired = append(s.retired, old)
		s.retireMu.Unlock()
	}

	s.mu.Lock()
	s.staging = nil
	s.tombstones = make(map[uint64]struct{})
	s.mu.Unlock()

	s.pruneSegments(name, old)

	s.logger.Info("recluster complete", "vectors", len(entries), "clusters", len(clusters), "segment", name)
	return nil
}

// snapshotLive gathers all live vectors in ascending ID order
func (s *Store) snapshotLive() ([]uint64, [][]float32, []entryMeta) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[uint64]Entry)
	if seg := s.active.Load(); seg != nil {
		for i := 0; i < seg.vectorCount; i++ {
			id := seg.vectorID(i)
			if _, dead := s.tombstones[id]; dead {
				continue
			}
			m := s.meta[id]
			byID[id] = Entry{ID: id, Vector: seg.vectorAt(i), Language: m.Language, Generation: m.Generation}
		}
	}
	for _, e := range s.staging {
		byID[e.ID] = e // staged copy supersedes the stored one
	}

	ids := make([]uint64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	vectors := make([][]float32, len(ids))
	metas := make([]entryMeta, len(ids))
	for i, id := range ids {
		e := byID[id]
		vectors[i] = e.Vector
		metas[i] = entryMeta{Language: e.Language, Generation: e.Generation}
	}
	return ids, vectors, metas
}

// writeMeta persists per-vector metadata in a sidecar next to the segment.
// Language tags and generations are not part of the segment layout itself.
func (s *Store) writeMeta(segmentName string, ids []uint64, metas []entryMeta) error {
	m := make(map[string]entryMeta, len(ids))
	for i, id := range ids {
		m[strconv.FormatUint(id, 10)] = metas[i]
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, segmentName+metaSuffix)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) loadMeta(segmentName string) error {
	data, err := os.ReadFile(filepath.Join(s.dir, segmentName+metaSuffix))
	if err != nil {
		return err
	}
	var m map[string]entryMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for key, em := range m {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return fmt.Errorf("bad metadata key %q: %w", key, err)
		}
		s.meta[id] = em
	}
	return nil
}

// writePointer atomically repoints the store at segmentName
func (s *Store) writePointer(segmentName string) error {
	path := filepath.Join(s.dir, pointerFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(segmentName), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return syncDir(s.dir)
}

// pruneSegments removes segment files other than the active one and its
// immediate predecessor, which is kept as the corruption fallback
func (s *Store) pruneSegments(activeName string, previous *segment) {
	keep := map[string]struct{}{activeName: {}}
	if previous != nil {
		keep[filepath.Base(previous.path)] = struct{}{}
	}
	matches, _ := filepath.Glob(filepath.Join(s.dir, "*"+segmentSuffix))
	for _, m := range matches {
		base := filepath.Base(m)
		if _, ok := keep[base]; ok {
			continue
		}
		_ = os.Remove(m)
		_ = os.Remove(m + metaSuffix)
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

// Close unmaps all segments. In-flight readers must have returned.
func (s *Store) Close() error {
	var firstErr error
	if seg := s.active.Swap(nil); seg != nil {
		firstErr = seg.Close()
	}
	s.retireMu.Lock()
	for _, seg := range s.retired {
		if err := seg.Close(); firstErr == nil {
			firstErr = err
		}
	}
	s.retired = nil
	s.retireMu.Unlock()
	return firstErr
}
