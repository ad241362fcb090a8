package vector

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

const testDim = 8

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, "test-model", testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// basisVector returns a unit vector along axis i
func basisVector(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis] = 1
	return v
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func TestInsertAndSearch(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	entries := []Entry{
		{ID: 1, Vector: basisVector(0), Language: types.LangGo, Generation: 10},
		{ID: 2, Vector: basisVector(1), Language: types.LangGo, Generation: 10},
		{ID: 3, Vector: basisVector(2), Language: types.LangPython, Generation: 10},
	}
	require.NoError(t, s.Insert(entries))
	assert.Equal(t, 3, s.Count())

	results, err := s.Search(basisVector(1), 2, SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(2), results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestInsertDimensionMismatch(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	err := s.Insert([]Entry{{ID: 1, Vector: make([]float32, testDim+1)}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.Search(make([]float32, testDim-1), 5, SearchOptions{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestInsertNormalizes(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	long := make([]float32, testDim)
	long[0] = 25 // length 25, normalizes to the axis unit vector
	require.NoError(t, s.Insert([]Entry{{ID: 1, Vector: long}}))

	results, err := s.Search(basisVector(0), 1, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestSearchTiesBreakAscendingID(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	// Identical vectors under different IDs produce identical scores.
	same := basisVector(3)
	require.NoError(t, s.Insert([]Entry{
		{ID: 9, Vector: same},
		{ID: 2, Vector: same},
		{ID: 5, Vector: same},
	}))

	results, err := s.Search(same, 3, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, uint64(2), results[0].ID)
	assert.Equal(t, uint64(5), results[1].ID)
	assert.Equal(t, uint64(9), results[2].ID)
}

func TestLanguageFilterNeverChangesScores(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	rng := rand.New(rand.NewSource(7))
	var entries []Entry
	for i := 1; i <= 40; i++ {
		lang := types.LangGo
		if i%2 == 0 {
			lang = types.LangPython
		}
		entries = append(entries, Entry{ID: uint64(i), Vector: randomVector(rng, testDim), Language: lang})
	}
	require.NoError(t, s.Insert(entries))

	query := randomVector(rng, testDim)

	unfiltered, err := s.Search(query, 40, SearchOptions{})
	require.NoError(t, err)
	scoreByID := make(map[uint64]float64, len(unfiltered))
	for _, r := range unfiltered {
		scoreByID[r.ID] = r.Score
	}

	filtered, err := s.Search(query, 40, SearchOptions{Language: types.LangGo})
	require.NoError(t, err)
	require.NotEmpty(t, filtered)

	// Filtering narrows the candidate set; surviving scores are
	// bit-identical to the unfiltered run.
	for _, r := range filtered {
		assert.Equal(t, uint64(1), r.ID%2, "non-go entry survived the filter")
		assert.Equal(t, scoreByID[r.ID], r.Score)
	}
}

func TestDeleteTombstones(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.Insert([]Entry{
		{ID: 1, Vector: basisVector(0)},
		{ID: 2, Vector: basisVector(1)},
	}))

	s.Delete([]uint64{1})
	assert.Equal(t, 1, s.Count())

	results, err := s.Search(basisVector(0), 5, SearchOptions{})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint64(1), r.ID)
	}

	// Re-inserting a deleted ID revives it
	require.NoError(t, s.Insert([]Entry{{ID: 1, Vector: basisVector(0)}}))
	assert.Equal(t, 2, s.Count())
}

func TestDeleteSurvivesRecluster(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.Insert([]Entry{
		{ID: 1, Vector: basisVector(0)},
		{ID: 2, Vector: basisVector(1)},
		{ID: 3, Vector: basisVector(2)},
	}))
	require.NoError(t, s.Recluster())

	s.Delete([]uint64{2})
	require.NoError(t, s.Recluster())
	assert.Equal(t, 2, s.Count())

	results, err := s.Search(basisVector(1), 5, SearchOptions{})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint64(2), r.ID)
	}
}

func TestReinsertSupersedesStored(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.Insert([]Entry{{ID: 1, Vector: basisVector(0), Generation: 1}}))
	require.NoError(t, s.Recluster())

	// Regenerate the embedding under a new generation; the staged copy
	// shadows the segment copy.
	require.NoError(t, s.Insert([]Entry{{ID: 1, Vector: basisVector(4), Generation: 2}}))
	assert.Equal(t, 1, s.Count())

	results, err := s.Search(basisVector(4), 1, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	gen, ok := s.Generation(1)
	require.True(t, ok)
	assert.Equal(t, int64(2), gen)
}

func TestReclusterPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	rng := rand.New(rand.NewSource(11))
	var entries []Entry
	for i := 1; i <= 30; i++ {
		entries = append(entries, Entry{ID: uint64(i), Vector: randomVector(rng, testDim), Language: types.LangGo, Generation: 5})
	}
	require.NoError(t, s.Insert(entries))
	require.NoError(t, s.Recluster())

	query := randomVector(rng, testDim)
	before, err := s.Search(query, 5, SearchOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openTestStore(t, dir)
	assert.Equal(t, 30, reopened.Count())

	after, err := reopened.Search(query, 5, SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	gen, ok := reopened.Generation(7)
	require.True(t, ok)
	assert.Equal(t, int64(5), gen)
}

func TestCrashBeforePointerSwapServesOldSegment(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	require.NoError(t, s.Insert([]Entry{
		{ID: 1, Vector: basisVector(0)},
		{ID: 2, Vector: basisVector(1)},
	}))
	require.NoError(t, s.Recluster())

	oldPointer, err := os.ReadFile(filepath.Join(dir, pointerFile))
	require.NoError(t, err)

	require.NoError(t, s.Insert([]Entry{{ID: 3, Vector: basisVector(2)}}))
	require.NoError(t, s.Recluster())
	require.NoError(t, s.Close())

	// A crash after the new segment is written but before the pointer
	// rename leaves the pointer at the old segment. Both files exist; the
	// store must serve the old one without corruption.
	require.NoError(t, os.WriteFile(filepath.Join(dir, pointerFile), oldPointer, 0o644))

	reopened := openTestStore(t, dir)
	assert.Equal(t, 2, reopened.Count())
}

func TestCrashAfterPointerSwapServesNewSegment(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	require.NoError(t, s.Insert([]Entry{
		{ID: 1, Vector: basisVector(0)},
		{ID: 2, Vector: basisVector(1)},
	}))
	require.NoError(t, s.Recluster())
	require.NoError(t, s.Insert([]Entry{{ID: 3, Vector: basisVector(2)}}))
	require.NoError(t, s.Recluster())
	require.NoError(t, s.Close())

	reopened := openTestStore(t, dir)
	assert.Equal(t, 3, reopened.Count())
}

func TestCorruptActiveSegmentFallsBackToPrevious(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	require.NoError(t, s.Insert([]Entry{
		{ID: 1, Vector: basisVector(0)},
		{ID: 2, Vector: basisVector(1)},
	}))
	require.NoError(t, s.Recluster())
	require.NoError(t, s.Insert([]Entry{{ID: 3, Vector: basisVector(2)}}))
	require.NoError(t, s.Recluster())
	require.NoError(t, s.Close())

	// Truncate the active segment to simulate torn bytes
	active, err := os.ReadFile(filepath.Join(dir, pointerFile))
	require.NoError(t, err)
	require.NoError(t, os.Truncate(filepath.Join(dir, string(active)), headerSize/2))

	reopened := openTestStore(t, dir)
	assert.Equal(t, 2, reopened.Count())
}

func TestEmptyStoreSearch(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	results, err := s.Search(basisVector(0), 10, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, s.Count())

	// Reclustering an empty store is a no-op
	require.NoError(t, s.Recluster())
}

// TestProbeRecallBound checks the IVFFlat approximation quality: probing a
// bounded number of clusters must agree with an exhaustive scan on the
// top-1 result for at least 95% of queries. Seeded, so stable.
func TestProbeRecallBound(t *testing.T) {
	if testing.Short() {
		t.Skip("recall bound test is slow")
	}

	const (
		dim        = 16
		n          = 10000
		numQueries = 1000
		probes     = 8
	)

	s, err := Open(t.TempDir(), "test-model", dim)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	rng := rand.New(rand.NewSource(42))

	// ~100 natural clusters via perturbed centers
	centers := make([][]float32, 100)
	for i := range centers {
		centers[i] = randomVector(rng, dim)
	}
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		c := centers[i%len(centers)]
		v := make([]float32, dim)
		for j := range v {
			v[j] = c[j] + float32(rng.NormFloat64())*0.1
		}
		entries[i] = Entry{ID: uint64(i + 1), Vector: v}
	}
	require.NoError(t, s.Insert(entries))
	require.NoError(t, s.Recluster())

	seg := s.active.Load()
	require.NotNil(t, seg)
	exhaustive := len(seg.clusters)

	agree := 0
	for q := 0; q < numQueries; q++ {
		query := make([]float32, dim)
		c := centers[rng.Intn(len(centers))]
		for j := range query {
			query[j] = c[j] + float32(rng.NormFloat64())*0.1
		}

		exact, err := s.Search(query, 1, SearchOptions{ProbeCount: exhaustive})
		require.NoError(t, err)
		approx, err := s.Search(query, 1, SearchOptions{ProbeCount: probes})
		require.NoError(t, err)

		require.NotEmpty(t, exact)
		if len(approx) > 0 && approx[0].ID == exact[0].ID {
			agree++
		}
	}

	recall := float64(agree) / float64(numQueries)
	assert.GreaterOrEqual(t, recall, 0.95, "top-1 recall %f below bound", recall)
}
