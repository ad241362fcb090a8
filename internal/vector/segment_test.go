package vector

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestSegment(t *testing.T, dir string) string {
	t.Helper()

	clusters := []clusterMeta{
		{centroid: normalize([]float32{1, 0, 0, 0}), memberStart: 0, memberEnd: 2},
		{centroid: normalize([]float32{0, 0, 1, 0}), memberStart: 2, memberEnd: 3},
	}
	entries := []segmentEntry{
		{id: 10, vec: normalize([]float32{1, 0, 0, 0})},
		{id: 20, vec: normalize([]float32{1, 0.1, 0, 0})},
		{id: 30, vec: normalize([]float32{0, 0, 1, 0})},
	}

	path := filepath.Join(dir, "segment-0001.seg")
	require.NoError(t, writeSegment(path, "test-model", 4, 1700000000, clusters, entries))
	return path
}

func TestSegmentRoundtrip(t *testing.T) {
	path := writeTestSegment(t, t.TempDir())

	seg, err := openSegment(path, 4, "test-model")
	require.NoError(t, err)
	defer func() { _ = seg.Close() }()

	assert.Equal(t, 4, seg.dim)
	assert.Equal(t, 3, seg.vectorCount)
	assert.Equal(t, "test-model", seg.modelID)
	assert.Equal(t, uint64(1700000000), seg.createdUnix)
	require.Len(t, seg.clusters, 2)
	assert.Equal(t, uint32(0), seg.clusters[0].memberStart)
	assert.Equal(t, uint32(2), seg.clusters[0].memberEnd)

	assert.Equal(t, uint64(10), seg.vectorID(0))
	assert.Equal(t, uint64(30), seg.vectorID(2))

	v := seg.vectorAt(0)
	assert.InDelta(t, 1.0, float64(v[0]), 1e-6)

	// dotAt against the stored vector itself is the squared norm, 1
	assert.InDelta(t, 1.0, float64(seg.dotAt(2, seg.vectorAt(2))), 1e-6)
}

func TestSegmentByteStableOutput(t *testing.T) {
	dir := t.TempDir()
	a := writeTestSegment(t, dir)

	dirB := t.TempDir()
	b := writeTestSegment(t, dirB)

	dataA, err := os.ReadFile(a)
	require.NoError(t, err)
	dataB, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, dataA, dataB)
}

func TestOpenSegmentRejectsBadMagic(t *testing.T) {
	path := writeTestSegment(t, t.TempDir())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[0:], 0xDEADBEEF)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = openSegment(path, 4, "test-model")
	assert.ErrorIs(t, err, ErrCorruptSegment)
}

func TestOpenSegmentRejectsTruncation(t *testing.T) {
	path := writeTestSegment(t, t.TempDir())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-4))

	_, err = openSegment(path, 4, "test-model")
	assert.ErrorIs(t, err, ErrCorruptSegment)
}

func TestOpenSegmentRejectsWrongDimension(t *testing.T) {
	path := writeTestSegment(t, t.TempDir())

	_, err := openSegment(path, 8, "test-model")
	assert.ErrorIs(t, err, ErrCorruptSegment)
}

func TestOpenSegmentRejectsWrongModel(t *testing.T) {
	path := writeTestSegment(t, t.TempDir())

	_, err := openSegment(path, 4, "other-model")
	assert.ErrorIs(t, err, ErrCorruptSegment)
}

func TestOpenSegmentRejectsBadMemberRange(t *testing.T) {
	dir := t.TempDir()
	clusters := []clusterMeta{
		{centroid: normalize([]float32{1, 0, 0, 0}), memberStart: 0, memberEnd: 9},
	}
	entries := []segmentEntry{
		{id: 1, vec: normalize([]float32{1, 0, 0, 0})},
	}
	path := filepath.Join(dir, "bad.seg")
	require.NoError(t, writeSegment(path, "test-model", 4, 0, clusters, entries))

	_, err := openSegment(path, 4, "test-model")
	assert.ErrorIs(t, err, ErrCorruptSegment)
}
