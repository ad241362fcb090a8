package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	mmap "github.com/blevesearch/mmap-go"
)

// Segment file layout, all little-endian, contiguous:
//
//	header {
//	    magic         u32
//	    version       u32
//	    dimension     u32
//	    vector_count  u32
//	    cluster_count u32
//	    created_unix  u64
//	    model_id      [64]byte, zero padded
//	}
//	cluster table { centroid [D]f32, member_start u32, member_end u32 } x cluster_count
//	vector table  { id u64, vector [D]f32 } x vector_count
//
// Vectors are grouped by cluster so each cluster's member range is a
// contiguous slice of the vector table.
const (
	segMagic   = 0x53564743 // "CGVS"
	segVersion = 1

	headerSize  = 5*4 + 8 + 64
	modelIDSize = 64
)

var (
	// ErrCorruptSegment indicates a header mismatch or truncated file
	ErrCorruptSegment = errors.New("corrupt vector segment")
)

// clusterMeta is one decoded cluster table entry
type clusterMeta struct {
	centroid    []float32
	memberStart uint32
	memberEnd   uint32
}

// segment is an immutable, memory-mapped vector segment. Readers fault in
// only the pages they touch; the file is never copied wholesale.
type segment struct {
	path        string
	data        mmap.MMap
	file        *os.File
	dim         int
	vectorCount int
	createdUnix uint64
	modelID     string
	clusters    []clusterMeta
	vectorBase  int // byte offset of the vector table
}

// openSegment maps a segment file and validates its header
func openSegment(path string, wantDim int, wantModelID string) (*segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size() < headerSize {
		_ = f.Close()
		return nil, fmt.Errorf("%w: file %s smaller than header", ErrCorruptSegment, path)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}

	s := &segment{path: path, data: data, file: f}
	if err := s.parseHeader(wantDim, wantModelID); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *segment) parseHeader(wantDim int, wantModelID string) error {
	if binary.LittleEndian.Uint32(s.data[0:]) != segMagic {
		return fmt.Errorf("%w: bad magic in %s", ErrCorruptSegment, s.path)
	}
	if v := binary.LittleEndian.Uint32(s.data[4:]); v != segVersion {
		return fmt.Errorf("%w: unsupported version %d in %s", ErrCorruptSegment, v, s.path)
	}

	s.dim = int(binary.LittleEndian.Uint32(s.data[8:]))
	s.vectorCount = int(binary.LittleEndian.Uint32(s.data[12:]))
	clusterCount := int(binary.LittleEndian.Uint32(s.data[16:]))
	s.createdUnix = binary.LittleEndian.Uint64(s.data[20:])
	s.modelID = trimNul(s.data[28 : 28+modelIDSize])

	if wantDim > 0 && s.dim != wantDim {
		return fmt.Errorf("%w: dimension %d, expected %d", ErrCorruptSegment, s.dim, wantDim)
	}
	if wantModelID != "" && s.modelID != wantModelID {
		return fmt.Errorf("%w: model %q, expected %q", ErrCorruptSegment, s.modelID, wantModelID)
	}

	clusterEntry := s.dim*4 + 8
	vectorEntry := 8 + s.dim*4
	s.vectorBase = headerSize + clusterCount*clusterEntry

	want := int64(s.vectorBase) + int64(s.vectorCount)*int64(vectorEntry)
	if int64(len(s.data)) < want {
		return fmt.Errorf("%w: %s truncated (%d bytes, want %d)", ErrCorruptSegment, s.path, len(s.data), want)
	}

	s.clusters = make([]clusterMeta, clusterCount)
	for i := 0; i < clusterCount; i++ {
		off := headerSize + i*clusterEntry
		centroid := decodeVector(s.data[off:], s.dim)
		memberStart := binary.LittleEndian.Uint32(s.data[off+s.dim*4:])
		memberEnd := binary.LittleEndian.Uint32(s.data[off+s.dim*4+4:])
		if memberStart > memberEnd || int(memberEnd) > s.vectorCount {
			return fmt.Errorf("%w: cluster %d member range [%d,%d) out of bounds", ErrCorruptSegment, i, memberStart, memberEnd)
		}
		s.clusters[i] = clusterMeta{centroid: centroid, memberStart: memberStart, memberEnd: memberEnd}
	}

	return nil
}

// vectorID returns the id of the i-th vector table entry
func (s *segment) vectorID(i int) uint64 {
	off := s.vectorBase + i*(8+s.dim*4)
	return binary.LittleEndian.Uint64(s.data[off:])
}

// dotAt computes the dot product of the query with the i-th stored vector,
// decoding floats straight out of the mapped pages
func (s *segment) dotAt(i int, query []float32) float32 {
	off := s.vectorBase + i*(8+s.dim*4) + 8
	var sum float32
	for j := 0; j < s.dim; j++ {
		bits := binary.LittleEndian.Uint32(s.data[off+j*4:])
		sum += query[j] * math.Float32frombits(bits)
	}
	return sum
}

// vectorAt decodes a full copy of the i-th stored vector
func (s *segment) vectorAt(i int) []float32 {
	off := s.vectorBase + i*(8+s.dim*4) + 8
	return decodeVector(s.data[off:], s.dim)
}

// Close unmaps the segment. The file on disk remains valid.
func (s *segment) Close() error {
	var err error
	if s.data != nil {
		err = s.data.Unmap()
		s.data = nil
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
	}
	return err
}

// segmentEntry is one (id, vector) pair destined for a segment file
type segmentEntry struct {
	id  uint64
	vec []float32
}

// writeSegment writes a complete segment file and fsyncs it before
// returning. Entries must already be grouped to match the cluster member
// ranges.
func writeSegment(path, modelID string, dim int, createdUnix uint64, clusters []clusterMeta, entries []segmentEntry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriterSize(f, 1<<20)

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:], segMagic)
	binary.LittleEndian.PutUint32(header[4:], segVersion)
	binary.LittleEndian.PutUint32(header[8:], uint32(dim))
	binary.LittleEndian.PutUint32(header[12:], uint32(len(entries)))
	binary.LittleEndian.PutUint32(header[16:], uint32(len(clusters)))
	binary.LittleEndian.PutUint64(header[20:], createdUnix)
	copy(header[28:28+modelIDSize], modelID)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	var scratch [8]byte
	for _, c := range clusters {
		if err := writeVector(w, c.centroid); err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(scratch[0:], c.memberStart)
		binary.LittleEndian.PutUint32(scratch[4:], c.memberEnd)
		if _, err := w.Write(scratch[:8]); err != nil {
			return err
		}
	}

	for _, e := range entries {
		binary.LittleEndian.PutUint64(scratch[:], e.id)
		if _, err := w.Write(scratch[:8]); err != nil {
			return err
		}
		if err := writeVector(w, e.vec); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}

	// The segment must be durable before the active pointer can move to it
	if err := f.Sync(); err != nil {
		return err
	}

	return f.Close()
}

func writeVector(w *bufio.Writer, vec []float32) error {
	var buf [4]byte
	for _, v := range vec {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

func decodeVector(data []byte, dim int) []float32 {
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

func trimNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
