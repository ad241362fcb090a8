// Package vector implements a clustered, memory-mapped vector store with
// inverted-file (IVFFlat) similarity search.
//
// Vectors are L2-normalized on insert so cosine similarity reduces to a dot
// product. Inserts land in an in-memory staging area in O(1); Recluster runs
// seeded k-means over all live vectors and writes a new immutable segment
// file, then atomically swaps the active segment pointer. Search probes only
// the nearest few clusters plus the staging area, optionally pre-filtering
// candidates by language tag before any similarity math.
//
// The segment file format is bit-stable and little-endian (see segment.go);
// a crash between writing a new segment and swapping the pointer leaves the
// previous segment serving queries on restart.
package vector
