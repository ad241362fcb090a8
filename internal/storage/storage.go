package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// ChunkIDBit marks identifiers that address document chunks rather than
// symbols. Symbols and chunks live in separate tables with independent
// rowids, but the vector store addresses both from one uint64 space; the
// high bit keeps the two ranges disjoint.
const ChunkIDBit = uint64(1) << 63

// IsChunkID reports whether a vector-store identifier addresses a chunk
func IsChunkID(id uint64) bool {
	return id&ChunkIDBit != 0
}

// File is a tracked source file with its content fingerprint
type File struct {
	ID          int64
	Path        string // Relative to the indexed root
	ContentHash [32]byte
	ModTime     time.Time
	SizeBytes   int64
	Language    types.Language
	IndexedAt   time.Time
}

// Storage persists files, symbols, relationships and document chunks.
// Implementations use method-internal transactions; a multi-row insert is
// atomic.
type Storage interface {
	// File operations
	UpsertFile(ctx context.Context, file *File) error
	GetFile(ctx context.Context, path string) (*File, error)
	DeleteFile(ctx context.Context, path string) error
	ListFiles(ctx context.Context) ([]*File, error)

	// Symbol operations. InsertSymbols assigns IDs back into the slice.
	InsertSymbols(ctx context.Context, fileID int64, symbols []types.Symbol) error
	GetSymbol(ctx context.Context, id types.SymbolID) (*types.Symbol, error)
	FindSymbolsByName(ctx context.Context, name string) ([]*types.Symbol, error)
	ListSymbolsByFile(ctx context.Context, fileID int64) ([]*types.Symbol, error)
	SymbolIDsByFile(ctx context.Context, fileID int64) ([]types.SymbolID, error)
	DeleteSymbolsByFile(ctx context.Context, fileID int64) error

	// Relationship operations. Duplicate (from, to, kind, site) rows are
	// silently rejected; InsertRelationships reports how many were stored.
	InsertRelationships(ctx context.Context, rels []types.Relationship) (int, error)
	ListRelationshipsFrom(ctx context.Context, from types.SymbolID, kind types.RelationKind) ([]*types.Relationship, error)
	ListRelationshipsTo(ctx context.Context, to types.SymbolID, kind types.RelationKind) ([]*types.Relationship, error)

	// Chunk operations. InsertChunks assigns IDs back into the slice.
	InsertChunks(ctx context.Context, fileID int64, chunks []*types.DocumentChunk) error
	GetChunk(ctx context.Context, id types.ChunkID) (*types.DocumentChunk, error)
	ChunkIDsByFile(ctx context.Context, fileID int64) ([]types.ChunkID, error)
	DeleteChunksByFile(ctx context.Context, fileID int64) error

	// Database operations
	Close() error
}
