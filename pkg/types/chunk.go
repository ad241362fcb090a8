package types

import (
	"crypto/sha256"
	"errors"
	"strings"
)

// ChunkID is a stable numeric identifier for a document chunk, drawn from the
// same identifier space as symbols so the vector store can address both.
type ChunkID uint64

// DocumentChunk represents a contiguous span of a prose document prepared for
// embedding and search. Chunk char length stays within the configured
// [min, max] bounds except for a document's final chunk, which may be shorter.
// Adjacent chunks split from one oversized paragraph share an overlap region
// so no semantic unit is silently cut.
type DocumentChunk struct {
	// Identification
	ID         ChunkID
	DocPath    string
	Collection string

	// Location
	StartChar int
	EndChar   int

	// Context
	HeadingPath []string

	// Content
	Text        string
	ContentHash [32]byte
}

// ComputeContentHash computes the SHA-256 hash of the chunk text
func (c *DocumentChunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Text))
}

// Heading returns the heading path joined for display ("Guide > Install > Linux")
func (c *DocumentChunk) Heading() string {
	return strings.Join(c.HeadingPath, " > ")
}

// Validate performs comprehensive validation of the chunk
func (c *DocumentChunk) Validate() error {
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}

	if c.DocPath == "" {
		return errors.New("owning document path is required")
	}

	if c.StartChar < 0 || c.EndChar <= c.StartChar {
		return errors.New("invalid char offsets")
	}

	var zeroHash [32]byte
	if c.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}

	return nil
}
