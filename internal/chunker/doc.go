// Package chunker splits prose documents into embedding-sized chunks.
//
// The paragraph strategy merges adjacent small paragraphs up to the
// configured minimum, never exceeds the maximum, and splits oversized
// paragraphs into overlapping windows. Markdown headings close the current
// chunk and contribute a heading path carried on every chunk as retrieval
// context.
package chunker
