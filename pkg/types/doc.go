// Package types provides shared type definitions for the CodeGraph MCP server.
//
// This package defines domain types used across multiple components of
// CodeGraph, including symbols, relationships, document chunks, parse results,
// and search results.
//
// # Core Types
//
// Symbol represents a named code entity extracted from source text:
//
//	symbol := &types.Symbol{
//	    Name:      "ParseFile",
//	    Kind:      types.KindFunction,
//	    FilePath:  "internal/parser/parser.go",
//	    Signature: "func ParseFile(path string) (*ParseResult, error)",
//	    Language:  types.LangGo,
//	}
//
// Relationship is a directed edge between two symbol identifiers:
//
//	rel := &types.Relationship{
//	    FromID: caller.ID,
//	    ToID:   callee.ID,
//	    Kind:   types.RelCalls,
//	}
//
// DocumentChunk represents a contiguous span of a prose document prepared
// for embedding:
//
//	chunk := &types.DocumentChunk{
//	    DocPath:     "docs/guide.md",
//	    Collection:  "docs",
//	    HeadingPath: []string{"Guide", "Install"},
//	    Text:        paragraph,
//	}
//
// # Identifier Discipline
//
// SymbolID values are unique within an index generation and are never reused
// while any stored relationship references them. Deleting a symbol cascades
// to relationships referencing it; re-indexing a file replaces all of its
// symbols wholesale rather than patching individual ones.
//
// # Validation
//
// All domain types implement validation methods to ensure data integrity:
//
//	if err := symbol.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package types
