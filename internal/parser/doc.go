// Package parser provides multi-language symbol extraction for CodeGraph.
//
// A Registry dispatches source files to language parsers keyed by a language
// tag derived from the file extension. Go files are parsed with the standard
// go/ast toolchain; Python and JavaScript files are parsed with tree-sitter
// grammars and a shared capture query.
//
// All parsers implement the same contract: they never panic on malformed
// input and return partial results with recorded extraction gaps, so one
// broken file never aborts an indexing run.
package parser
