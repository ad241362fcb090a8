package parser

import (
	"context"
	"fmt"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// LanguageParser extracts symbols and relationship references from source
// text of one language. Implementations must be resilient to malformed
// input: they never panic and return partial results with recorded
// extraction gaps.
type LanguageParser interface {
	// Language returns the language tag this parser handles
	Language() types.Language

	// Parse extracts symbols and relationship references from src
	Parse(ctx context.Context, path string, src []byte) (*types.ParseResult, error)
}

// Registry dispatches files to language parsers keyed by a language tag.
// Each variant implements the same extraction contract.
type Registry struct {
	parsers map[types.Language]LanguageParser
}

// NewRegistry creates a registry with all built-in language parsers
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[types.Language]LanguageParser)}
	r.Register(newGoParser())
	r.Register(newTreeSitterParser(types.LangPython))
	r.Register(newTreeSitterParser(types.LangJavaScript))
	return r
}

// Register adds a language parser to the registry
func (r *Registry) Register(p LanguageParser) {
	r.parsers[p.Language()] = p
}

// For returns the parser registered for lang
func (r *Registry) For(lang types.Language) (LanguageParser, bool) {
	p, ok := r.parsers[lang]
	return p, ok
}

// Supports reports whether the registry can parse path
func (r *Registry) Supports(path string) bool {
	_, ok := r.parsers[types.DetectLanguage(path)]
	return ok
}

// Parse detects the language of path and dispatches to the matching parser
func (r *Registry) Parse(ctx context.Context, path string, src []byte) (*types.ParseResult, error) {
	lang := types.DetectLanguage(path)
	p, ok := r.parsers[lang]
	if !ok {
		return nil, fmt.Errorf("no parser registered for %q (language %s)", path, lang)
	}
	return p.Parse(ctx, path, src)
}

// visibilityOf derives symbol visibility from its name using the language's
// convention: Go exports on capitalization, Python hides underscore prefixes,
// JavaScript treats everything reachable as public.
func visibilityOf(lang types.Language, name string) types.Visibility {
	if name == "" {
		return types.VisibilityPrivate
	}
	switch lang {
	case types.LangGo:
		if name[0] >= 'A' && name[0] <= 'Z' {
			return types.VisibilityPublic
		}
		return types.VisibilityPrivate
	case types.LangPython:
		if name[0] == '_' {
			return types.VisibilityPrivate
		}
		return types.VisibilityPublic
	default:
		return types.VisibilityPublic
	}
}
