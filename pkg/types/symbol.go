package types

import "errors"

// SymbolID is a stable numeric identifier for a symbol, unique within an
// index generation. IDs are never reused while any stored relationship
// references them.
type SymbolID uint64

// Language identifies the source language a symbol was extracted from.
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangMarkdown   Language = "markdown"
	LangUnknown    Language = "unknown"
)

// SymbolKind represents the type of language construct a symbol describes
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindStruct    SymbolKind = "struct"
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindTrait     SymbolKind = "trait"
	KindType      SymbolKind = "type"
	KindConst     SymbolKind = "const"
	KindVar       SymbolKind = "var"
	KindField     SymbolKind = "field"
	KindModule    SymbolKind = "module"
)

// Visibility represents the access scope of a symbol
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Span is a half-open byte and line range within a source file, used for
// precise navigation back to the definition.
type Span struct {
	StartByte uint32
	EndByte   uint32
	StartLine int
	EndLine   int
}

// Symbol represents a named code entity extracted from source text
type Symbol struct {
	// Identification
	ID   SymbolID
	Name string
	Kind SymbolKind

	// Location
	FilePath string
	Span     Span

	// Content
	Signature string
	Doc       string

	// Metadata
	Language   Language
	Visibility Visibility
}

// ValidateKind checks if the symbol kind is valid
func (s *Symbol) ValidateKind() error {
	switch s.Kind {
	case KindFunction, KindMethod, KindStruct, KindClass, KindInterface,
		KindTrait, KindType, KindConst, KindVar, KindField, KindModule:
		return nil
	default:
		return errors.New("invalid symbol kind")
	}
}

// IsExported returns true if the symbol is visible outside its defining scope
func (s *Symbol) IsExported() bool {
	return s.Visibility == VisibilityPublic
}

// Validate performs comprehensive validation of the symbol
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return errors.New("symbol name is required")
	}

	if err := s.ValidateKind(); err != nil {
		return err
	}

	if s.FilePath == "" {
		return errors.New("owning file path is required")
	}

	if s.Span.StartLine <= 0 || s.Span.EndLine <= 0 {
		return errors.New("invalid span: line numbers must be positive")
	}

	if s.Span.StartLine > s.Span.EndLine {
		return errors.New("invalid span: start line must be before or equal to end line")
	}

	if s.Span.StartByte > s.Span.EndByte {
		return errors.New("invalid span: start byte must be before or equal to end byte")
	}

	return nil
}

// DetectLanguage maps a file extension to its source language
func DetectLanguage(path string) Language {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			break
		}
		if path[i] == '.' {
			switch path[i:] {
			case ".go":
				return LangGo
			case ".py":
				return LangPython
			case ".js", ".mjs", ".jsx":
				return LangJavaScript
			case ".md", ".markdown":
				return LangMarkdown
			}
			return LangUnknown
		}
	}
	return LangUnknown
}
