package types

// RelationshipRef is a relationship candidate emitted by a parser. Endpoints
// are symbol names rather than identifiers: numeric IDs are assigned when the
// owning file's symbols are stored, and references are resolved against them
// at that point.
type RelationshipRef struct {
	FromName string
	ToName   string
	Kind     RelationKind
	FilePath string
	Line     int
}

// ParseResult represents the output of parsing a single source file
type ParseResult struct {
	// Extracted data
	Symbols       []Symbol
	Relationships []RelationshipRef
	Language      Language

	// Gaps encountered during extraction. A gap is file-local and never
	// fatal: the remaining symbols in the result are still valid.
	Gaps []ExtractionGap
}

// ExtractionGap records a region of a file the parser could not extract
type ExtractionGap struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (g *ExtractionGap) Error() string {
	return g.Message
}

// HasGaps returns true if any extraction gaps were recorded
func (pr *ParseResult) HasGaps() bool {
	return len(pr.Gaps) > 0
}

// AddGap records an extraction gap on the result
func (pr *ParseResult) AddGap(file string, line, col int, msg string) {
	pr.Gaps = append(pr.Gaps, ExtractionGap{
		File:    file,
		Line:    line,
		Column:  col,
		Message: msg,
	})
}
