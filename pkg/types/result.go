package types

// ResultSource identifies which search path produced a result
type ResultSource string

const (
	SourceExact    ResultSource = "exact"
	SourceFuzzy    ResultSource = "fuzzy"
	SourceSemantic ResultSource = "semantic"
	SourceTraverse ResultSource = "traverse"
)

// RelatedSymbol is a one-hop neighbor attached to an enriched result
type RelatedSymbol struct {
	ID   SymbolID
	Name string
	Kind RelationKind
}

// SearchResult represents a single ranked search result
type SearchResult struct {
	// Identification
	SymbolID SymbolID
	Rank     int // Position in result set (1-based)

	// Scoring. Text results carry the index's native relevance score;
	// semantic results carry cosine similarity in [-1, 1].
	Score  float64
	Source ResultSource

	// Metadata
	Name     string
	Kind     SymbolKind
	FilePath string
	Line     int
	Language Language
	Doc      string

	// Enrichment: one-hop relationship context, populated only for
	// semantic-with-context queries.
	Calls    []RelatedSymbol
	CalledBy []RelatedSymbol
}

// Validate checks if the search result is well formed
func (sr *SearchResult) Validate() error {
	if sr.SymbolID == 0 {
		return ErrInvalidSymbolID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.FilePath == "" {
		return ErrMissingFileInfo
	}

	return nil
}
