package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidSymbolID = errors.New("invalid symbol ID")
	ErrInvalidRank     = errors.New("rank must be >= 1")
	ErrMissingFileInfo = errors.New("file path is required")
)
