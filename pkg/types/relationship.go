package types

import (
	"errors"
	"fmt"
)

// RelationKind represents the role of a directed edge between two symbols
type RelationKind string

const (
	RelCalls      RelationKind = "calls"
	RelImplements RelationKind = "implements"
	RelExtends    RelationKind = "extends"
	RelUses       RelationKind = "uses"
)

// Relationship is a directed edge between two symbol identifiers. Multiple
// relationships may exist between the same pair with different kinds;
// duplicates with identical (from, to, kind, site) are rejected at storage.
type Relationship struct {
	FromID SymbolID
	ToID   SymbolID
	Kind   RelationKind

	// Site of the reference in the origin file
	FilePath string
	Line     int
}

// Key returns the deduplication key for this relationship
func (r *Relationship) Key() string {
	return fmt.Sprintf("%d:%d:%s:%s:%d", r.FromID, r.ToID, r.Kind, r.FilePath, r.Line)
}

// ValidateKind checks if the relationship kind is valid
func (r *Relationship) ValidateKind() error {
	switch r.Kind {
	case RelCalls, RelImplements, RelExtends, RelUses:
		return nil
	default:
		return errors.New("invalid relationship kind")
	}
}

// Validate performs comprehensive validation of the relationship
func (r *Relationship) Validate() error {
	if r.FromID == 0 || r.ToID == 0 {
		return errors.New("relationship endpoints are required")
	}

	if err := r.ValidateKind(); err != nil {
		return err
	}

	if r.FilePath == "" {
		return errors.New("origin file path is required")
	}

	return nil
}
