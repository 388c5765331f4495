package domain

import "strings"

// Predicate is a canonical spatial relation between two geometries.
type Predicate string

// Canonical predicates (spec DATA MODEL, Predicate).
const (
	PredicateIntersects Predicate = "INTERSECTS"
	PredicateContains   Predicate = "CONTAINS"
	PredicateWithin     Predicate = "WITHIN"
	PredicateTouches    Predicate = "TOUCHES"
	PredicateOverlaps   Predicate = "OVERLAPS"
	PredicateCrosses    Predicate = "CROSSES"
	PredicateDisjoint   Predicate = "DISJOINT"
	PredicateEquals     Predicate = "EQUALS"
	PredicateCovers     Predicate = "COVERS"
	PredicateCoveredBy  Predicate = "COVERED_BY"
)

// predicateAliases maps locale/spelling variants to the canonical predicate.
var predicateAliases = map[string]Predicate{
	"intersect":   PredicateIntersects,
	"intersects":  PredicateIntersects,
	"contain":     PredicateContains,
	"contains":    PredicateContains,
	"within":      PredicateWithin,
	"inside":      PredicateWithin,
	"touch":       PredicateTouches,
	"touches":     PredicateTouches,
	"overlap":     PredicateOverlaps,
	"overlaps":    PredicateOverlaps,
	"cross":       PredicateCrosses,
	"crosses":     PredicateCrosses,
	"disjoint":    PredicateDisjoint,
	"equal":       PredicateEquals,
	"equals":      PredicateEquals,
	"cover":       PredicateCovers,
	"covers":      PredicateCovers,
	"coveredby":   PredicateCoveredBy,
	"covered_by":  PredicateCoveredBy,
	"covered by":  PredicateCoveredBy,
}

// NormalizePredicate resolves an input alias to its canonical predicate.
func NormalizePredicate(raw string) (Predicate, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if p, ok := predicateAliases[key]; ok {
		return p, true
	}
	for _, p := range []Predicate{
		PredicateIntersects, PredicateContains, PredicateWithin, PredicateTouches,
		PredicateOverlaps, PredicateCrosses, PredicateDisjoint, PredicateEquals,
		PredicateCovers, PredicateCoveredBy,
	} {
		if strings.EqualFold(string(p), key) {
			return p, true
		}
	}
	return "", false
}

// IsValid reports whether p is one of the canonical predicates.
func (p Predicate) IsValid() bool {
	_, ok := NormalizePredicate(string(p))
	return ok
}
