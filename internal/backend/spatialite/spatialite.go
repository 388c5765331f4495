// Package spatialite builds the SpatiaLite predicate body for a target
// layer (spec §4.5.2). Query execution happens through mattn/go-sqlite3 with
// the mod_spatialite extension loaded, grounded in the teacher's
// geopackage.Repository driver-registration pattern.
package spatialite

import (
	"fmt"
	"strings"

	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/filter/expr"
)

// predicateFunctions maps canonical predicates to unprefixed SpatiaLite
// function names.
var predicateFunctions = map[domain.Predicate]string{
	domain.PredicateIntersects: "Intersects",
	domain.PredicateContains:   "Contains",
	domain.PredicateWithin:     "Within",
	domain.PredicateTouches:    "Touches",
	domain.PredicateOverlaps:   "Overlaps",
	domain.PredicateCrosses:    "Crosses",
	domain.PredicateDisjoint:   "Disjoint",
	domain.PredicateEquals:     "Equals",
	domain.PredicateCovers:     "Covers",
	domain.PredicateCoveredBy:  "CoveredBy",
}

// Params carries everything the SpatiaLite builder needs.
type Params struct {
	Predicates    []domain.Predicate
	Target        domain.LayerDescriptor
	Source        *domain.WKTLiteralGeometry // SpatiaLite always consumes the WKT literal form
	Buffer        domain.BufferParams
	BufferApplied bool

	PriorSubset     string
	CombineOperator domain.CombineOperator
}

// Build produces the predicate body and combines it with the prior subset.
func Build(p Params) (string, error) {
	if p.Source == nil {
		return "", fmt.Errorf("spatialite builder: source WKT literal required")
	}
	sourceGeom := fmt.Sprintf("GeomFromText('%s', %d)", escapeLiteral(p.Source.WKT), p.Source.SRID)
	if !p.BufferApplied && !p.Buffer.IsZero() && !p.Buffer.IsDynamic() {
		sourceGeom = bufferExpr(sourceGeom, p.Buffer)
	}
	targetGeom := quoteIdent(p.Target.GeometryColumn)

	clauses := make([]string, 0, len(p.Predicates))
	for _, pred := range p.Predicates {
		fn, ok := predicateFunctions[pred]
		if !ok {
			return "", fmt.Errorf("spatialite builder: unknown predicate %q", pred)
		}
		clauses = append(clauses, fmt.Sprintf("%s(%s, %s)", fn, targetGeom, sourceGeom))
	}
	body := joinOr(clauses)
	return expr.CombineWithPrior(body, p.PriorSubset, p.CombineOperator)
}

// bufferExpr wraps the source geometry in Buffer(...). Negative buffers can
// erode a geometry down to an empty result; GEOMETRYCOLLECTION EMPTY then
// breaks every spatial predicate rather than simply evaluating false, so the
// result is passed through NULLIF(MakeValid(...), GEOMETRYCOLLECTION EMPTY)
// to coerce it to NULL instead (spec §4.5.2).
func bufferExpr(geomExpr string, b domain.BufferParams) string {
	buffered := fmt.Sprintf("Buffer(%s, %g)", geomExpr, b.Distance)
	if b.Distance < 0 {
		return fmt.Sprintf("NULLIF(MakeValid(%s), GeomFromText('GEOMETRYCOLLECTION EMPTY'))", buffered)
	}
	return buffered
}

func joinOr(clauses []string) string {
	if len(clauses) == 1 {
		return clauses[0]
	}
	wrapped := make([]string, len(clauses))
	for i, c := range clauses {
		wrapped[i] = "(" + c + ")"
	}
	return strings.Join(wrapped, " OR ")
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
