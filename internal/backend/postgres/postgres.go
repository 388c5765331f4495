// Package postgres builds the PostgreSQL/PostGIS predicate body for a
// target layer (spec §4.5.1). Driven entirely by jackc/pgx/v5 at the
// connection layer elsewhere; this package only produces SQL text.
package postgres

import (
	"fmt"
	"strings"

	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/filter/expr"
)

// predicateFunctions maps canonical predicates to PostGIS function names.
var predicateFunctions = map[domain.Predicate]string{
	domain.PredicateIntersects: "ST_Intersects",
	domain.PredicateContains:   "ST_Contains",
	domain.PredicateWithin:     "ST_Within",
	domain.PredicateTouches:    "ST_Touches",
	domain.PredicateOverlaps:   "ST_Overlaps",
	domain.PredicateCrosses:    "ST_Crosses",
	domain.PredicateDisjoint:   "ST_Disjoint",
	domain.PredicateEquals:     "ST_Equals",
	domain.PredicateCovers:     "ST_Covers",
	domain.PredicateCoveredBy:  "ST_CoveredBy",
}

// Params carries everything the PostgreSQL builder needs to produce one
// target layer's predicate body.
type Params struct {
	Predicates []domain.Predicate
	Target     domain.LayerDescriptor
	Source     domain.PreparedSourceGeometry
	Buffer     domain.BufferParams
	// BufferApplied is true when C3 already folded the buffer into the
	// prepared geometry (per-feature dynamic buffer); the builder must not
	// double-buffer in that case.
	BufferApplied bool

	PriorSubset     string
	CombineOperator domain.CombineOperator
}

// Build produces the predicate body and combines it with the target's prior
// subset string (spec §4.5.1, §4.2).
func Build(p Params) (string, error) {
	body, err := buildPredicateBody(p)
	if err != nil {
		return "", err
	}
	return expr.CombineWithPrior(body, p.PriorSubset, p.CombineOperator)
}

func buildPredicateBody(p Params) (string, error) {
	switch p.Source.Kind {
	case domain.PreparedTableReference:
		return existsMode(p, p.Source.TableReference.Schema, p.Source.TableReference.Table, p.Source.TableReference.GeometryColumn, p.Source.TableReference.FilterPredicate)
	case domain.PreparedMaterializedViewReference:
		return existsMode(p, p.Source.MaterializedViewReference.Schema, p.Source.MaterializedViewReference.ViewName, "geom", "")
	case domain.PreparedWKTLiteral:
		return simpleMode(p)
	default:
		return "", fmt.Errorf("postgres builder: unsupported source kind %q", p.Source.Kind)
	}
}

// simpleMode emits one clause per predicate against an ST_GeomFromText
// literal, combined with OR when more than one predicate is requested (spec
// §4.5.1 "simple mode").
func simpleMode(p Params) (string, error) {
	wkt := p.Source.WKTLiteral
	sourceGeom := fmt.Sprintf("ST_GeomFromText('%s', %d)", escapeLiteral(wkt.WKT), wkt.SRID)
	if !p.BufferApplied && !p.Buffer.IsZero() && !p.Buffer.IsDynamic() {
		sourceGeom = bufferExpr(sourceGeom, p.Buffer)
	}
	targetGeom := quoteIdent(p.Target.GeometryColumn)

	clauses := make([]string, 0, len(p.Predicates))
	for _, pred := range p.Predicates {
		fn, ok := predicateFunctions[pred]
		if !ok {
			return "", fmt.Errorf("postgres builder: unknown predicate %q", pred)
		}
		clauses = append(clauses, fmt.Sprintf("%s(%s, %s)", fn, targetGeom, sourceGeom))
	}
	return joinOr(clauses), nil
}

// existsMode builds the EXISTS subquery form preferred for large selections
// (spec §4.5.1 "EXISTS mode").
func existsMode(p Params, schema, table, geomCol, sourceFilter string) (string, error) {
	sourceRef := quoteIdent(table)
	if schema != "" {
		sourceRef = quoteIdent(schema) + "." + sourceRef
	}
	sourceGeom := "__source." + quoteIdent(geomCol)
	if !p.BufferApplied && !p.Buffer.IsZero() && !p.Buffer.IsDynamic() {
		sourceGeom = bufferExpr(sourceGeom, p.Buffer)
	}
	targetGeom := quoteIdent(p.Target.GeometryColumn)

	clauses := make([]string, 0, len(p.Predicates))
	for _, pred := range p.Predicates {
		fn, ok := predicateFunctions[pred]
		if !ok {
			return "", fmt.Errorf("postgres builder: unknown predicate %q", pred)
		}
		clauses = append(clauses, fmt.Sprintf("%s(%s, %s)", fn, targetGeom, sourceGeom))
	}
	where := joinOr(clauses)
	if sourceFilter != "" {
		where = fmt.Sprintf("(%s) AND (%s)", where, sourceFilter)
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS __source WHERE %s)", sourceRef, where), nil
}

func bufferExpr(geomExpr string, b domain.BufferParams) string {
	style := fmt.Sprintf("quad_segs=%d endcap=%s", b.Segments, b.EndCap)
	return fmt.Sprintf("ST_Buffer(%s, %g, '%s')", geomExpr, b.Distance, style)
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
