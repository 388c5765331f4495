package postgres

import (
	"strings"
	"testing"

	"github.com/filtergeist/filtergeist/internal/domain"
)

func testTarget() domain.LayerDescriptor {
	return domain.LayerDescriptor{
		LayerID:        "parcels",
		Backend:        domain.BackendPostgreSQL,
		Schema:         "public",
		Table:          "parcels",
		GeometryColumn: "geom",
	}
}

func TestBuildSimpleModeSinglePredicate(t *testing.T) {
	got, err := Build(Params{
		Predicates: []domain.Predicate{domain.PredicateIntersects},
		Target:     testTarget(),
		Source: domain.PreparedSourceGeometry{
			Kind:       domain.PreparedWKTLiteral,
			WKTLiteral: &domain.WKTLiteralGeometry{WKT: "POLYGON((0 0,1 0,1 1,0 0))", SRID: 25832},
		},
		CombineOperator: domain.CombineReplace,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := `ST_Intersects("geom", ST_GeomFromText('POLYGON((0 0,1 0,1 1,0 0))', 25832))`
	if got != want {
		t.Errorf("Build() = %q, want %q", got, want)
	}
}

func TestBuildSimpleModeMultiplePredicatesOred(t *testing.T) {
	got, err := Build(Params{
		Predicates: []domain.Predicate{domain.PredicateIntersects, domain.PredicateContains},
		Target:     testTarget(),
		Source: domain.PreparedSourceGeometry{
			Kind:       domain.PreparedWKTLiteral,
			WKTLiteral: &domain.WKTLiteralGeometry{WKT: "POINT(0 0)", SRID: 25832},
		},
		CombineOperator: domain.CombineReplace,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(got, " OR ") {
		t.Errorf("expected OR-joined clauses, got %q", got)
	}
}

func TestBuildSimpleModeAppliesBuffer(t *testing.T) {
	got, err := Build(Params{
		Predicates: []domain.Predicate{domain.PredicateIntersects},
		Target:     testTarget(),
		Source: domain.PreparedSourceGeometry{
			Kind:       domain.PreparedWKTLiteral,
			WKTLiteral: &domain.WKTLiteralGeometry{WKT: "POINT(0 0)", SRID: 25832},
		},
		Buffer:          domain.BufferParams{Distance: 10, Segments: 8, EndCap: domain.EndCapRound},
		CombineOperator: domain.CombineReplace,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(got, "ST_Buffer(") || !strings.Contains(got, "quad_segs=8 endcap=round") {
		t.Errorf("expected buffered source geometry, got %q", got)
	}
}

func TestBuildSkipsBufferWhenAlreadyApplied(t *testing.T) {
	got, err := Build(Params{
		Predicates: []domain.Predicate{domain.PredicateIntersects},
		Target:     testTarget(),
		Source: domain.PreparedSourceGeometry{
			Kind:       domain.PreparedWKTLiteral,
			WKTLiteral: &domain.WKTLiteralGeometry{WKT: "POINT(0 0)", SRID: 25832},
		},
		Buffer:        domain.BufferParams{Distance: 10, Segments: 8},
		BufferApplied: true,
		CombineOperator: domain.CombineReplace,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if strings.Contains(got, "ST_Buffer(") {
		t.Errorf("expected no ST_Buffer when already applied, got %q", got)
	}
}

func TestBuildExistsModeTableReference(t *testing.T) {
	got, err := Build(Params{
		Predicates: []domain.Predicate{domain.PredicateIntersects},
		Target:     testTarget(),
		Source: domain.PreparedSourceGeometry{
			Kind: domain.PreparedTableReference,
			TableReference: &domain.TableReferenceGeometry{
				Schema: "public", Table: "buildings", GeometryColumn: "geom",
				FilterPredicate: `"zone" = 'commercial'`,
			},
		},
		CombineOperator: domain.CombineReplace,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.HasPrefix(got, `EXISTS (SELECT 1 FROM "public"."buildings" AS __source WHERE`) {
		t.Errorf("unexpected EXISTS body: %q", got)
	}
	if !strings.Contains(got, `"zone" = 'commercial'`) {
		t.Errorf("expected source filter folded in, got %q", got)
	}
}

func TestBuildExistsModeMaterializedViewReference(t *testing.T) {
	got, err := Build(Params{
		Predicates: []domain.Predicate{domain.PredicateWithin},
		Target:     testTarget(),
		Source: domain.PreparedSourceGeometry{
			Kind: domain.PreparedMaterializedViewReference,
			MaterializedViewReference: &domain.MaterializedViewReferenceGeometry{
				Schema: "filtermate_temp", ViewName: "fm_temp_sel_abc12345_def67890", PKColumn: "id",
			},
		},
		CombineOperator: domain.CombineReplace,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(got, `"filtermate_temp"."fm_temp_sel_abc12345_def67890"`) {
		t.Errorf("expected MV reference, got %q", got)
	}
	if !strings.Contains(got, "ST_Within") {
		t.Errorf("expected predicate function, got %q", got)
	}
}

func TestBuildCombinesWithPriorSubset(t *testing.T) {
	got, err := Build(Params{
		Predicates: []domain.Predicate{domain.PredicateIntersects},
		Target:     testTarget(),
		Source: domain.PreparedSourceGeometry{
			Kind:       domain.PreparedWKTLiteral,
			WKTLiteral: &domain.WKTLiteralGeometry{WKT: "POINT(0 0)", SRID: 25832},
		},
		PriorSubset:     `"status" = 'active'`,
		CombineOperator: domain.CombineAnd,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(got, `"status" = 'active'`) || !strings.Contains(got, " AND ") {
		t.Errorf("expected combined expression, got %q", got)
	}
}
