package geometry

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/hostport/hosttest"
)

func testLayer() domain.LayerDescriptor {
	return domain.LayerDescriptor{
		LayerID: "parcels",
		Backend: domain.BackendSpatiaLite,
		Table:   "parcels",
		CRS:     domain.Projection{SRID: 25832},
	}
}

func newPreparer() (*Preparer, *hosttest.Geometry, *hosttest.Processing) {
	g := &hosttest.Geometry{}
	p := &hosttest.Processing{}
	prep := NewPreparer(g, p, Thresholds{MaxWKTLength: 1000, WKTPrecisionGeographic: 8, WKTPrecisionProjected: 3}, slog.Default())
	return prep, g, p
}

func featureWithWKT(id int64, wkt string) domain.Feature {
	return domain.Feature{ID: id, Geometry: domain.Geometry{WKT: wkt, Type: "POLYGON"}}
}

func TestPrepareTableReferenceForPostgresToPostgres(t *testing.T) {
	prep, _, _ := newPreparer()
	layer := testLayer()
	layer.Backend = domain.BackendPostgreSQL
	layer.Schema = "public"

	result, err := prep.Prepare(context.Background(), Options{
		Layer:            layer,
		TargetIsPostgres: true,
	}, []domain.Feature{featureWithWKT(1, "POLYGON((0 0,1 0,1 1,0 0))")})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if result.Geometry.Kind != domain.PreparedTableReference {
		t.Errorf("Kind = %v, want table_reference", result.Geometry.Kind)
	}
}

func TestPrepareWKTLiteralSingleFeature(t *testing.T) {
	prep, _, _ := newPreparer()
	result, err := prep.Prepare(context.Background(), Options{Layer: testLayer()}, []domain.Feature{
		featureWithWKT(1, "POLYGON((0 0,1 0,1 1,0 0))"),
	})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if result.Geometry.Kind != domain.PreparedWKTLiteral {
		t.Fatalf("Kind = %v, want wkt_literal", result.Geometry.Kind)
	}
	if result.Geometry.WKTLiteral.WKT == "" {
		t.Error("expected non-empty WKT")
	}
}

func TestPrepareDropsInvalidFeatureAfterRepairFailure(t *testing.T) {
	prep, g, _ := newPreparer()
	g.IsValidFunc = func(wkt string) bool { return !strings.Contains(wkt, "BAD") }
	g.MakeValidFunc = func(wkt string) (string, error) { return wkt, nil }
	g.BufferFunc = func(wkt string, _ domain.BufferParams) (string, error) { return wkt, nil }

	result, err := prep.Prepare(context.Background(), Options{Layer: testLayer()}, []domain.Feature{
		featureWithWKT(1, "BAD"),
	})
	if err == nil {
		t.Fatalf("expected GeometryPreparationError, got result %+v", result)
	}
	var gpe *domain.GeometryPreparationError
	if !asGeometryPreparationError(err, &gpe) {
		t.Errorf("expected *domain.GeometryPreparationError, got %T: %v", err, err)
	}
}

func asGeometryPreparationError(err error, target **domain.GeometryPreparationError) bool {
	if e, ok := err.(*domain.GeometryPreparationError); ok {
		*target = e
		return true
	}
	return false
}

func TestPrepareGeographicBufferUnitMismatchFails(t *testing.T) {
	prep, _, _ := newPreparer()
	layer := testLayer()
	layer.CRSIsGeographic = true
	layer.CRS = domain.Projection{SRID: 4326}

	_, err := prep.Prepare(context.Background(), Options{
		Layer:  layer,
		Buffer: domain.BufferParams{Distance: 10, Segments: 8},
	}, []domain.Feature{featureWithWKT(1, "POLYGON((0 0,1 0,1 1,0 0))")})

	if err == nil {
		t.Fatal("expected an error for geographic CRS with large buffer distance")
	}
}

func TestPrepareWithCentroid(t *testing.T) {
	prep, _, _ := newPreparer()
	result, err := prep.Prepare(context.Background(), Options{
		Layer:       testLayer(),
		UseCentroid: true,
	}, []domain.Feature{featureWithWKT(1, "POLYGON((0 0,1 0,1 1,0 0))")})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !result.Geometry.WKTLiteral.UsedCentroid {
		t.Error("expected UsedCentroid = true")
	}
	if !strings.Contains(result.Geometry.WKTLiteral.WKT, "CENTROID") {
		t.Errorf("expected centroid WKT, got %q", result.Geometry.WKTLiteral.WKT)
	}
}

func TestInitialToleranceMonotoneInSegments(t *testing.T) {
	layer := testLayer()
	low := initialTolerance(layer, domain.BufferParams{Distance: 50, Segments: 4}, 0.5)
	high := initialTolerance(layer, domain.BufferParams{Distance: 50, Segments: 32}, 0.5)
	if !(high < low) {
		t.Errorf("expected tolerance to decrease as segments increase: segments=4 -> %v, segments=32 -> %v", low, high)
	}
}

func TestReductionSeverityFactorOrdering(t *testing.T) {
	if !(reductionSeverityFactor(0.005) > reductionSeverityFactor(0.3)) {
		t.Error("expected smaller reduction ratios to produce a larger severity factor")
	}
}

func TestSortedFeatureIDs(t *testing.T) {
	got := SortedFeatureIDs([]int64{3, 1, 2})
	want := []int64{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedFeatureIDs() = %v, want %v", got, want)
		}
	}
}

func TestFormatWKTPrecision(t *testing.T) {
	got := FormatWKTPrecision("POINT(1.123456789 2.987654321)", false, Thresholds{WKTPrecisionProjected: 3})
	want := "POINT(1.123 2.987)"
	if got != want {
		t.Errorf("FormatWKTPrecision() = %q, want %q", got, want)
	}
}
