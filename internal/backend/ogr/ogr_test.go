package ogr

import (
	"context"
	"strings"
	"testing"

	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/hostport"
	"github.com/filtergeist/filtergeist/internal/hostport/hosttest"
)

func testTargetLayer() *hosttest.Layer {
	descriptor := domain.LayerDescriptor{
		LayerID:           "parcels",
		Backend:           domain.BackendOGR,
		Table:             "parcels",
		PrimaryKey:        "fid",
		PrimaryKeyNumeric: true,
	}
	return hosttest.NewLayer(descriptor, nil)
}

func TestBuildWKTLiteralSelectByLocation(t *testing.T) {
	target := testTargetLayer()
	proc := &hosttest.Processing{
		SelectByLocationFunc: func(_, _ *hosttest.Layer, _ []domain.Predicate) ([]int64, error) {
			return []int64{4, 9}, nil
		},
	}

	got, err := Build(context.Background(), proc, Params{
		Predicates: []domain.Predicate{domain.PredicateIntersects},
		Target:     target,
		Source: domain.PreparedSourceGeometry{
			Kind:       domain.PreparedWKTLiteral,
			WKTLiteral: &domain.WKTLiteralGeometry{WKT: "POINT(0 0)", SRID: 4326},
		},
		CombineOperator: domain.CombineReplace,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := "fid IN (4,9)"
	if got != want {
		t.Errorf("Build() = %q, want %q", got, want)
	}
}

func TestBuildCombinesWithPriorSubset(t *testing.T) {
	target := testTargetLayer()
	proc := &hosttest.Processing{
		SelectByLocationFunc: func(_, _ *hosttest.Layer, _ []domain.Predicate) ([]int64, error) {
			return []int64{1}, nil
		},
	}

	got, err := Build(context.Background(), proc, Params{
		Predicates: []domain.Predicate{domain.PredicateIntersects},
		Target:     target,
		Source: domain.PreparedSourceGeometry{
			Kind:       domain.PreparedWKTLiteral,
			WKTLiteral: &domain.WKTLiteralGeometry{WKT: "POINT(0 0)", SRID: 4326},
		},
		PriorSubset:     "fid IN (1,2,3)",
		CombineOperator: domain.CombineAnd,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(got, "fid IN (1)") || !strings.Contains(got, " AND ") {
		t.Errorf("Build() = %q", got)
	}
}

func TestBuildInMemoryLayerUsesResolveHandle(t *testing.T) {
	target := testTargetLayer()
	resolved := hosttest.NewLayer(domain.LayerDescriptor{LayerID: "source-mem"}, nil)
	var resolvedHandle string

	proc := &hosttest.Processing{
		SelectByLocationFunc: func(_, source *hosttest.Layer, _ []domain.Predicate) ([]int64, error) {
			if source != resolved {
				t.Errorf("expected resolved handle layer to be passed as source")
			}
			return []int64{7}, nil
		},
	}

	got, err := Build(context.Background(), proc, Params{
		Predicates: []domain.Predicate{domain.PredicateIntersects},
		Target:     target,
		Source: domain.PreparedSourceGeometry{
			Kind:          domain.PreparedInMemoryLayer,
			InMemoryLayer: &domain.InMemoryLayerGeometry{Handle: "mem-123", FeatureCount: 1},
		},
		ResolveHandle: func(handle string) (hostport.Layer, error) {
			resolvedHandle = handle
			return resolved, nil
		},
		CombineOperator: domain.CombineReplace,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if resolvedHandle != "mem-123" {
		t.Errorf("ResolveHandle called with %q, want mem-123", resolvedHandle)
	}
	if got != "fid IN (7)" {
		t.Errorf("Build() = %q", got)
	}
}

func TestBuildRequiresResolveHandleForInMemorySource(t *testing.T) {
	target := testTargetLayer()
	proc := &hosttest.Processing{}

	_, err := Build(context.Background(), proc, Params{
		Predicates: []domain.Predicate{domain.PredicateIntersects},
		Target:     target,
		Source: domain.PreparedSourceGeometry{
			Kind:          domain.PreparedInMemoryLayer,
			InMemoryLayer: &domain.InMemoryLayerGeometry{Handle: "mem-123"},
		},
		CombineOperator: domain.CombineReplace,
	})
	if err == nil {
		t.Fatal("expected error when ResolveHandle is nil")
	}
}

func TestBuildRejectsTableReferenceSource(t *testing.T) {
	target := testTargetLayer()
	proc := &hosttest.Processing{}

	_, err := Build(context.Background(), proc, Params{
		Predicates: []domain.Predicate{domain.PredicateIntersects},
		Target:     target,
		Source: domain.PreparedSourceGeometry{
			Kind:           domain.PreparedTableReference,
			TableReference: &domain.TableReferenceGeometry{Table: "buildings"},
		},
		CombineOperator: domain.CombineReplace,
	})
	if err == nil {
		t.Fatal("expected error for unsupported table_reference source")
	}
}
