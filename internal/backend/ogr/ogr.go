// Package ogr builds the predicate for OGR-backed target layers (spec
// §4.5.3). OGR's SQL subset expression has no spatial-join syntax, so the
// backend drives the host's native "select by location" over an in-memory
// source layer instead of emitting spatial SQL.
package ogr

import (
	"context"
	"fmt"

	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/filter/expr"
	"github.com/filtergeist/filtergeist/internal/hostport"
)

// Params carries everything the OGR builder needs.
type Params struct {
	Predicates []domain.Predicate
	Target     hostport.Layer
	// Source is the prepared source geometry. Only the wkt_literal and
	// in_memory_layer variants are meaningful to OGR; a table/MV reference
	// has no OGR equivalent and is a caller error.
	Source domain.PreparedSourceGeometry
	// ResolveHandle looks up an already-open in-memory layer by the opaque
	// handle C3 stashed in InMemoryLayerGeometry, for callers that built the
	// source layer once and reuse it across several target layers. Nil when
	// Source.Kind is not in_memory_layer.
	ResolveHandle func(handle string) (hostport.Layer, error)

	PriorSubset     string
	CombineOperator domain.CombineOperator
}

// Build constructs an in-memory source layer (when needed), runs the host's
// select-by-location, and emits a fid/pk IN (...) predicate combined with
// the prior subset.
//
// The select-by-location call and the layer handles it touches must run on
// the host's UI thread (spec §5); callers reach this only through the
// Subset-Application Queue, never directly from a worker goroutine.
func Build(ctx context.Context, proc hostport.Processing, p Params) (string, error) {
	targetDescriptor := p.Target.Descriptor()

	sourceLayer, err := memorySourceLayer(ctx, proc, targetDescriptor, p.Source, p.ResolveHandle)
	if err != nil {
		return "", err
	}

	matched, err := proc.SelectByLocation(ctx, p.Target, sourceLayer, p.Predicates)
	if err != nil {
		return "", fmt.Errorf("ogr builder: select by location: %w", err)
	}

	body := expr.BuildNumericFeatureIDExpression(matched, targetDescriptor, domain.DialectOGR)
	return expr.CombineWithPrior(body, p.PriorSubset, p.CombineOperator)
}

func memorySourceLayer(ctx context.Context, proc hostport.Processing, target domain.LayerDescriptor, source domain.PreparedSourceGeometry, resolveHandle func(string) (hostport.Layer, error)) (hostport.Layer, error) {
	switch source.Kind {
	case domain.PreparedInMemoryLayer:
		if resolveHandle == nil {
			return nil, fmt.Errorf("ogr builder: in_memory_layer source requires ResolveHandle")
		}
		return resolveHandle(source.InMemoryLayer.Handle)
	case domain.PreparedWKTLiteral:
		layer, err := proc.CreateMemoryLayer(ctx, source.WKTLiteral.WKT, source.WKTLiteral.SRID, nil)
		if err != nil {
			return nil, fmt.Errorf("ogr builder: creating memory source layer: %w", err)
		}
		return layer, nil
	default:
		return nil, fmt.Errorf("ogr builder: unsupported source kind %q for target %s", source.Kind, target.LayerID)
	}
}
