// Package hosttest provides deterministic in-memory implementations of the
// hostport interfaces for use in tests. Plain structs configurable via
// exported fields, no mocking framework.
package hosttest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/hostport"
)

// Layer is an in-memory hostport.Layer. SetSubsetString/Reload/etc. all
// record that they were called so tests can assert UI-thread-only
// discipline without a real host.
type Layer struct {
	mu sync.Mutex

	descriptor domain.LayerDescriptor
	subset     string
	featureIDs []int64
	selected   []int64
	features   []domain.Feature

	SetSubsetStringCalls int
	ReloadCalls          int
	ReloadDataCalls      int
	UpdateExtentsCalls   int
	TriggerRepaintCalls  int
	BlockSignalsCalls    []bool // records each BlockSignals argument in order

	signalsBlocked bool

	SetSubsetStringErr error
}

// NewLayer builds an in-memory layer for the given descriptor and feature set.
func NewLayer(descriptor domain.LayerDescriptor, features []domain.Feature) *Layer {
	ids := make([]int64, 0, len(features))
	for i := range features {
		ids = append(ids, int64(i+1))
	}
	return &Layer{descriptor: descriptor, features: features, featureIDs: ids}
}

func (l *Layer) ID() string                        { return l.descriptor.LayerID }
func (l *Layer) ProviderType() domain.Backend       { return l.descriptor.Backend }
func (l *Layer) CRS() domain.Projection             { return l.descriptor.CRS }
func (l *Layer) CRSIsGeographic() bool              { return l.descriptor.CRSIsGeographic }
func (l *Layer) Descriptor() domain.LayerDescriptor { return l.descriptor }

func (l *Layer) SubsetString() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subset
}

func (l *Layer) SetSubsetString(_ context.Context, subset string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.SetSubsetStringCalls++
	if l.SetSubsetStringErr != nil {
		return false, l.SetSubsetStringErr
	}
	l.subset = subset
	return true, nil
}

func (l *Layer) FeatureCount() (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.features)), true
}

// SetSelectedFeatureIDs configures what SelectedFeatureIDs returns.
func (l *Layer) SetSelectedFeatureIDs(ids []int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selected = ids
}

func (l *Layer) SelectedFeatureIDs(_ context.Context) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected, nil
}

func (l *Layer) Features(_ context.Context, ids []int64) ([]domain.Feature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ids == nil {
		return l.features, nil
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Feature
	for i, f := range l.features {
		if want[l.featureIDs[i]] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (l *Layer) Reload(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ReloadCalls++
	return nil
}

func (l *Layer) ReloadData(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ReloadDataCalls++
	return nil
}

func (l *Layer) UpdateExtents(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.UpdateExtentsCalls++
	return nil
}

func (l *Layer) TriggerRepaint(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.TriggerRepaintCalls++
	return nil
}

// BlockSignals flips the layer's signals-blocked state and returns the prior
// one, mirroring Qt's QObject::blockSignals that the real host layer wraps.
func (l *Layer) BlockSignals(block bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.BlockSignalsCalls = append(l.BlockSignalsCalls, block)
	was := l.signalsBlocked
	l.signalsBlocked = block
	return was
}

// SignalsBlocked reports the layer's current signals-blocked state.
func (l *Layer) SignalsBlocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.signalsBlocked
}

var _ hostport.Layer = (*Layer)(nil)

// Geometry is a no-op-friendly in-memory hostport.Geometry: it performs
// textual WKT manipulations sufficient for deterministic tests, not real
// geometric computation.
type Geometry struct {
	BufferFunc    func(wkt string, params domain.BufferParams) (string, error)
	MakeValidFunc func(wkt string) (string, error)
	IsValidFunc   func(wkt string) bool
	InvalidWKTs   map[string]bool
}

func (g *Geometry) Buffer(_ context.Context, wkt string, params domain.BufferParams) (string, error) {
	if g.BufferFunc != nil {
		return g.BufferFunc(wkt, params)
	}
	return fmt.Sprintf("POLYGON((BUFFERED %s BY %.2f))", wkt, params.Distance), nil
}

func (g *Geometry) Centroid(_ context.Context, wkt string) (string, error) {
	return fmt.Sprintf("POINT(CENTROID OF %s)", wkt), nil
}

func (g *Geometry) MakeValid(_ context.Context, wkt string) (string, error) {
	if g.MakeValidFunc != nil {
		return g.MakeValidFunc(wkt)
	}
	return wkt, nil
}

func (g *Geometry) Simplify(_ context.Context, wkt string, tolerance float64) (string, error) {
	return fmt.Sprintf("SIMPLIFIED(%s, %.4f)", wkt, tolerance), nil
}

func (g *Geometry) Union(_ context.Context, wkts []string) (string, error) {
	return "MULTIPOLYGON(" + strings.Join(wkts, ",") + ")", nil
}

func (g *Geometry) Collect(_ context.Context, wkts []string) (string, error) {
	return "GEOMETRYCOLLECTION(" + strings.Join(wkts, ",") + ")", nil
}

func (g *Geometry) ConvexHull(_ context.Context, wkt string) (string, error) {
	return fmt.Sprintf("POLYGON(HULL OF %s)", wkt), nil
}

func (g *Geometry) BoundingBox(_ context.Context, wkt string) (string, error) {
	return fmt.Sprintf("POLYGON(BBOX OF %s)", wkt), nil
}

func (g *Geometry) IsValid(_ context.Context, wkt string) (bool, error) {
	if g.IsValidFunc != nil {
		return g.IsValidFunc(wkt), nil
	}
	if g.InvalidWKTs != nil && g.InvalidWKTs[wkt] {
		return false, nil
	}
	return true, nil
}

func (g *Geometry) GeometryType(_ context.Context, wkt string) (domain.GeometryType, error) {
	switch {
	case strings.HasPrefix(wkt, "MULTIPOLYGON"):
		return domain.GeomMultiPolygon, nil
	case strings.HasPrefix(wkt, "POLYGON"):
		return domain.GeomPolygon, nil
	case strings.HasPrefix(wkt, "GEOMETRYCOLLECTION"):
		return domain.GeomGeometryCollection, nil
	case strings.HasPrefix(wkt, "POINT"):
		return domain.GeomPoint, nil
	default:
		return domain.GeomPolygon, nil
	}
}

var _ hostport.Geometry = (*Geometry)(nil)

// Reporter is an in-memory hostport.TaskReporter recording calls for
// assertions, with a cancel switch tests can flip mid-run.
type Reporter struct {
	mu        sync.Mutex
	Messages  []string
	Progress_ int
	Cancel    bool
}

func (r *Reporter) Description(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, "description: "+text)
}

func (r *Reporter) Progress(pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Progress_ = pct
}

func (r *Reporter) PushMessage(category, text string, severity hostport.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, fmt.Sprintf("[%s/%d] %s", category, severity, text))
}

func (r *Reporter) Canceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Cancel
}

// Processing is an in-memory hostport.Processing double.
type Processing struct {
	ReprojectGeometryFunc func(wkt string, fromSRID, toSRID int) (string, error)
	OptimalMetricCRSFunc  func(extent domain.Extent) (domain.Projection, error)
	SelectByLocationFunc  func(target, source *Layer, predicates []domain.Predicate) ([]int64, error)
}

func (p *Processing) Buffer(_ context.Context, input hostport.Layer, _ hostport.ProcessingParams) (hostport.Layer, error) {
	return input, nil
}

func (p *Processing) Reproject(_ context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error) {
	coord.SRID = targetSRID
	return coord, nil
}

func (p *Processing) ReprojectGeometry(_ context.Context, wkt string, fromSRID, toSRID int) (string, error) {
	if p.ReprojectGeometryFunc != nil {
		return p.ReprojectGeometryFunc(wkt, fromSRID, toSRID)
	}
	return fmt.Sprintf("REPROJECTED(%s, %d->%d)", wkt, fromSRID, toSRID), nil
}

func (p *Processing) CreateSpatialIndex(_ context.Context, _ hostport.Layer) error {
	return nil
}

func (p *Processing) SelectByLocation(_ context.Context, target, source hostport.Layer, predicates []domain.Predicate) ([]int64, error) {
	if p.SelectByLocationFunc != nil {
		t, _ := target.(*Layer)
		s, _ := source.(*Layer)
		return p.SelectByLocationFunc(t, s, predicates)
	}
	return nil, nil
}

func (p *Processing) CreateMemoryLayer(_ context.Context, wkt string, srid int, fields []string) (hostport.Layer, error) {
	descriptor := domain.LayerDescriptor{
		LayerID:    "memory",
		Backend:    domain.BackendMemory,
		Table:      "memory",
		FieldNames: fields,
		CRS:        domain.Projection{SRID: srid},
	}
	return NewLayer(descriptor, []domain.Feature{{Geometry: domain.Geometry{WKT: wkt, SRID: srid}}}), nil
}

func (p *Processing) OptimalMetricCRS(_ context.Context, extent domain.Extent) (domain.Projection, error) {
	if p.OptimalMetricCRSFunc != nil {
		return p.OptimalMetricCRSFunc(extent)
	}
	return domain.CommonProjections[domain.SRIDETRS89UTM32N], nil
}

var _ hostport.Processing = (*Processing)(nil)

var _ hostport.TaskReporter = (*Reporter)(nil)
