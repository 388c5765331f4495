// Package hostport defines the narrow collaborator ports a GIS host must
// satisfy for the filter engine to drive it. The engine never talks to a
// concrete GIS application directly; it calls these interfaces, and a
// real host (or the in-memory double in hosttest) implements them.
package hostport

import (
	"context"

	"github.com/filtergeist/filtergeist/internal/domain"
)

// Severity classifies a message posted to the host's message bar.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// Layer is the per-layer surface the engine consumes from the host.
// Methods documented "UI-thread only" must never be called off the host's
// UI thread; the engine only reaches them through the Subset-Application
// Queue (internal/uiqueue).
type Layer interface {
	ID() string
	ProviderType() domain.Backend
	CRS() domain.Projection
	CRSIsGeographic() bool

	SubsetString() string
	// SetSubsetString applies a new subset string. UI-thread only.
	SetSubsetString(ctx context.Context, subset string) (bool, error)

	FeatureCount() (count int64, known bool)
	// SelectedFeatureIDs returns the host's current selection. UI-thread only.
	SelectedFeatureIDs(ctx context.Context) ([]int64, error)

	// Features iterates features, optionally restricted to ids. Worker-safe
	// for memory layers and read-only snapshots; otherwise UI-thread only.
	Features(ctx context.Context, ids []int64) ([]domain.Feature, error)

	// Reload and ReloadData refresh the layer's provider/data. UI-thread only.
	Reload(ctx context.Context) error
	ReloadData(ctx context.Context) error

	// BlockSignals and UnblockSignals suppress and resume the layer's
	// change notifications (currentLayerChanged and friends). Callers
	// reloading a layer wrap the reload in BlockSignals/UnblockSignals so
	// the host's UI never observes the layer mid-reload (spec §4.11:
	// "signals emitted by the host's layer are blocked to prevent stale UI
	// callbacks"). UI-thread only.
	BlockSignals(block bool) (wasBlocked bool)

	// UpdateExtents and TriggerRepaint refresh the host's rendering of this
	// layer. UI-thread only.
	UpdateExtents(ctx context.Context) error
	TriggerRepaint(ctx context.Context) error

	Descriptor() domain.LayerDescriptor
}

// BufferParams mirrors domain.BufferParams as consumed by Geometry.Buffer.
type BufferParams = domain.BufferParams

// Geometry performs single-geometry algorithms the engine cannot implement
// itself without a geometry library the corpus does not carry.
type Geometry interface {
	Buffer(ctx context.Context, wkt string, params BufferParams) (string, error)
	Centroid(ctx context.Context, wkt string) (string, error)
	MakeValid(ctx context.Context, wkt string) (string, error)
	Simplify(ctx context.Context, wkt string, tolerance float64) (string, error)
	Union(ctx context.Context, wkts []string) (string, error)
	Collect(ctx context.Context, wkts []string) (string, error)
	ConvexHull(ctx context.Context, wkt string) (string, error)
	BoundingBox(ctx context.Context, wkt string) (string, error)
	IsValid(ctx context.Context, wkt string) (bool, error)
	GeometryType(ctx context.Context, wkt string) (domain.GeometryType, error)
}

// ProcessingParams is an opaque parameter bag for Processing algorithm
// invocations, mirroring the host's algorithm-style parameter maps.
type ProcessingParams map[string]any

// Processing wraps algorithm-style host operations that operate across
// layers rather than single geometries.
type Processing interface {
	Buffer(ctx context.Context, input Layer, params ProcessingParams) (Layer, error)
	Reproject(ctx context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error)
	// ReprojectGeometry transforms a WKT geometry (not just a point) between SRIDs.
	ReprojectGeometry(ctx context.Context, wkt string, fromSRID, toSRID int) (string, error)
	CreateSpatialIndex(ctx context.Context, layer Layer) error
	SelectByLocation(ctx context.Context, target Layer, source Layer, predicates []domain.Predicate) ([]int64, error)
	CreateMemoryLayer(ctx context.Context, wkt string, srid int, fields []string) (Layer, error)
	// OptimalMetricCRS picks the appropriate UTM zone (or a configured
	// fallback) for reprojecting a geographic/non-metric extent.
	OptimalMetricCRS(ctx context.Context, extent domain.Extent) (domain.Projection, error)
}

// TaskReporter is the cooperative progress/cancellation/messaging surface
// exposed by C13 to the orchestrator and, transitively, to the host.
type TaskReporter interface {
	Description(text string)
	Progress(pct int)
	PushMessage(category string, text string, severity Severity)
	Canceled() bool
}
