package domain

// PreparedSourceGeometryKind discriminates the PreparedSourceGeometry variant.
type PreparedSourceGeometryKind string

const (
	PreparedTableReference          PreparedSourceGeometryKind = "table_reference"
	PreparedMaterializedViewReference PreparedSourceGeometryKind = "materialized_view_reference"
	PreparedWKTLiteral               PreparedSourceGeometryKind = "wkt_literal"
	PreparedInMemoryLayer            PreparedSourceGeometryKind = "in_memory_layer"
)

// PreparedSourceGeometry is the materialized output of the Geometry Preparer
// (C3). Exactly one variant field is populated, matching Kind (spec DATA
// MODEL, PreparedSourceGeometry).
type PreparedSourceGeometry struct {
	Kind PreparedSourceGeometryKind

	TableReference          *TableReferenceGeometry
	MaterializedViewReference *MaterializedViewReferenceGeometry
	WKTLiteral               *WKTLiteralGeometry
	InMemoryLayer            *InMemoryLayerGeometry
}

// TableReferenceGeometry is used when both source and target are PostgreSQL,
// enabling EXISTS joins directly against the source table.
type TableReferenceGeometry struct {
	Schema          string
	Table           string
	GeometryColumn  string
	FilterPredicate string // the source's restriction predicate (WHERE body)
}

// MaterializedViewReferenceGeometry points at an MV created by C8.
type MaterializedViewReferenceGeometry struct {
	Schema   string
	ViewName string
	PKColumn string
}

// WKTLiteralGeometry is the universal fallback usable by all backends.
type WKTLiteralGeometry struct {
	WKT                  string
	SRID                 int
	OriginalFeatureCount int
	WasSimplified        bool
	WasDissolved         bool
	UsedCentroid         bool
}

// InMemoryLayerGeometry is used exclusively by the OGR in-process path.
type InMemoryLayerGeometry struct {
	Handle       string // opaque handle to the host's in-memory layer
	FeatureCount int
}

// Validate enforces the PreparedSourceGeometry invariants: exactly one
// variant set; simplified WKT must respect the configured max length; a
// centroid-substituted WKT must consist only of zero-dimensional features
// (the latter is asserted by the caller that built it, since this type
// carries no per-feature geometry type list).
func (g PreparedSourceGeometry) Validate(maxWKTLength int) error {
	set := 0
	if g.TableReference != nil {
		set++
	}
	if g.MaterializedViewReference != nil {
		set++
	}
	if g.WKTLiteral != nil {
		set++
	}
	if g.InMemoryLayer != nil {
		set++
	}
	if set != 1 {
		return &ValidationError{
			Field:      "PreparedSourceGeometry",
			Value:      set,
			Constraint: "exactly one variant",
			Message:    "prepared source geometry must carry exactly one variant",
		}
	}
	if g.WKTLiteral != nil && g.WKTLiteral.WasSimplified && len(g.WKTLiteral.WKT) > maxWKTLength {
		return &ValidationError{
			Field:      "WKTLiteral.WKT",
			Value:      len(g.WKTLiteral.WKT),
			Constraint: "<= max_wkt_length after simplification",
			Message:    "simplified WKT still exceeds the configured budget",
		}
	}
	return nil
}
