package domain

// Backend identifies a concrete spatial-query executor tied to a storage
// engine (spec GLOSSARY, "Backend").
type Backend string

// Supported backends.
const (
	BackendPostgreSQL Backend = "postgresql"
	BackendSpatiaLite Backend = "spatialite"
	BackendOGR        Backend = "ogr"
	BackendMemory     Backend = "memory"
)

// LayerDescriptor is the resolved, immutable-per-request view of a target
// or source layer (spec DATA MODEL, LayerDescriptor).
type LayerDescriptor struct {
	LayerID            string
	Backend            Backend
	Schema             string // nullable: empty means "no schema" (SQLite/OGR)
	Table              string
	GeometryColumn     string
	PrimaryKey         string
	PrimaryKeyNumeric  bool
	CRS                Projection
	CRSIsGeographic    bool
	FieldNames         []string
	FeatureCountHint   int64 // -1 means unknown
}

// HasField reports whether name is among the layer's known fields.
func (d LayerDescriptor) HasField(name string) bool {
	for _, f := range d.FieldNames {
		if f == name {
			return true
		}
	}
	return false
}

// QualifiedTable returns "schema"."table", or just "table" when schema is
// empty (SpatiaLite/OGR never table-qualify per spec §4.2).
func (d LayerDescriptor) QualifiedTable() string {
	if d.Schema == "" {
		return quoteIdent(d.Table)
	}
	return quoteIdent(d.Schema) + "." + quoteIdent(d.Table)
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}
