// Package backend resolves which concrete executor (PostgreSQL, SpatiaLite,
// OGR) handles a target layer, and reports that choice back for metrics and
// cache keys (spec §4.4).
package backend

import (
	"fmt"

	"github.com/filtergeist/filtergeist/internal/domain"
)

// Availability reports whether a backend's runtime extension/driver is
// usable in the current process. The dispatcher refuses a forced backend
// that is unavailable rather than silently falling back, since a forced
// choice is an explicit caller decision (spec §4.4 step 1).
type Availability interface {
	Available(b domain.Backend) bool
}

// StaticAvailability is an Availability backed by a fixed set, populated at
// startup from driver-registration probes (pgx connection, go-sqlite3
// SpatiaLite extension load, OGR host presence).
type StaticAvailability map[domain.Backend]bool

// Available implements Availability.
func (s StaticAvailability) Available(b domain.Backend) bool {
	return s[b]
}

// UnavailableBackendError is returned when a forced backend's extension is
// not usable (spec §7, refused as invalid input rather than retried).
type UnavailableBackendError struct {
	LayerID string
	Backend domain.Backend
}

func (e *UnavailableBackendError) Error() string {
	return fmt.Sprintf("backend %s forced for layer %s is not available", e.Backend, e.LayerID)
}

func (e *UnavailableBackendError) Unwrap() error {
	return domain.ErrBackendUnavailable
}

// providerAliases maps QGIS-style data provider keys to a canonical backend.
// Provider keys vary by QGIS version and driver combination; this table
// covers the common spellings surfaced by the postgres, ogr, and spatialite
// providers.
var providerAliases = map[string]domain.Backend{
	"postgres":     domain.BackendPostgreSQL,
	"postgresql":   domain.BackendPostgreSQL,
	"spatialite":   domain.BackendSpatiaLite,
	"ogr":          domain.BackendOGR,
	"memory":       domain.BackendMemory,
	"delimitedtext": domain.BackendOGR,
}

// InferFromProvider resolves a QGIS-style provider key to a canonical
// backend. Unknown providers default to OGR, the most permissive backend
// (spec §4.5.3's fid-IN fallback tolerates arbitrary vector sources).
func InferFromProvider(providerKey string) domain.Backend {
	if b, ok := providerAliases[providerKey]; ok {
		return b
	}
	return domain.BackendOGR
}

// Resolve picks the backend for a target layer (spec §4.4):
//  1. an explicit forced_backends[layer_id] entry wins, but only if available;
//  2. otherwise a backend already set on the layer descriptor is used;
//  3. otherwise infer from the layer's provider type and normalize.
func Resolve(layer domain.LayerDescriptor, providerKey string, forced map[string]domain.Backend, avail Availability) (domain.Backend, error) {
	if forced != nil {
		if b, ok := forced[layer.LayerID]; ok {
			if avail != nil && !avail.Available(b) {
				return "", &UnavailableBackendError{LayerID: layer.LayerID, Backend: b}
			}
			return b, nil
		}
	}
	if layer.Backend != "" {
		return layer.Backend, nil
	}
	return InferFromProvider(providerKey), nil
}
