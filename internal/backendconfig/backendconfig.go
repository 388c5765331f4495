// Package backendconfig loads the backend capability manifest and the
// threshold config bundle (spec §6, §7 "ensure backend capability") from
// whichever object storage the deployment points at, reusing the teacher's
// pluggable storage adapters (local/S3/Azure/HTTP) unchanged — only the
// payload being fetched has changed, from GeoPackage files to a small YAML
// manifest.
package backendconfig

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/ports/output"
)

// ManifestObjectKey is the well-known object name the manifest is fetched
// under, regardless of storage backend.
const ManifestObjectKey = "backend_capabilities.yaml"

// Manifest records which backends are usable in this deployment — e.g. a
// PostgreSQL target whose postgis extension failed CREATE EXTENSION, or a
// SpatiaLite path whose mod_spatialite couldn't be loaded, is marked
// unavailable here so backend.Resolve refuses it instead of failing deep
// inside a query (spec §7).
type Manifest struct {
	Backends map[domain.Backend]bool `yaml:"backends"`
	// RefreshedAt is when the manifest was last fetched, for staleness checks
	// on the debug HTTP surface.
	RefreshedAt time.Time `yaml:"-"`
}

// Available adapts a Manifest to backend.Availability.
func (m Manifest) Available(b domain.Backend) bool {
	return m.Backends[b]
}

// Loader fetches and parses the manifest from an ObjectStorage backend.
type Loader struct {
	storage output.ObjectStorage
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewLoader builds a Loader. metrics may be nil to disable instrumentation.
func NewLoader(storage output.ObjectStorage, metrics output.MetricsCollector, logger *slog.Logger) *Loader {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{storage: storage, metrics: metrics, logger: logger}
}

// Load fetches ManifestObjectKey and parses it as YAML. A missing manifest
// is not an error — Load returns an empty Manifest, under which every
// backend reads as unavailable.
func (l *Loader) Load(ctx context.Context) (Manifest, error) {
	start := time.Now()
	exists, err := l.storage.Exists(ctx, ManifestObjectKey)
	if err != nil {
		l.metrics.IncStorageOperations("manifest_exists", false)
		return Manifest{}, fmt.Errorf("backendconfig: checking manifest existence: %w", err)
	}
	if !exists {
		l.logger.Warn("backend capability manifest not found, defaulting every backend unavailable", "key", ManifestObjectKey)
		return Manifest{Backends: map[domain.Backend]bool{}, RefreshedAt: time.Now()}, nil
	}

	reader, err := l.storage.GetReader(ctx, ManifestObjectKey)
	if err != nil {
		l.metrics.IncStorageOperations("manifest_read", false)
		return Manifest{}, fmt.Errorf("backendconfig: opening manifest: %w", err)
	}
	defer func() { _ = reader.Close() }()

	raw, err := io.ReadAll(reader)
	if err != nil {
		l.metrics.IncStorageOperations("manifest_read", false)
		return Manifest{}, fmt.Errorf("backendconfig: reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		l.metrics.IncStorageOperations("manifest_parse", false)
		return Manifest{}, fmt.Errorf("backendconfig: parsing manifest: %w", err)
	}
	if m.Backends == nil {
		m.Backends = map[domain.Backend]bool{}
	}
	m.RefreshedAt = time.Now()

	l.metrics.IncStorageOperations("manifest_read", true)
	l.metrics.ObserveStorageDuration("manifest_read", time.Since(start))
	return m, nil
}
