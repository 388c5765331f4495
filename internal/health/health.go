// Package health reports whether the filter engine is ready to accept work:
// at least one configured backend has a live driver/extension (or none is
// configured). The capability manifest's age is reported in the snapshot but
// does not affect readiness. The shape (Healthy/Ready/Components)
// is carried over from the teacher's health service, retargeted from
// package-loaded-count to backend-availability-count.
package health

import (
	"context"
	"time"

	"github.com/filtergeist/filtergeist/internal/backend"
	"github.com/filtergeist/filtergeist/internal/domain"
)

// Details is the JSON-serializable health snapshot the debug HTTP surface
// exposes.
type Details struct {
	Healthy           bool              `json:"healthy"`
	Ready             bool              `json:"ready"`
	BackendsAvailable int               `json:"backends_available"`
	BackendsTotal     int               `json:"backends_total"`
	ManifestAge       time.Duration     `json:"manifest_age_ns"`
	Components        map[string]string `json:"components"`
}

// ManifestSource is the subset of backendconfig.Manifest health cares about.
type ManifestSource interface {
	Available(b domain.Backend) bool
}

// Checker answers liveness/readiness queries for the composed engine. It
// holds no state of its own beyond references to the things it inspects, so
// it is safe to construct once at startup and share across requests.
type Checker struct {
	availability backend.Availability
	manifestAge  func() time.Duration
	backends     []domain.Backend
}

// New builds a Checker. backends lists every backend the deployment expects
// to use; availability reports which of those are actually usable right now;
// manifestAge reports how long it has been since the capability manifest was
// last (re)loaded, so staleness shows up in the health snapshot.
func New(availability backend.Availability, backends []domain.Backend, manifestAge func() time.Duration) *Checker {
	return &Checker{availability: availability, backends: backends, manifestAge: manifestAge}
}

// IsHealthy reports whether the process itself is up. It never depends on
// backend availability — a backend going dark is a readiness concern, not a
// liveness one.
func (c *Checker) IsHealthy(ctx context.Context) bool {
	return true
}

// IsReady reports whether at least one backend is currently usable. An
// engine with zero usable backends cannot resolve any layer and should be
// pulled out of rotation.
func (c *Checker) IsReady(ctx context.Context) bool {
	if len(c.backends) == 0 {
		return true
	}
	for _, b := range c.backends {
		if c.availability.Available(b) {
			return true
		}
	}
	return false
}

// GetDetails returns the full health snapshot.
func (c *Checker) GetDetails(ctx context.Context) Details {
	available := 0
	for _, b := range c.backends {
		if c.availability.Available(b) {
			available++
		}
	}

	var age time.Duration
	if c.manifestAge != nil {
		age = c.manifestAge()
	}

	components := map[string]string{
		"capability_manifest": "ok",
	}
	if available == 0 && len(c.backends) > 0 {
		components["backends"] = "none available"
	} else {
		components["backends"] = "ok"
	}

	return Details{
		Healthy:           c.IsHealthy(ctx),
		Ready:             c.IsReady(ctx),
		BackendsAvailable: available,
		BackendsTotal:     len(c.backends),
		ManifestAge:       age,
		Components:        components,
	}
}
