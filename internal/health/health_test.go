package health

import (
	"context"
	"testing"
	"time"

	"github.com/filtergeist/filtergeist/internal/backend"
	"github.com/filtergeist/filtergeist/internal/domain"
)

func TestCheckerReadyWhenAnyBackendAvailable(t *testing.T) {
	avail := backend.StaticAvailability{domain.BackendPostgreSQL: true, domain.BackendSpatiaLite: false}
	c := New(avail, []domain.Backend{domain.BackendPostgreSQL, domain.BackendSpatiaLite}, nil)

	if !c.IsReady(context.Background()) {
		t.Error("expected ready when at least one backend is available")
	}
}

func TestCheckerNotReadyWhenNoBackendsAvailable(t *testing.T) {
	avail := backend.StaticAvailability{domain.BackendPostgreSQL: false, domain.BackendSpatiaLite: false}
	c := New(avail, []domain.Backend{domain.BackendPostgreSQL, domain.BackendSpatiaLite}, nil)

	if c.IsReady(context.Background()) {
		t.Error("expected not ready when no backends are available")
	}
}

func TestCheckerReadyWithNoConfiguredBackends(t *testing.T) {
	c := New(backend.StaticAvailability{}, nil, nil)
	if !c.IsReady(context.Background()) {
		t.Error("expected ready with an empty backend list (nothing to be unready for)")
	}
}

func TestCheckerDetailsReportsCounts(t *testing.T) {
	avail := backend.StaticAvailability{domain.BackendPostgreSQL: true, domain.BackendSpatiaLite: false, domain.BackendOGR: true}
	c := New(avail, []domain.Backend{domain.BackendPostgreSQL, domain.BackendSpatiaLite, domain.BackendOGR}, func() time.Duration { return 5 * time.Minute })

	details := c.GetDetails(context.Background())
	if details.BackendsAvailable != 2 {
		t.Errorf("BackendsAvailable = %d, want 2", details.BackendsAvailable)
	}
	if details.BackendsTotal != 3 {
		t.Errorf("BackendsTotal = %d, want 3", details.BackendsTotal)
	}
	if details.ManifestAge != 5*time.Minute {
		t.Errorf("ManifestAge = %v, want 5m", details.ManifestAge)
	}
	if details.Components["backends"] != "ok" {
		t.Errorf("expected backends component ok, got %q", details.Components["backends"])
	}
}

func TestCheckerDetailsFlagsNoBackendsAvailable(t *testing.T) {
	c := New(backend.StaticAvailability{}, []domain.Backend{domain.BackendPostgreSQL}, nil)
	details := c.GetDetails(context.Background())
	if details.Components["backends"] != "none available" {
		t.Errorf("expected backends component to flag none available, got %q", details.Components["backends"])
	}
}
