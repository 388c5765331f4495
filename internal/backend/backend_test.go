package backend

import (
	"errors"
	"testing"

	"github.com/filtergeist/filtergeist/internal/domain"
)

func TestResolveForcedBackendAvailable(t *testing.T) {
	layer := domain.LayerDescriptor{LayerID: "parcels"}
	forced := map[string]domain.Backend{"parcels": domain.BackendSpatiaLite}
	avail := StaticAvailability{domain.BackendSpatiaLite: true}

	got, err := Resolve(layer, "postgres", forced, avail)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != domain.BackendSpatiaLite {
		t.Errorf("Resolve() = %v, want spatialite", got)
	}
}

func TestResolveForcedBackendUnavailableRefused(t *testing.T) {
	layer := domain.LayerDescriptor{LayerID: "parcels"}
	forced := map[string]domain.Backend{"parcels": domain.BackendPostgreSQL}
	avail := StaticAvailability{domain.BackendPostgreSQL: false}

	_, err := Resolve(layer, "postgres", forced, avail)
	if err == nil {
		t.Fatal("expected UnavailableBackendError")
	}
	var uberr *UnavailableBackendError
	if !errors.As(err, &uberr) {
		t.Errorf("expected *UnavailableBackendError, got %T", err)
	}
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Error("expected wrapped ErrBackendUnavailable")
	}
}

func TestResolveInfersFromDescriptorBackend(t *testing.T) {
	layer := domain.LayerDescriptor{LayerID: "parcels", Backend: domain.BackendOGR}
	got, err := Resolve(layer, "postgres", nil, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != domain.BackendOGR {
		t.Errorf("Resolve() = %v, want ogr", got)
	}
}

func TestResolveInfersFromProviderKey(t *testing.T) {
	layer := domain.LayerDescriptor{LayerID: "parcels"}
	got, err := Resolve(layer, "spatialite", nil, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != domain.BackendSpatiaLite {
		t.Errorf("Resolve() = %v, want spatialite", got)
	}
}

func TestInferFromProviderUnknownDefaultsToOGR(t *testing.T) {
	if got := InferFromProvider("wfs"); got != domain.BackendOGR {
		t.Errorf("InferFromProvider(wfs) = %v, want ogr", got)
	}
}
