package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/filtergeist/filtergeist/internal/backend"
	"github.com/filtergeist/filtergeist/internal/config"
	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/health"
	"github.com/filtergeist/filtergeist/internal/history"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T) (*Server, history.Store) {
	t.Helper()
	store := history.NewLog()
	checker := health.New(backend.StaticAvailability{domain.BackendPostgreSQL: true}, []domain.Backend{domain.BackendPostgreSQL}, nil)
	s := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, Dependencies{
		History: store,
		Health:  checker,
	}, discardLogger())
	return s, store
}

func TestHandleHealthReturnsOKWhenReady(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var details health.Details
	if err := json.NewDecoder(rr.Body).Decode(&details); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !details.Ready {
		t.Error("expected ready=true")
	}
}

func TestHandleLivenessAlwaysOK(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestHandleReadinessReflectsBackendAvailability(t *testing.T) {
	checker := health.New(backend.StaticAvailability{}, []domain.Backend{domain.BackendPostgreSQL}, nil)
	s := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, Dependencies{
		History: history.NewLog(),
		Health:  checker,
	}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleHistoryReturnsAppendedEntries(t *testing.T) {
	s, store := testServer(t)

	entry := domain.HistoryEntry{
		ProjectUUID:  "proj-1",
		LayerID:      "layer-1",
		SubsetString: `"fid" IN (1,2,3)`,
		Timestamp:    time.Now(),
	}
	if err := store.Append(context.Background(), entry); err != nil {
		t.Fatalf("seeding history: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/history/proj-1/layer-1", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body struct {
		Count   int                    `json:"count"`
		Entries []domain.HistoryEntry `json:"entries"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("count = %d, want 1", body.Count)
	}
	if len(body.Entries) != 1 || body.Entries[0].SubsetString != entry.SubsetString {
		t.Errorf("entries = %+v, want one entry matching %+v", body.Entries, entry)
	}
}

func TestHandleHistoryReturnsEmptyForUnknownLayer(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/history/nope/nope", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestHandleCacheStatsWithNoCachesConfigured(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/cache-stats", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("expected empty cache stats body, got %v", body)
	}
}

func TestHandleOrphanSweepRouteAbsentWithoutCollector(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/debug/orphan-sweep", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d (route should not be registered without a collector)", rr.Code, http.StatusNotFound)
	}
}

func TestHandleOpenAPIServesSpec(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", rr.Header().Get("Content-Type"))
	}
}
