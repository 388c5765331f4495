package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/filtergeist/filtergeist/internal/mv"
)

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, details)
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleHistory returns the append-only subset history for one (project,
// layer) pair, most recent entry last — the same order internal/history.Log
// returns it in.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	project, layer := vars["project"], vars["layer"]

	entries, err := s.history.List(r.Context(), project, layer)
	if err != nil {
		s.logger.Error("history lookup failed", "error", err, "project", project, "layer", layer)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_uuid": project,
		"layer_id":     layer,
		"entries":      entries,
		"count":        len(entries),
	})
}

// handleCacheStats returns hit/miss/eviction counters for both C9 caches.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{}
	if s.geomCache != nil {
		resp["geometry_cache"] = s.geomCache.Metrics()
	}
	if s.exprCache != nil {
		resp["expression_cache"] = s.exprCache.Metrics()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleOrphanSweep triggers an immediate materialized-view orphan sweep,
// subject to the Collector's own 30-second rate limit.
func (s *Server) handleOrphanSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.gc.TriggerCollection(r.Context())
	if err != nil {
		if errors.Is(err, mv.ErrCollectionRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again in 30 seconds")
			return
		}
		s.logger.Error("orphan sweep failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "orphan sweep failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// handleDocs serves a minimal Swagger UI pointed at /openapi.json.
func (s *Server) handleDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerUIHTML))
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

const swaggerUIHTML = `<!DOCTYPE html>
<html>
<head>
  <title>filtergeist debug API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = () => {
      SwaggerUIBundle({ url: '/openapi.json', dom_id: '#swagger-ui' })
    }
  </script>
</body>
</html>`
