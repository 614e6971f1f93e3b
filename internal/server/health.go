package server

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth implements GET /health (spec §6): unauthenticated liveness
// probe, always 200 once the process is serving.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Version:   s.deps.Version,
		Timestamp: time.Now().UTC(),
	})
}

type proxyStatusResponse struct {
	Status      string `json:"status"`
	Credentials int    `json:"credentials"`
	Available   int    `json:"available"`
}

// handleProxyStatus implements GET /api/proxy/status (spec §6): public,
// unauthenticated summary of pool capacity.
func (s *server) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	snaps := s.deps.Pool.Diagnostics()
	available := 0
	for _, sn := range snaps {
		if sn.Available {
			available++
		}
	}
	writeJSON(w, http.StatusOK, proxyStatusResponse{
		Status:      "ok",
		Credentials: len(snaps),
		Available:   available,
	})
}

// handleProxyHealth implements GET /api/proxy/health (spec §6): reports
// degraded when no credential is currently available to serve a request.
func (s *server) handleProxyHealth(w http.ResponseWriter, r *http.Request) {
	snaps := s.deps.Pool.Diagnostics()
	for _, sn := range snaps {
		if sn.Available {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
}
