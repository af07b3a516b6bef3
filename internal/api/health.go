package api

import (
	"net/http"
	"time"
)

type healthBody struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version,omitempty"`
}

// handleHealth reports overall adapter health with uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthBody{
		Status: "ok",
		Uptime: time.Since(s.startTime).String(),
	})
}

// handleLiveness is a bare liveness probe: if the process can answer, it
// is live. No dependency checks.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthBody{Status: "ok"})
}

// handleReadiness reports readiness to serve traffic. A degraded cache
// still serves foreground requests (it just downgrades to no-cache), so
// this is a readiness signal for load balancers, not a hard dependency
// check.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.ReadinessCheck != nil && !s.ReadinessCheck(r.Context()) {
		respondJSON(w, http.StatusServiceUnavailable, healthBody{Status: "not ready"})
		return
	}
	respondJSON(w, http.StatusOK, healthBody{Status: "ready"})
}
