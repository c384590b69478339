package httpapi

import "net/http"

// handlePerfLatency reports rolling p50/p95 per turn stage. Pass reset=1
// to clear the window after reading, for before/after comparisons.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	snapshot := s.metrics.SnapshotTurnStages()
	if r.URL.Query().Get("reset") == "1" {
		s.metrics.ResetTurnStages()
	}
	respondJSON(w, http.StatusOK, snapshot)
}
