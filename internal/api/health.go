package api

import (
	"net/http"

	"github.com/h2oai/h2o-3-sub001/internal/orchestrator"
)

// healthResponse reports liveness of the status server and, when a run is
// attached, the phase it is in.
type healthResponse struct {
	Status string             `json:"status"`
	RunID  string             `json:"run_id,omitempty"`
	Phase  orchestrator.Phase `json:"phase,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.status != nil {
		st := s.status.Snapshot()
		resp.RunID = st.RunID
		resp.Phase = st.Phase
	}
	s.writeJSON(w, http.StatusOK, resp)
}
