package api

import (
	"net/http"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no run in progress")
		return
	}
	s.writeJSON(w, http.StatusOK, s.status.Snapshot())
}
