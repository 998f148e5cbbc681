package api

import "net/http"

const defaultFailedJobs = 50

// handleFailedJobs handles GET /jobs/failed?limit=N.
func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	const op = "api.failed_jobs"
	limit, err := intQuery(r, "limit", defaultFailedJobs)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	jobs, err := s.deps.FailedJobs(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}
