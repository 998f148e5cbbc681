package api

import (
	"net/http"

	"github.com/okian/engage/internal/domain/model"
)

type createLeadRequest struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Phone     string `json:"phone"`
	MaxScore  int    `json:"max_score"`
}

// handleCreateLead handles POST /leads.
func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_lead"
	var req createLeadRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	lead, err := s.deps.CreateLead(r.Context(), model.Lead{
		ID:        req.ID,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Company:   req.Company,
		Phone:     req.Phone,
		MaxScore:  req.MaxScore,
	})
	if err != nil {
		s.writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

// handleGetLead handles GET /leads/{id}; id matches the lead id or email.
func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_lead"
	lead, err := s.deps.Lead(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// handleListEvents handles GET /leads/{id}/events?page=&limit=.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_events"
	page, limit, ok := pageParams(w, r, op)
	if !ok {
		return
	}
	res, err := s.deps.ListEvents(r.Context(), r.PathValue("id"), page, limit)
	if err != nil {
		s.writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleScoreHistory handles GET /leads/{id}/history?page=&limit=.
func (s *Server) handleScoreHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.score_history"
	page, limit, ok := pageParams(w, r, op)
	if !ok {
		return
	}
	res, err := s.deps.ScoreHistory(r.Context(), r.PathValue("id"), page, limit)
	if err != nil {
		s.writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// pageParams reads page and limit, writing a 400 on malformed values. Range
// checks are left to the service.
func pageParams(w http.ResponseWriter, r *http.Request, op string) (page, limit int, ok bool) {
	page, err := intQuery(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return 0, 0, false
	}
	limit, err = intQuery(r, "limit", defaultPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return 0, 0, false
	}
	return page, limit, true
}
