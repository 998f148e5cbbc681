package api

import (
	"net/http"

	"github.com/okian/engage/internal/domain/model"
)

type updateRuleRequest struct {
	Points      *int    `json:"points"`
	Enabled     *bool   `json:"enabled"`
	Description *string `json:"description"`
}

// handleListRules handles GET /scoring-rules.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_rules"
	rules, err := s.deps.Rules(r.Context())
	if err != nil {
		s.writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// handleUpdateRule handles PUT /scoring-rules/{type}. Omitted fields keep
// their current value; a new rule defaults to enabled.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_rule"
	var req updateRuleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	et := model.EventType(r.PathValue("type"))
	rule := model.ScoringRule{EventType: et, Enabled: true}
	current, err := s.deps.Rules(r.Context())
	if err != nil {
		s.writeFailure(w, r, op, err)
		return
	}
	for _, c := range current {
		if c.EventType == et {
			rule = c
			break
		}
	}
	if req.Points != nil {
		rule.Points = *req.Points
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}

	saved, err := s.deps.UpdateRule(r.Context(), rule)
	if err != nil {
		s.writeFailure(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
