package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/engage/internal/domain/model"
)

type ackResponse struct {
	Status    string       `json:"status"`
	Duplicate bool         `json:"duplicate"`
	Event     *model.Event `json:"event,omitempty"`
}

type batchRequest struct {
	Events []model.EventInput `json:"events"`
}

// handlePostEvent handles POST /events and POST /webhooks/events. New events
// are acknowledged with 202; duplicates with 200.
func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	var in model.EventInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := s.deps.SubmitEvent(r.Context(), in)
	if err != nil {
		s.writeFailure(w, r, op, err)
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Event: res.Event})
}

// handlePostBatch handles POST /events/batch. The body is either
// {"events": [...]} or a bare array.
func (s *Server) handlePostBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_batch"
	var raw rawBatch
	if err := decode(w, r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	events := raw.events()
	switch {
	case len(events) == 0:
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("events must be a non-empty array")))
		return
	case len(events) > s.maxBatchSize:
		writeError(w, http.StatusRequestEntityTooLarge, "batch_too_large",
			WrapKind(op, ErrBatchTooLarge, fmt.Errorf("%d events exceeds the limit of %d", len(events), s.maxBatchSize)))
		return
	}

	writeJSON(w, http.StatusOK, s.deps.SubmitEventBatch(r.Context(), events))
}

// rawBatch accepts both batch body shapes.
type rawBatch struct {
	wrapped batchRequest
	bare    []model.EventInput
}

func (b *rawBatch) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(data, &b.bare)
	}
	return json.Unmarshal(data, &b.wrapped)
}

func (b rawBatch) events() []model.EventInput {
	if b.bare != nil {
		return b.bare
	}
	return b.wrapped.Events
}
