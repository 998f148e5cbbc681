// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	service "github.com/okian/engage/internal/app"
	"github.com/okian/engage/internal/adapters/repository"
	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/internal/domain/scoring"
	"github.com/okian/engage/internal/domain/types"
	"github.com/okian/engage/pkg/logger"
	"github.com/okian/engage/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultMaxBatchSize = 1000
	defaultPageLimit    = 20
	defaultTopN         = 10
	// maxBodyBytes bounds request bodies, batches included.
	maxBodyBytes = 10 << 20
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	SubmitEvent(ctx context.Context, in model.EventInput) (types.SubmitResult, error)
	SubmitEventBatch(ctx context.Context, inputs []model.EventInput) types.BatchResult

	CreateLead(ctx context.Context, lead model.Lead) (model.Lead, error)
	Lead(ctx context.Context, identifier string) (model.Lead, error)
	ListEvents(ctx context.Context, leadID string, page, limit int) (types.EventPage, error)
	ScoreHistory(ctx context.Context, leadID string, page, limit int) (types.HistoryPage, error)
	Leaderboard(ctx context.Context, n int) ([]types.Entry, error)

	Rules(ctx context.Context) ([]model.ScoringRule, error)
	UpdateRule(ctx context.Context, rule model.ScoringRule) (model.ScoringRule, error)
	FailedJobs(ctx context.Context, limit int) ([]model.Job, error)

	GetStats(ctx context.Context) map[string]any
	Ready(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps         Dependencies
	maxBatchSize int
	ws           http.Handler
	logger       logger.Logger
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:         deps,
		maxBatchSize: defaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, MetricsMiddleware(h, endpoint))
	}

	route("POST /events", "events", s.handlePostEvent)
	route("POST /webhooks/events", "webhook_events", s.handlePostEvent)
	route("POST /events/batch", "events_batch", s.handlePostBatch)

	route("POST /leads", "leads", s.handleCreateLead)
	route("GET /leads/{id}", "lead", s.handleGetLead)
	route("GET /leads/{id}/events", "lead_events", s.handleListEvents)
	route("GET /leads/{id}/history", "lead_history", s.handleScoreHistory)
	route("GET /leaderboard", "leaderboard", s.handleLeaderboard)

	route("GET /scoring-rules", "scoring_rules", s.handleListRules)
	route("PUT /scoring-rules/{type}", "scoring_rule", s.handleUpdateRule)
	route("GET /jobs/failed", "failed_jobs", s.handleFailedJobs)

	route("GET /stats", "stats", s.handleStats)
	route("GET /healthz", "healthz", s.handleHealth)
	route("GET /readyz", "readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	if s.ws != nil {
		mux.Handle("GET /ws", s.ws)
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	if rw, ok := w.(*responseWriter); ok {
		rw.errorCode = code
	}
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps a dependency error onto a status code.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidEvent),
		errors.Is(err, service.ErrInvalidLead),
		errors.Is(err, service.ErrInvalidPagination),
		errors.Is(err, scoring.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, repository.ErrLeadNotFound), errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, repository.ErrLeadExists):
		writeError(w, http.StatusConflict, "conflict", Wrap(op, err))
	case errors.Is(err, service.ErrEnqueue), errors.Is(err, service.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "unavailable", Wrap(op, err))
	default:
		s.logger.Error(r.Context(), "request failed",
			logger.String("op", op),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", NewKind(op, errors.New("internal error")))
	}
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// intQuery parses an integer query parameter, falling back to def when it is absent.
func intQuery(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}
