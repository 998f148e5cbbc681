package api

import (
	"net/http"

	"github.com/okian/engage/pkg/logger"
)

// Option configures a Server.
type Option func(*Server)

// WithMaxBatchSize caps the number of events accepted by POST /events/batch.
func WithMaxBatchSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithWebSocket mounts h at GET /ws.
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) {
		s.ws = h
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
