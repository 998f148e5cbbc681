package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/engage/pkg/metrics"
)

// Error severities attached to http_errors_total.
const (
	severityHigh   = "high"
	severityMedium = "medium"
	severityLow    = "low"
)

// MetricsMiddleware wraps an endpoint to record request counts, latency and
// error responses by API error code.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status and error code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Milliseconds())
		statusCodeStr := strconv.Itoa(wrapped.statusCode)
		metrics.RecordHTTPRequest(endpoint, r.Method, statusCodeStr)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, statusCodeStr, durationMs)

		if wrapped.statusCode >= http.StatusBadRequest {
			metrics.RecordHTTPError(endpoint, r.Method, errorCode(wrapped), errorSeverity(wrapped.statusCode))
		}
	}
}

// errorCode is the code written by writeError, or a status class when the
// response did not go through it.
func errorCode(rw *responseWriter) string {
	switch {
	case rw.errorCode != "":
		return rw.errorCode
	case rw.statusCode >= http.StatusInternalServerError:
		return "server_error"
	default:
		return "client_error"
	}
}

// errorSeverity ranks an error status. Missing leads and lead conflicts are
// routine for callers; an unavailable queue or store is not.
func errorSeverity(statusCode int) string {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return severityHigh
	case statusCode == http.StatusNotFound, statusCode == http.StatusConflict:
		return severityLow
	default:
		return severityMedium
	}
}

// responseWriter wraps http.ResponseWriter to capture the status and the API
// error code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	errorCode  string
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}
