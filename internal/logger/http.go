package logger

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// SlowRequestThreshold marks requests that take longer as slow
var SlowRequestThreshold = 2 * time.Second

// ErrorHTTP5xx counts a server error response
func ErrorHTTP5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHTTP4xx counts a client error response
func WarnHTTP4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)
	if status == http.StatusNotFound {
		Total404Errors.Add(1)
	}
}

// WarnSlowRequest counts a slow request
func WarnSlowRequest() {
	SlowRequests.Add(1)
	TotalWarnings.Add(1)
}

// Middleware logs one line per request with its status and duration, and
// feeds the HTTP counters. Server errors log at error level, client errors at warn.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}

		if elapsed > SlowRequestThreshold {
			WarnSlowRequest()
			Logger.Warn("slow request", args...)
		}

		switch {
		case status >= 500:
			ErrorHTTP5xx()
			if shouldSample() {
				Logger.Error("request failed", args...)
			}
		case status >= 400:
			WarnHTTP4xx(status)
			if shouldSample() {
				Logger.Warn("request rejected", args...)
			}
		default:
			Logger.Debug("request served", args...)
		}
	})
}
