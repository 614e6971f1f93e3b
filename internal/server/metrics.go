package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// statusText caches status-code->string conversions so the metrics
// middleware never allocates on the hot path.
var statusText [600]string

func init() {
	for i := range statusText {
		statusText[i] = strconv.Itoa(i)
	}
}

// metricsMiddleware records request count, duration, and in-flight gauge
// for every request (spec §5 observability surface).
func (s *server) metricsMiddleware(next http.Handler) http.Handler {
	m := s.deps.Metrics
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false

		next.ServeHTTP(sw, r)

		pattern := routePattern(r)
		status := sw.status
		if status < 0 || status >= len(statusText) {
			status = 0
		}
		m.RequestsTotal.WithLabelValues(r.Method, pattern, statusText[status]).Inc()
		m.RequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())

		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)
	})
}

// routePattern returns the matched chi route pattern, falling back to the
// raw path when no route context is present (e.g. a 404).
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}
