package middleware

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/metrics"
)

// Metrics returns middleware that records request counts and latencies by
// route pattern, so /api/markets/1 and /api/markets/2 share a series.
func Metrics(m *metrics.SettlerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)
			m.RecordHTTP(r.Method, routePattern(r), rw.status, time.Since(start))
		})
	}
}

// routePattern returns the ServeMux pattern that matched r without the
// method prefix.
func routePattern(r *http.Request) string {
	p := r.Pattern
	for i := 0; i < len(p); i++ {
		if p[i] == ' ' {
			return p[i+1:]
		}
	}
	return p
}
