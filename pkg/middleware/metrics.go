package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vaidashi/quote-service/pkg/metrics"
)

// Metrics records request counts and latency per route template
func Metrics(m *metrics.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := NewStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := RouteTemplate(r)
			m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.Status())).Inc()
			m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}
