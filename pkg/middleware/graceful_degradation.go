package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/vaidashi/quote-service/pkg/circuitbreaker"
	"github.com/vaidashi/quote-service/pkg/logger"
)

// GracefulDegradation sheds non-essential traffic while the service keeps failing
type GracefulDegradation struct {
	breaker           *circuitbreaker.CircuitBreaker
	essentialPrefixes []string
	logger            logger.Logger
}

// NewGracefulDegradation creates a new graceful degradation middleware. Requests whose
// path starts with one of essentialPrefixes are never rejected.
func NewGracefulDegradation(logger logger.Logger, essentialPrefixes ...string) *GracefulDegradation {
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		Name:             "http",
		FailureThreshold: 10,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 5,
	})

	return &GracefulDegradation{
		breaker:           breaker,
		essentialPrefixes: essentialPrefixes,
		logger:            logger,
	}
}

// Middleware returns a middleware function
func (gd *GracefulDegradation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		essential := gd.isEssential(r.URL.Path)

		if !essential && !gd.breaker.Allow() {
			gd.logger.Warn("Circuit is open, request rejected",
				"path", r.URL.Path,
				"method", r.Method,
				"state", gd.breaker.GetState().String())

			w.Header().Set("Retry-After", "30")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"success":false,"error":"Service is temporarily unavailable. Please try again later."}`))
			return
		}

		wrapped := NewStatusRecorder(w)
		next.ServeHTTP(wrapped, r)

		if essential {
			return
		}
		if wrapped.Status() >= 500 {
			gd.breaker.Failure()
		} else if wrapped.Status() < 400 {
			gd.breaker.Success()
		}
	})
}

func (gd *GracefulDegradation) isEssential(path string) bool {
	for _, prefix := range gd.essentialPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// GetMetrics returns metrics about the circuit breaker
func (gd *GracefulDegradation) GetMetrics() map[string]interface{} {
	return gd.breaker.GetMetrics()
}

// Reset resets the circuit breaker
func (gd *GracefulDegradation) Reset() {
	gd.breaker.Reset()
}

// StatusRecorder wraps http.ResponseWriter and captures the status code
type StatusRecorder struct {
	http.ResponseWriter
	status int
}

// NewStatusRecorder creates a StatusRecorder defaulting to 200
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	if rec, ok := w.(*StatusRecorder); ok {
		return rec
	}
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader captures the status code and passes it on
func (s *StatusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Status returns the recorded status code
func (s *StatusRecorder) Status() int {
	return s.status
}
