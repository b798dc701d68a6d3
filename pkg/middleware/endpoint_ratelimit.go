package middleware

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/vaidashi/quote-service/pkg/logger"
	"github.com/vaidashi/quote-service/pkg/ratelimit"
)

// EndpointRateLimiterMiddleware provides per-route rate limiting. Routes are keyed
// by method and mux path template, so /admin/quotes/{id}/send is one bucket.
type EndpointRateLimiterMiddleware struct {
	limiters      map[string]*ratelimit.TokenBucket
	mu            sync.RWMutex
	defaultTokens float64
	defaultRate   float64
	logger        logger.Logger
}

// NewEndpointRateLimiterMiddleware creates a new EndpointRateLimiterMiddleware
func NewEndpointRateLimiterMiddleware(defaultTokens, defaultRate float64, logger logger.Logger) *EndpointRateLimiterMiddleware {
	return &EndpointRateLimiterMiddleware{
		limiters:      make(map[string]*ratelimit.TokenBucket),
		defaultTokens: defaultTokens,
		defaultRate:   defaultRate,
		logger:        logger,
	}
}

// SetLimit sets the rate limit for a specific endpoint key ("POST:/admin/quotes")
func (m *EndpointRateLimiterMiddleware) SetLimit(endpoint string, maxTokens, refillRate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.limiters[endpoint] = ratelimit.NewTokenBucket(maxTokens, refillRate)
}

func (m *EndpointRateLimiterMiddleware) getLimiter(endpoint string) *ratelimit.TokenBucket {
	m.mu.RLock()
	limiter, exists := m.limiters[endpoint]
	m.mu.RUnlock()

	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists = m.limiters[endpoint]; exists {
		return limiter
	}

	limiter = ratelimit.NewTokenBucket(m.defaultTokens, m.defaultRate)
	m.limiters[endpoint] = limiter
	return limiter
}

// Middleware must be installed on a mux router so the route template is resolved
func (m *EndpointRateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + ":" + RouteTemplate(r)

		if !m.getLimiter(endpoint).Allow() {
			m.logger.Warn("Endpoint rate limit exceeded",
				"endpoint", endpoint,
				"path", r.URL.Path)
			writeLimited(w, "5", "Endpoint rate limit exceeded. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetAllLimits returns all configured endpoint limits
func (m *EndpointRateLimiterMiddleware) GetAllLimits() map[string]map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]map[string]float64)

	for endpoint, limiter := range m.limiters {
		result[endpoint] = map[string]float64{
			"max_tokens":  limiter.MaxTokens(),
			"refill_rate": limiter.RefillRate(),
			"available":   limiter.Available(),
		}
	}

	return result
}

// RouteTemplate returns the mux path template of the matched route, or the raw path
func RouteTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
