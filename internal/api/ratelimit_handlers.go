package api

import (
	"net/http"
)

// getRateLimitsHandler returns the current rate limit settings and metrics
func (s *Server) getRateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"global_metrics":  s.rateLimiter.GetMetrics(),
		"endpoint_limits": s.endpointRateLimiter.GetAllLimits(),
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response})
}

// setEndpointRateLimitHandler sets the bucket for one endpoint, keyed as
// "METHOD:/route/{template}"
func (s *Server) setEndpointRateLimitHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint   string  `json:"endpoint" validate:"required"`
		MaxTokens  float64 `json:"max_tokens" validate:"gt=0"`
		RefillRate float64 `json:"refill_rate" validate:"gt=0"`
	}
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	s.endpointRateLimiter.SetLimit(req.Endpoint, req.MaxTokens, req.RefillRate)

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"message":     "Rate limit updated successfully",
			"endpoint":    req.Endpoint,
			"max_tokens":  req.MaxTokens,
			"refill_rate": req.RefillRate,
		},
	})
}
