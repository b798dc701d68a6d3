package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// httpBreaker names the breaker behind graceful degradation
const httpBreaker = "http"

// getCircuitBreakerStatusHandler returns the state of every circuit breaker
func (s *Server) getCircuitBreakerStatusHandler(w http.ResponseWriter, r *http.Request) {
	states := map[string]interface{}{
		httpBreaker: s.gracefulDegradation.GetMetrics(),
	}
	for name, b := range s.breakers {
		states[name] = b.GetMetrics()
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: states})
}

// resetCircuitBreakerHandler forces a circuit breaker back to closed
func (s *Server) resetCircuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if name == httpBreaker {
		s.gracefulDegradation.Reset()
	} else if b, ok := s.breakers[name]; ok {
		b.Reset()
	} else {
		s.respondWithError(w, http.StatusNotFound, "Unknown circuit breaker")
		return
	}

	s.log(r).Warn("Circuit breaker reset by operator", "breaker", name)
	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Circuit breaker reset successfully",
			"breaker": name,
		},
	})
}
