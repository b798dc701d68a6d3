package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vaidashi/quote-service/internal/config"
	"github.com/vaidashi/quote-service/pkg/circuitbreaker"
	"github.com/vaidashi/quote-service/pkg/logger"
	"github.com/vaidashi/quote-service/pkg/metrics"
	"github.com/vaidashi/quote-service/pkg/middleware"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

// Deps are the collaborators the HTTP layer is built on
type Deps struct {
	Quotes      QuoteService
	Shipping    ShippingService
	Orders      OrderService
	DeadLetters DeadLetterStore
	DB          Pinger
	// Breakers guarding outbound calls, exposed on the ops endpoints
	Breakers []*circuitbreaker.CircuitBreaker
	Metrics  *metrics.ServerMetrics
	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
}

type Server struct {
	config              *config.Config
	logger              logger.Logger
	router              *mux.Router
	httpServer          *http.Server
	validate            *validator.Validate
	quotes              QuoteService
	shipping            ShippingService
	orders              OrderService
	dlqRepo             DeadLetterStore
	db                  Pinger
	breakers            map[string]*circuitbreaker.CircuitBreaker
	serverMetrics       *metrics.ServerMetrics
	metricsHandler      http.Handler
	rateLimiter         *middleware.RateLimiterMiddleware
	endpointRateLimiter *middleware.EndpointRateLimiterMiddleware
	gracefulDegradation *middleware.GracefulDegradation
}

// NewServer creates a new API server with the given configuration and dependencies.
func NewServer(cfg *config.Config, deps Deps, logger logger.Logger) *Server {
	r := mux.NewRouter()

	rateLimiter := middleware.NewRateLimiterMiddleware(&middleware.RateLimiterConfig{
		GlobalMaxTokens:  500,
		GlobalRefillRate: 250,
		IPMaxTokens:      cfg.RateLimit.IPTokens,
		IPRefillRate:     cfg.RateLimit.IPRefill,
	}, logger)

	endpointRateLimiter := middleware.NewEndpointRateLimiterMiddleware(100, 50, logger)
	// Creation fans out to several host calls
	endpointRateLimiter.SetLimit(http.MethodPost+":/store/customers/quotes", 20, 5)
	endpointRateLimiter.SetLimit(http.MethodPost+":/admin/quotes", 20, 5)

	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(deps.Breakers))
	for _, b := range deps.Breakers {
		breakers[b.Name()] = b
	}

	metricsHandler := metrics.Handler()
	if deps.Gatherer != nil {
		metricsHandler = metrics.HandlerFor(deps.Gatherer)
	}

	server := &Server{
		config: cfg,
		logger: logger,
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		validate:            newValidator(),
		quotes:              deps.Quotes,
		shipping:            deps.Shipping,
		orders:              deps.Orders,
		dlqRepo:             deps.DeadLetters,
		db:                  deps.DB,
		breakers:            breakers,
		serverMetrics:       deps.Metrics,
		metricsHandler:      metricsHandler,
		rateLimiter:         rateLimiter,
		endpointRateLimiter: endpointRateLimiter,
		// Ops endpoints stay reachable while the service sheds load
		gracefulDegradation: middleware.NewGracefulDegradation(logger, "/health", "/metrics", "/admin/ops"),
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	if s.serverMetrics != nil {
		s.router.Use(middleware.Metrics(s.serverMetrics))
	}
	s.router.Use(s.rateLimiter.Middleware)
	s.router.Use(s.endpointRateLimiter.Middleware)
	s.router.Use(s.gracefulDegradation.Middleware)

	s.router.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metricsHandler).Methods(http.MethodGet)

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/quotes", s.listQuotesHandler).Methods(http.MethodGet)
	admin.HandleFunc("/quotes", s.createQuoteHandler).Methods(http.MethodPost)
	admin.HandleFunc("/quotes/{id}", s.getQuoteHandler).Methods(http.MethodGet)
	admin.HandleFunc("/quotes/{id}/send", s.sendQuoteHandler).Methods(http.MethodPost)
	admin.HandleFunc("/quotes/{id}/reject", s.rejectQuoteHandler).Methods(http.MethodPost)
	admin.HandleFunc("/quotes/{id}/update", s.updateQuoteHandler).Methods(http.MethodPost)
	admin.HandleFunc("/quotes/{id}/items/{item_id}", s.updateQuoteItemHandler).Methods(http.MethodPost)

	ops := admin.PathPrefix("/ops").Subrouter()
	ops.HandleFunc("/dead-letters", s.getDeadLettersHandler).Methods(http.MethodGet)
	ops.HandleFunc("/dead-letters/{id}", s.getDeadLetterHandler).Methods(http.MethodGet)
	ops.HandleFunc("/dead-letters/{id}/retry", s.retryDeadLetterHandler).Methods(http.MethodPost)
	ops.HandleFunc("/dead-letters/{id}/discard", s.discardDeadLetterHandler).Methods(http.MethodPost)
	ops.HandleFunc("/circuit-breakers", s.getCircuitBreakerStatusHandler).Methods(http.MethodGet)
	ops.HandleFunc("/circuit-breakers/{name}/reset", s.resetCircuitBreakerHandler).Methods(http.MethodPost)
	ops.HandleFunc("/rate-limits", s.getRateLimitsHandler).Methods(http.MethodGet)
	ops.HandleFunc("/rate-limits", s.setEndpointRateLimitHandler).Methods(http.MethodPost)

	store := s.router.PathPrefix("/store").Subrouter()
	store.HandleFunc("/customers/quotes", s.requestQuoteHandler).Methods(http.MethodPost)
	store.HandleFunc("/customers/me/quotes", s.listCustomerQuotesHandler).Methods(http.MethodGet)
	store.HandleFunc("/customers/me/quotes/{id}", s.getCustomerQuoteHandler).Methods(http.MethodGet)
	store.HandleFunc("/customers/me/quotes/{id}/reject", s.customerRejectQuoteHandler).Methods(http.MethodPost)
	store.HandleFunc("/custom/order/{id}", s.updateDraftOrderHandler).Methods(http.MethodPost)
	store.HandleFunc("/custom/order/{id}/shipping-methods", s.replaceShippingMethodHandler).Methods(http.MethodPost)
	store.HandleFunc("/custom/order/{id}/payment", s.paymentCollectionHandler).Methods(http.MethodPost)
	store.HandleFunc("/custom/order/{id}/authorized-payment", s.authorizePaymentHandler).Methods(http.MethodPost)
}

// Middleware for logging requests. Every request gets an id, echoed back in
// the response and attached to the request-scoped logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		reqLogger := s.logger.With("requestID", requestID)
		rec := middleware.NewStatusRecorder(w)

		next.ServeHTTP(rec, r.WithContext(logger.WithContext(r.Context(), reqLogger)))

		reqLogger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.Status(),
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}

// log returns the request-scoped logger
func (s *Server) log(r *http.Request) logger.Logger {
	return logger.FromContext(r.Context(), s.logger)
}
