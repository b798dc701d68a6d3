package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vaidashi/quote-service/internal/api"
	"github.com/vaidashi/quote-service/internal/clients"
	"github.com/vaidashi/quote-service/internal/config"
	"github.com/vaidashi/quote-service/internal/database"
	"github.com/vaidashi/quote-service/internal/handlers"
	"github.com/vaidashi/quote-service/internal/idempotency"
	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/internal/outbox"
	"github.com/vaidashi/quote-service/internal/repository"
	"github.com/vaidashi/quote-service/internal/service"
	"github.com/vaidashi/quote-service/pkg/circuitbreaker"
	"github.com/vaidashi/quote-service/pkg/kafka"
	"github.com/vaidashi/quote-service/pkg/logger"
	"github.com/vaidashi/quote-service/pkg/metrics"
	"github.com/vaidashi/quote-service/pkg/rabbitmq"
	"github.com/vaidashi/quote-service/pkg/retry"
)

var quoteEvents = []string{
	models.EventQuoteCreated,
	models.EventQuoteSent,
	models.EventQuoteRejected,
	models.EventQuoteValidityUpdated,
}

func main() {
	cfg, err := config.Load()

	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.NewLogger(cfg.LogLevel, cfg.Env)
	l.Info("Starting quote service...", "env", cfg.Env, "eventBroker", cfg.EventBroker)

	if err := run(cfg, l); err != nil {
		l.Error("Quote service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, l logger.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	workflowMetrics := metrics.NewWorkflowMetrics(registry)

	db, err := database.New(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.GetDBURL()); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	// Repositories
	dlqRepo := repository.NewDeadLetterRepository(db, l)
	outboxRepo := repository.NewOutboxRepository(db, dlqRepo, l)
	quoteRepo := repository.NewQuoteRepository(db, outboxRepo, l)
	summaryRepo := repository.NewOrderSummaryRepository(db, l)

	// Idempotency keys; creation still works without Redis, just without deduplication
	rdb := idempotency.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		l.Warn("Redis unreachable at startup", "error", err, "addr", cfg.Redis.Addr)
	}
	cancel()
	idemStore := idempotency.NewStore(rdb, cfg.Redis.IdempotencyTTL, l)

	commerceBreaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		Name:             "commerce",
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 2,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			l.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			workflowMetrics.SetBreakerState(name, int(to))
		},
	})
	commerce := clients.NewCommerceClient(clients.CommerceClientConfig{
		BaseURL:  cfg.Commerce.BaseURL,
		APIToken: cfg.Commerce.APIToken,
		Timeout:  cfg.Commerce.Timeout,
		Breaker:  commerceBreaker,
		Metrics:  workflowMetrics,
	}, l.With("component", "commerce"))

	// Services
	quoteService := service.NewQuoteService(quoteRepo, outboxRepo, summaryRepo, commerce, idemStore, workflowMetrics, l)
	shippingService := service.NewShippingService(quoteRepo, summaryRepo, commerce, workflowMetrics, l)
	orderService := service.NewOrderService(quoteRepo, commerce, workflowMetrics, l)

	// Outbox publishing
	publisher, closePublisher, err := newPublisher(cfg, l)
	if err != nil {
		return err
	}
	defer closePublisher()

	outboxProcessor := outbox.NewProcessor(outboxRepo, outbox.ProcessorConfig{
		PollingInterval: cfg.Outbox.PollInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
		DeliveryTimeout: cfg.Outbox.DeliveryTimeout,
		ProcessingLease: cfg.Outbox.ProcessingLease,
	}, workflowMetrics, l.With("component", "outbox"))

	deadLetterProcessor := outbox.NewDeadLetterProcessor(dlqRepo, &outbox.DeadLetterProcessorConfig{
		PollingInterval: 6 * cfg.Outbox.PollInterval,
		BatchSize:       5,
		MaxRetries:      5,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: 1 * time.Second,
			MaxInterval:     2 * time.Minute,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	}, workflowMetrics, l.With("component", "dead-letters"))

	for _, eventType := range quoteEvents {
		outboxProcessor.RegisterHandler(eventType, publisher)
		deadLetterProcessor.RegisterHandler(eventType, publisher)
	}

	outboxProcessor.Start()
	defer outboxProcessor.Stop()
	deadLetterProcessor.Start()
	defer deadLetterProcessor.Stop()

	// Downstream notifications for sent and rejected quotes
	if cfg.EventBroker == "kafka" {
		consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topics:        []string{cfg.Kafka.QuotesTopic},
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
			MaxAttempts:   3,
			RetryDelay:    time.Second,
		}, l.With("component", "consumer"))
		if err != nil {
			return fmt.Errorf("failed to create Kafka consumer: %w", err)
		}

		eventsHandler := handlers.NewQuoteEventsHandler(handlers.NewLogNotifier(l), l)
		consumer.RegisterHandler(cfg.Kafka.QuotesTopic, eventsHandler)

		if err := consumer.Start(); err != nil {
			// Publishing does not depend on the consumer
			l.Error("Failed to start Kafka consumer", "error", err)
		} else {
			defer func() {
				if err := consumer.Stop(); err != nil {
					l.Error("Error stopping Kafka consumer", "error", err)
				}
			}()
		}
	}

	server := api.NewServer(cfg, api.Deps{
		Quotes:      quoteService,
		Shipping:    shippingService,
		Orders:      orderService,
		DeadLetters: dlqRepo,
		DB:          db,
		Breakers:    []*circuitbreaker.CircuitBreaker{commerce.Breaker()},
		Metrics:     metrics.NewServerMetrics(registry, "api"),
		Gatherer:    registry,
	}, l)

	serverErr := make(chan error, 1)
	go func() {
		l.Info(fmt.Sprintf("Server is starting on port %d", cfg.Port))

		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown via interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}
	l.Info("Shutting down server...")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
	} else {
		l.Info("Server exiting")
	}

	return nil
}

// newPublisher builds the outbox handler for the configured broker and the
// function that releases its connection
func newPublisher(cfg *config.Config, l logger.Logger) (outbox.MessageHandler, func(), error) {
	switch cfg.EventBroker {
	case "kafka":
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, l)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		return outbox.NewKafkaHandler(producer, cfg.Kafka.QuotesTopic, l), func() {
			if err := producer.Close(); err != nil {
				l.Error("Error closing Kafka producer", "error", err)
			}
		}, nil

	case "rabbitmq":
		publisher, err := rabbitmq.NewPublisher(rabbitmq.Config{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
		}, l)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create RabbitMQ publisher: %w", err)
		}
		return outbox.NewAMQPHandler(publisher, l), func() {
			if err := publisher.Close(); err != nil {
				l.Error("Error closing RabbitMQ publisher", "error", err)
			}
		}, nil

	default:
		l.Warn("No event broker configured, quote events are only logged")
		return outbox.NewLoggingHandler(l), func() {}, nil
	}
}
