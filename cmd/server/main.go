package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/ledger-api/internal/auth"
	"github.com/ksred/ledger-api/internal/broker"
	"github.com/ksred/ledger-api/internal/config"
	"github.com/ksred/ledger-api/internal/database"
	"github.com/ksred/ledger-api/internal/events"
	"github.com/ksred/ledger-api/internal/idempotency"
	"github.com/ksred/ledger-api/internal/ledger"
	"github.com/ksred/ledger-api/internal/orchestrator"
	"github.com/ksred/ledger-api/internal/portfolio"
	"github.com/ksred/ledger-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the ledger API server with graceful shutdown
// support. It sets up all required services, database connections, and
// API routes.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN())
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	ledgerService, err := ledger.NewService(db, cfg.Ledger.CacheTTL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize ledger service")
	}
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	var publisher events.Publisher
	if cfg.Kafka.Enabled() {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		zlog.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Kafka event publishing enabled")
	}

	eventService := events.NewService(db, publisher, cfg.Ledger.RetentionYears)
	eventHandlers := events.NewGinHandlers(eventService)

	// The idempotency guard fails closed: with redis configured, a redis
	// outage rejects order placement rather than risking duplicates.
	var guard idempotency.Guard
	if cfg.Redis.Enabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		guard = idempotency.NewRedisGuard(redisClient, "ledger")
		zlog.Info().Str("addr", cfg.Redis.Addr).Msg("Redis idempotency guard enabled")
	} else {
		guard = idempotency.NewMemoryGuard()
		zlog.Warn().Msg("Using in-process idempotency guard, unsafe for multi-instance deployments")
	}

	// Create and start the reconciliation processor
	reconciliationProcessor := ledger.NewProcessor(ledgerService)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go reconciliationProcessor.Start(processorCtx)

	brokerClient := broker.NewBreakerClient(broker.NewSimulator(), cfg.Broker.CallTimeout)

	orchestratorService := orchestrator.NewService(
		ledgerService,
		eventService,
		guard,
		brokerClient,
		portfolio.AllowAll{},
		cfg.Idempotency.TTL,
	)
	orchestratorHandlers := orchestrator.NewGinHandlers(orchestratorService)

	// Setup middleware
	router.Use(middleware.Metrics())
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, ledgerHandlers, eventHandlers, orchestratorHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations time to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order routes: Protected by JWT authentication
// - Capital and event routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	eventHandlers *events.GinHandlers,
	orchestratorHandlers *orchestrator.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("", orchestratorHandlers.PlaceOrderHandler())
			orders.DELETE("/:order_id", orchestratorHandlers.CancelOrderHandler())
			orders.GET("/:order_id/events", eventHandlers.GetOrderEventsHandler())
			orders.GET("/:order_id/audit-trail", eventHandlers.GetAuditTrailHandler())
		}

		// Capital routes
		capital := v1.Group("/capital")
		capital.Use(middleware.JWTAuth(jwtSecret))
		{
			capital.POST("/portfolios", ledgerHandlers.RegisterPortfolioHandler())
			capital.POST("/reserve", ledgerHandlers.ReserveHandler())
			capital.POST("/allocate", ledgerHandlers.AllocateHandler())
			capital.POST("/release", ledgerHandlers.ReleaseHandler())
			capital.POST("/validate", ledgerHandlers.ValidateHandler())
			capital.GET("/:portfolio_id/available", ledgerHandlers.AvailableHandler())
			capital.GET("/:portfolio_id/summary", ledgerHandlers.SummaryHandler())
			capital.GET("/:portfolio_id/history", ledgerHandlers.HistoryHandler())
		}

		// Compliance and event routes
		eventsGroup := v1.Group("/events")
		eventsGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			eventsGroup.GET("/types", eventHandlers.ListEventTypesHandler())
			eventsGroup.GET("/statistics", eventHandlers.StatisticsHandler())
			eventsGroup.GET("/compliance-report", eventHandlers.ComplianceReportHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/execution/:order_id", orchestratorHandlers.RecordExecutionHandler())
			internal.POST("/events", eventHandlers.CreateEventHandler())
			internal.POST("/events/:event_id/processed", eventHandlers.MarkProcessedHandler())
			internal.POST("/reconciliations/:entry_id/start", ledgerHandlers.StartReconciliationHandler())
			internal.POST("/reconciliations/:entry_id/complete", ledgerHandlers.CompleteReconciliationHandler())
			internal.GET("/reconciliations", ledgerHandlers.ListReconciliationsHandler())
		}
	}
}
