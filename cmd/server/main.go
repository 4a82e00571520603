package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/archive"
	"github.com/tripmarket/settlement-backend/internal/clock"
	"github.com/tripmarket/settlement-backend/internal/config"
	"github.com/tripmarket/settlement-backend/internal/database"
	"github.com/tripmarket/settlement-backend/internal/metrics"
	"github.com/tripmarket/settlement-backend/internal/services"
	"github.com/tripmarket/settlement-backend/migrations"
	"github.com/tripmarket/settlement-backend/pkg/jwt"
	"github.com/tripmarket/settlement-backend/pkg/mq"
	"github.com/tripmarket/settlement-backend/pkg/tracing"
	"github.com/tripmarket/settlement-backend/pkg/validator"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting booking settlement backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ctx := context.Background()

	// Tracing
	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
		Environment: cfg.Server.Environment,
	})
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Schema
	if cfg.Database.AutoMigrate {
		logger.Info("Applying database migrations...")
		if err := migrations.ApplyURL(ctx, cfg.Database.URL, logger); err != nil {
			logger.Fatalf("Failed to apply migrations: %v", err)
		}
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Metrics.Namespace, registry)
	}

	// Optional event publisher. Left as a nil interface when disabled.
	var publisher services.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		p, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.Tracing.ServiceName)
		if err != nil {
			logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer p.Close()
		publisher = p
		logger.WithField("exchange", cfg.RabbitMQ.Exchange).Info("Domain event publishing enabled")
	}

	// Optional raw payload archive
	var archiver services.WebhookArchiver
	if cfg.Mongo.URI != "" {
		client, err := archive.NewMongoClient(ctx, cfg.Mongo.URI, cfg.Mongo.Username, cfg.Mongo.Password)
		if err != nil {
			logger.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer client.Disconnect(context.Background())

		a := archive.NewWebhookArchive(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection), cfg.Mongo.Retention)
		if err := a.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to create webhook archive indexes")
		}
		archiver = a
		logger.WithField("collection", cfg.Mongo.Collection).Info("Webhook archive enabled")
	}

	// Repositories
	tx := database.NewTransactor(db.DB)
	resourceRepo := database.NewResourceRepository(db.DB)
	bookingRepo := database.NewBookingRepository(db.DB)
	holdRepo := database.NewHoldRepository(db.DB)
	loyaltyRepo := database.NewLoyaltyRepository(db.DB)
	webhookRepo := database.NewWebhookEventRepository(db.DB, logger)

	// Services
	logger.Info("Initializing services...")
	clk := clock.NewSystem()
	rules, err := services.NewLoyaltyRules(cfg.Loyalty)
	if err != nil {
		logger.Fatalf("Invalid loyalty configuration: %v", err)
	}

	availabilityService := services.NewAvailabilityService(resourceRepo, holdRepo, clk)
	loyaltyService := services.NewLoyaltyService(tx, loyaltyRepo, bookingRepo, rules, publisher, m, clk, logger)
	bookingService := services.NewBookingService(
		tx, resourceRepo, bookingRepo, holdRepo,
		availabilityService,
		services.NewHTTPPaymentGateway(&cfg.Payment, logger),
		publisher,
		validator.NewPhoneValidator(cfg.Booking.PhoneDefaultCountry),
		m, clk, logger,
		services.BookingOptions{
			PendingTTL:      cfg.Booking.PendingTTL,
			DefaultCurrency: cfg.Booking.DefaultCurrency,
		},
	)
	settlementService := services.NewSettlementService(
		tx, bookingRepo, holdRepo, webhookRepo,
		loyaltyService,
		services.NewSignatureVerifier(cfg.Webhook.Secrets),
		publisher, archiver,
		m, clk, logger,
	)

	// Background jobs
	var reaper *services.ExpiryReaper
	if cfg.Reaper.Enabled {
		reaper = services.NewExpiryReaper(bookingRepo, holdRepo, loyaltyService, publisher, m, clk, logger,
			services.ReaperOptions{
				ExpirySchedule:    cfg.Reaper.ExpirySchedule,
				ReconcileSchedule: cfg.Reaper.ReconcileSchedule,
				BatchSize:         cfg.Reaper.BatchSize,
			})
		if err := reaper.Start(); err != nil {
			logger.Fatalf("Failed to start expiry reaper: %v", err)
		}
		logger.Info("✓ Expiry reaper started")
	}

	router := newRouter(routerDeps{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		registry:     registry,
		jwt:          jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry),
		bookings:     bookingService,
		availability: availabilityService,
		loyalty:      loyaltyService,
		settlement:   settlementService,
		reconciler:   loyaltyService,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if reaper != nil {
		logger.Info("Stopping expiry reaper...")
		reaper.Stop()
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}

	logger.Info("Server exited successfully")
}
