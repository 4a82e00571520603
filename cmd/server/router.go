package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/config"
	"github.com/tripmarket/settlement-backend/internal/handlers"
	"github.com/tripmarket/settlement-backend/internal/middleware"
	"github.com/tripmarket/settlement-backend/pkg/jwt"
)

// pinger is satisfied by *database.PostgresDB
type pinger interface {
	Ping(ctx context.Context) error
}

type routerDeps struct {
	cfg          *config.Config
	logger       *logrus.Logger
	db           pinger
	registry     *prometheus.Registry
	jwt          *jwt.Service
	bookings     handlers.BookingAPI
	availability handlers.AvailabilityAPI
	loyalty      handlers.LoyaltyAPI
	settlement   handlers.WebhookAPI
	reconciler   handlers.ReconcileAPI
}

func newRouter(d routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(d.logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     d.cfg.CORS.AllowedOrigins,
		AllowMethods:     d.cfg.CORS.AllowedMethods,
		AllowHeaders:     d.cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(d.db))

	if d.cfg.Metrics.Enabled && d.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))
	}

	bookingHandler := handlers.NewBookingHandler(d.bookings, d.logger)
	availabilityHandler := handlers.NewAvailabilityHandler(d.availability, d.logger)
	loyaltyHandler := handlers.NewLoyaltyHandler(d.loyalty, d.logger)
	opsHandler := handlers.NewOpsHandler(d.reconciler, d.logger)
	webhookHandler := handlers.NewWebhookHandler(d.settlement, d.cfg.Webhook.SignatureHeader, d.cfg.Webhook.MaxBodyBytes, d.logger)

	v1 := router.Group("/api/v1")
	{
		// Public
		v1.GET("/availability/:resource_id", availabilityHandler.CheckAvailability)

		// Signed by the provider, no JWT
		v1.POST("/webhooks/:provider", webhookHandler.HandleWebhook)

		authMiddleware := middleware.AuthMiddleware(d.jwt, d.logger)

		bookings := v1.Group("/bookings")
		bookings.Use(authMiddleware)
		bookingHandler.RegisterRoutes(bookings)

		loyalty := v1.Group("/loyalty")
		loyalty.Use(authMiddleware)
		{
			loyalty.GET("/me", loyaltyHandler.GetMyAccount)
		}

		// Back-office, service tokens minted by cmd/generate-secrets
		ops := v1.Group("/ops")
		ops.Use(authMiddleware, middleware.RequireRole("ops"))
		{
			ops.POST("/loyalty/reconcile", opsHandler.ReconcileLoyalty)
		}
	}

	return router
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		// Check database connection
		dbStatus := "healthy"
		if err := db.Ping(ctx); err != nil {
			dbStatus = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": dbStatus,
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  dbStatus,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
