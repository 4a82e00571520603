package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Webhook ingress configuration
	Webhook WebhookConfig

	// Booking pipeline configuration
	Booking BookingConfig

	// Loyalty earn rates and tiers
	Loyalty LoyaltyConfig

	// Background jobs
	Reaper ReaperConfig

	// Domain event publishing
	RabbitMQ RabbitMQConfig

	// Raw webhook payload archive
	Mongo MongoConfig

	// OpenTelemetry tracing
	Tracing TracingConfig

	// Prometheus metrics
	Metrics MetricsConfig

	// CORS configuration
	CORS CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	AutoMigrate        bool
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	Issuer            string
	AccessTokenExpiry time.Duration
}

// PaymentConfig holds the payment intent gateway configuration
type PaymentConfig struct {
	BaseURL   string
	SecretKey string // never exposed to clients
	Timeout   time.Duration
}

// WebhookConfig holds shared secrets for signed provider callbacks.
// Secrets maps a provider name ("payments", "partner") to its HMAC key.
type WebhookConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	MaxBodyBytes    int64
}

// BookingConfig holds booking pipeline settings
type BookingConfig struct {
	PendingTTL          time.Duration // how long a pending booking holds its slot
	DefaultCurrency     string
	PhoneDefaultCountry string // country code applied to national phone numbers
}

// LoyaltyConfig holds the point earning tables
type LoyaltyConfig struct {
	EarnRates       map[string]float64 // points per major currency unit, keyed by vertical
	TierOrder       []string           // lowest tier first
	TierMultipliers map[string]float64
	TierThresholds  map[string]int64 // lifetime points needed to reach the tier
}

// ReaperConfig holds schedules for background jobs
type ReaperConfig struct {
	Enabled           bool
	ExpirySchedule    string
	ReconcileSchedule string
	BatchSize         int
}

// RabbitMQConfig holds event publisher settings. Empty URL disables publishing.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// MongoConfig holds archive settings. Empty URI disables archiving.
type MongoConfig struct {
	URI        string
	Database   string
	Username   string
	Password   string
	Collection string
	Retention  time.Duration // archived payloads expire after this; zero keeps them
}

// TracingConfig holds OTLP exporter settings
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			AutoMigrate:        getEnvAsBool("DATABASE_AUTO_MIGRATE", false),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			Issuer:            getEnv("JWT_ISSUER", "tripmarket-identity"),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Payment: PaymentConfig{
			BaseURL:   getEnv("PAYMENT_API_BASE_URL", ""),
			SecretKey: getEnv("PAYMENT_API_SECRET_KEY", ""),
			Timeout:   getEnvAsDuration("PAYMENT_API_TIMEOUT", 15*time.Second),
		},
		Webhook: WebhookConfig{
			Secrets: map[string]string{
				"payments": getEnv("WEBHOOK_PAYMENTS_SECRET", ""),
				"partner":  getEnv("WEBHOOK_PARTNER_SECRET", ""),
			},
			SignatureHeader: getEnv("WEBHOOK_SIGNATURE_HEADER", "X-Webhook-Signature"),
			MaxBodyBytes:    int64(getEnvAsInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},
		Booking: BookingConfig{
			PendingTTL:          getEnvAsDuration("BOOKING_PENDING_TTL", 30*time.Minute),
			DefaultCurrency:     getEnv("BOOKING_DEFAULT_CURRENCY", "USD"),
			PhoneDefaultCountry: getEnv("BOOKING_PHONE_DEFAULT_COUNTRY", ""),
		},
		Loyalty: LoyaltyConfig{
			EarnRates: map[string]float64{
				"hotel":    getEnvAsFloat("LOYALTY_EARN_RATE_HOTEL", 2),
				"car":      getEnvAsFloat("LOYALTY_EARN_RATE_CAR", 1),
				"tour":     getEnvAsFloat("LOYALTY_EARN_RATE_TOUR", 1.5),
				"transfer": getEnvAsFloat("LOYALTY_EARN_RATE_TRANSFER", 1),
			},
			TierOrder: getEnvAsSlice("LOYALTY_TIERS", []string{"base", "silver", "gold", "platinum"}),
			TierMultipliers: map[string]float64{
				"base":     getEnvAsFloat("LOYALTY_MULTIPLIER_BASE", 1),
				"silver":   getEnvAsFloat("LOYALTY_MULTIPLIER_SILVER", 1.25),
				"gold":     getEnvAsFloat("LOYALTY_MULTIPLIER_GOLD", 1.5),
				"platinum": getEnvAsFloat("LOYALTY_MULTIPLIER_PLATINUM", 2),
			},
			TierThresholds: map[string]int64{
				"base":     0,
				"silver":   int64(getEnvAsInt("LOYALTY_THRESHOLD_SILVER", 5000)),
				"gold":     int64(getEnvAsInt("LOYALTY_THRESHOLD_GOLD", 20000)),
				"platinum": int64(getEnvAsInt("LOYALTY_THRESHOLD_PLATINUM", 50000)),
			},
		},
		Reaper: ReaperConfig{
			Enabled:           getEnvAsBool("REAPER_ENABLED", true),
			ExpirySchedule:    getEnv("REAPER_EXPIRY_SCHEDULE", "@every 1m"),
			ReconcileSchedule: getEnv("REAPER_RECONCILE_SCHEDULE", "@every 10m"),
			BatchSize:         getEnvAsInt("REAPER_BATCH_SIZE", 100),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "bookings"),
		},
		Mongo: MongoConfig{
			URI:        getEnv("MONGODB_URI", ""),
			Database:   getEnv("MONGODB_DATABASE", "settlement"),
			Username:   getEnv("MONGODB_USER", ""),
			Password:   getEnv("MONGODB_PASSWORD", ""),
			Collection: getEnv("MONGODB_WEBHOOK_COLLECTION", "webhook_payloads"),
			Retention:  getEnvAsDuration("MONGODB_WEBHOOK_RETENTION", 90*24*time.Hour),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "settlement-backend"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvAsBool("METRICS_ENABLED", true),
			Namespace: getEnv("METRICS_NAMESPACE", "settlement"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Payment.BaseURL == "" || c.Payment.SecretKey == "" {
		return fmt.Errorf("PAYMENT_API_BASE_URL and PAYMENT_API_SECRET_KEY are required")
	}

	if c.Webhook.Secrets["payments"] == "" {
		return fmt.Errorf("WEBHOOK_PAYMENTS_SECRET is required")
	}

	if c.Booking.PendingTTL <= 0 {
		return fmt.Errorf("BOOKING_PENDING_TTL must be positive")
	}

	return c.Loyalty.Validate()
}

// Validate checks the loyalty tables are complete and ordered
func (l LoyaltyConfig) Validate() error {
	if len(l.TierOrder) == 0 {
		return fmt.Errorf("at least one loyalty tier is required")
	}

	var previous int64 = -1
	for _, tier := range l.TierOrder {
		multiplier, ok := l.TierMultipliers[tier]
		if !ok {
			return fmt.Errorf("loyalty tier %q has no multiplier", tier)
		}
		if multiplier < 1 {
			return fmt.Errorf("loyalty tier %q multiplier must be >= 1", tier)
		}
		threshold, ok := l.TierThresholds[tier]
		if !ok {
			return fmt.Errorf("loyalty tier %q has no threshold", tier)
		}
		if threshold <= previous {
			return fmt.Errorf("loyalty tier %q threshold must be above the previous tier", tier)
		}
		previous = threshold
	}

	if l.TierThresholds[l.TierOrder[0]] != 0 {
		return fmt.Errorf("base loyalty tier %q must start at 0 points", l.TierOrder[0])
	}

	for vertical, rate := range l.EarnRates {
		if rate < 0 {
			return fmt.Errorf("earn rate for %s must not be negative", vertical)
		}
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %g", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("30m") or plain seconds ("1800")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
