package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config captures runtime configuration for the API service.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Telemetry TelemetryConfig
	Service   ServiceConfig
	Payment   PaymentConfig
	Pricing   PricingConfig
}

type HTTPConfig struct {
	Port           int
	RequestTimeout time.Duration
	ShutdownGrace  time.Duration
}

type DatabaseConfig struct {
	// Driver is postgres or memory. memory keeps everything in process and
	// is meant for local runs only.
	Driver         string
	URL            string
	MaxConns       int32
	MinConns       int32
	AutoMigrate    bool
	MigrationsPath string
}

type RedisConfig struct {
	// Addr empty falls back to in-process carts and idempotency keys.
	Addr           string
	Password       string
	DB             int
	CartTTL        time.Duration
	IdempotencyTTL time.Duration
}

type KafkaConfig struct {
	Brokers            []string
	EventsTopic        string
	NotificationsTopic string
}

type TelemetryConfig struct {
	LogLevel      string
	OTelEndpoint  string
	OTelInsecure  bool
	EnableTracing bool
	EnableMetrics bool
	SampleRate    float64
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type PaymentConfig struct {
	SecretKey string
	// WebhookSecret defaults to SecretKey, which is how the gateway signs.
	WebhookSecret     string
	BaseURL           string
	CallbackURL       string
	RequestTimeout    time.Duration
	VerifyBaseDelay   time.Duration
	VerifyMaxAttempts int
}

type PricingConfig struct {
	TaxRate               decimal.Decimal
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

const (
	defaultHTTPPort           = 8080
	defaultRequestTimeout     = 60 * time.Second
	defaultShutdownGrace      = 15 * time.Second
	defaultDatabaseDriver     = "postgres"
	defaultMigrationsPath     = "migrations"
	defaultAutoMigrate        = true
	defaultCartTTL            = 7 * 24 * time.Hour
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultEventsTopic        = "storefront.events"
	defaultNotificationsTopic = "notifications.email"
	defaultServiceName        = "storefront-api"
	defaultServiceVersion     = "0.1.0"
	defaultEnvironment        = "development"
	defaultLogLevel           = "info"
	defaultOTelSampleRate     = 1.0
	defaultPaystackBaseURL    = "https://api.paystack.co"
	defaultGatewayTimeout     = 30 * time.Second
	defaultVerifyBaseDelay    = 2 * time.Second
	defaultVerifyMaxAttempts  = 5
	defaultTaxRate            = "0.075"
	defaultShippingFee        = "1500"
	defaultFreeShipping       = "50000"
)

// Load reads configuration from environment variables, applying defaults
// when needed, and validates the result.
func Load() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{}

	cfg.HTTP.Port = getIntEnv("API_HTTP_PORT", defaultHTTPPort, collect)
	cfg.HTTP.RequestTimeout = getDurationEnv("API_REQUEST_TIMEOUT", defaultRequestTimeout, collect)
	cfg.HTTP.ShutdownGrace = getDurationEnv("API_SHUTDOWN_GRACE", defaultShutdownGrace, collect)

	cfg.Database = loadDatabaseConfig(collect)
	cfg.Redis = loadRedisConfig(collect)
	cfg.Kafka = loadKafkaConfig()
	cfg.Telemetry = loadTelemetryConfig(collect)
	cfg.Service = loadServiceConfig()
	cfg.Payment = loadPaymentConfig(collect)
	cfg.Pricing = loadPricingConfig(collect)

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("API_HTTP_PORT %d out of range", c.HTTP.Port))
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATE %v must be between 0 and 1", c.Telemetry.SampleRate))
	}
	if c.Payment.VerifyMaxAttempts < 1 {
		errs = append(errs, errors.New("PAYSTACK_VERIFY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Payment.VerifyBaseDelay < 0 {
		errs = append(errs, errors.New("PAYSTACK_VERIFY_BASE_DELAY must not be negative"))
	}
	if c.Pricing.TaxRate.IsNegative() || c.Pricing.ShippingFee.IsNegative() || c.Pricing.FreeShippingThreshold.IsNegative() {
		errs = append(errs, errors.New("pricing values must not be negative"))
	}
	if c.Service.Environment == "production" && c.Payment.SecretKey == "" {
		errs = append(errs, errors.New("PAYSTACK_SECRET_KEY is required in production"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// IsDevelopment reports whether error details may be exposed to clients.
func (c *Config) IsDevelopment() bool {
	return c.Service.Environment == "development"
}

func loadDatabaseConfig(collect func(error)) DatabaseConfig {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = buildDatabaseURL()
	}

	maxConns := getIntEnv("DB_MAX_CONNS", 25, collect)
	minConns := getIntEnv("DB_MIN_CONNS", 5, collect)

	return DatabaseConfig{
		Driver:         getEnvOrDefault("DB_DRIVER", defaultDatabaseDriver),
		URL:            databaseURL,
		MaxConns:       int32(maxConns),
		MinConns:       int32(minConns),
		AutoMigrate:    getBoolEnv("AUTO_MIGRATE", defaultAutoMigrate),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", defaultMigrationsPath),
	}
}

func loadRedisConfig(collect func(error)) RedisConfig {
	db := getIntEnv("REDIS_DB", 0, collect)
	return RedisConfig{
		Addr:           os.Getenv("REDIS_ADDR"),
		Password:       os.Getenv("REDIS_PASSWORD"),
		DB:             db,
		CartTTL:        getDurationEnv("CART_TTL", defaultCartTTL, collect),
		IdempotencyTTL: getDurationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL, collect),
	}
}

func loadKafkaConfig() KafkaConfig {
	var brokers []string
	if value, ok := os.LookupEnv("KAFKA_BROKERS"); ok && value != "" {
		for _, broker := range strings.Split(value, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				brokers = append(brokers, broker)
			}
		}
	}

	return KafkaConfig{
		Brokers:            brokers,
		EventsTopic:        getEnvOrDefault("KAFKA_EVENTS_TOPIC", defaultEventsTopic),
		NotificationsTopic: getEnvOrDefault("KAFKA_NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
	}
}

func loadTelemetryConfig(collect func(error)) TelemetryConfig {
	sampleRate := defaultOTelSampleRate
	if value, ok := os.LookupEnv("OTEL_SAMPLE_RATE"); ok {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			collect(fmt.Errorf("invalid OTEL_SAMPLE_RATE: %w", err))
		} else {
			sampleRate = parsed
		}
	}

	return TelemetryConfig{
		LogLevel:      getEnvOrDefault("LOG_LEVEL", defaultLogLevel),
		OTelEndpoint:  getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelInsecure:  getBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", true),
		EnableTracing: getBoolEnv("OTEL_ENABLE_TRACING", true),
		EnableMetrics: getBoolEnv("OTEL_ENABLE_METRICS", true),
		SampleRate:    sampleRate,
	}
}

func loadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:        getEnvOrDefault("API_SERVICE_NAME", defaultServiceName),
		Version:     getEnvOrDefault("SERVICE_VERSION", defaultServiceVersion),
		Environment: getEnvOrDefault("ENVIRONMENT", defaultEnvironment),
	}
}

func loadPaymentConfig(collect func(error)) PaymentConfig {
	secret := os.Getenv("PAYSTACK_SECRET_KEY")
	attempts := getIntEnv("PAYSTACK_VERIFY_MAX_ATTEMPTS", defaultVerifyMaxAttempts, collect)

	return PaymentConfig{
		SecretKey:         secret,
		WebhookSecret:     getEnvOrDefault("PAYSTACK_WEBHOOK_SECRET", secret),
		BaseURL:           getEnvOrDefault("PAYSTACK_BASE_URL", defaultPaystackBaseURL),
		CallbackURL:       os.Getenv("PAYSTACK_CALLBACK_URL"),
		RequestTimeout:    getDurationEnv("PAYSTACK_REQUEST_TIMEOUT", defaultGatewayTimeout, collect),
		VerifyBaseDelay:   getDurationEnv("PAYSTACK_VERIFY_BASE_DELAY", defaultVerifyBaseDelay, collect),
		VerifyMaxAttempts: attempts,
	}
}

func loadPricingConfig(collect func(error)) PricingConfig {
	return PricingConfig{
		TaxRate:               getDecimalEnv("PRICING_TAX_RATE", defaultTaxRate, collect),
		ShippingFee:           getDecimalEnv("PRICING_SHIPPING_FEE", defaultShippingFee, collect),
		FreeShippingThreshold: getDecimalEnv("PRICING_FREE_SHIPPING_THRESHOLD", defaultFreeShipping, collect),
	}
}

func buildDatabaseURL() string {
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := getEnvOrDefault("DB_PASSWORD", "postgres")
	dbName := getEnvOrDefault("DB_NAME", "storefront")
	sslMode := getEnvOrDefault("DB_SSLMODE", "disable")
	maxLifetime := getEnvOrDefault("DB_MAX_CONN_LIFETIME", "5m")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conn_lifetime=%s",
		user, password, host, port, dbName, sslMode, maxLifetime,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		return value == "true"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int, collect func(error)) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		collect(fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return parsed
}

func getDurationEnv(key string, defaultValue time.Duration, collect func(error)) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		collect(fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return parsed
}

func getDecimalEnv(key, defaultValue string, collect func(error)) decimal.Decimal {
	value := getEnvOrDefault(key, defaultValue)
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		collect(fmt.Errorf("invalid %s: %w", key, err))
		return decimal.RequireFromString(defaultValue)
	}
	return parsed
}
