package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	DatabaseURL    string
	AdminJWTSecret string

	AdminRatePerSecond float64
	AdminRateBurst     int

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// QuickBooks Online (billing ledger)
	QuickBooksBaseURL     string
	QuickBooksRealmID     string
	QuickBooksAccessToken string

	// GoHighLevel (CRM)
	GHLBaseURL          string
	GHLAPIKey           string
	GHLLocationID       string
	GHLHoldTag          string
	GHLBalanceField     string
	GHLDaysOverdueField string

	// Healthie (membership / scheduling)
	HealthieURL    string
	HealthieAPIKey string

	// Sync policy
	SyncEnabled                bool
	MigrateOnStart             bool
	SyncInterval               time.Duration
	SyncConcurrency            int
	SyncRunLockTTL             time.Duration
	ExternalCallTimeout        time.Duration
	ExternalRatePerSecond      float64
	ExternalRateBurst          int
	PackagePriceToleranceCents int
	PackageDailyFallback       string
	BillingPaymentMethods      []string
	MembershipPaymentMethods   []string

	// Delivery of run artifacts
	StatusEventsQueueURL string
	OutboxPollInterval   time.Duration
	RunReportBucket      string
	AlertEmailTo         string
	EmailProvider        string
	SESFromEmail         string
	SendGridAPIKey       string
	SendGridFromEmail    string
	SendGridFromName     string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables take precedence over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		AdminRatePerSecond: getEnvAsFloat("ADMIN_RATE_PER_SECOND", 2),
		AdminRateBurst:     getEnvAsInt("ADMIN_RATE_BURST", 10),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		QuickBooksBaseURL:     getEnv("QUICKBOOKS_BASE_URL", "https://quickbooks.api.intuit.com"),
		QuickBooksRealmID:     getEnv("QUICKBOOKS_REALM_ID", ""),
		QuickBooksAccessToken: getEnv("QUICKBOOKS_ACCESS_TOKEN", ""),

		GHLBaseURL:          getEnv("GHL_BASE_URL", "https://services.leadconnectorhq.com"),
		GHLAPIKey:           getEnv("GHL_API_KEY", ""),
		GHLLocationID:       getEnv("GHL_LOCATION_ID", ""),
		GHLHoldTag:          getEnv("GHL_HOLD_TAG", "Payment Issue"),
		GHLBalanceField:     getEnv("GHL_BALANCE_FIELD", "balance_owed"),
		GHLDaysOverdueField: getEnv("GHL_DAYS_OVERDUE_FIELD", "days_overdue"),

		HealthieURL:    getEnv("HEALTHIE_URL", "https://api.gethealthie.com/graphql"),
		HealthieAPIKey: getEnv("HEALTHIE_API_KEY", ""),

		SyncEnabled:                getEnvAsBool("SYNC_ENABLED", false),
		MigrateOnStart:             getEnvAsBool("MIGRATE_ON_START", false),
		SyncInterval:               getEnvAsDuration("SYNC_INTERVAL", time.Hour),
		SyncConcurrency:            getEnvAsInt("SYNC_CONCURRENCY", 1),
		SyncRunLockTTL:             getEnvAsDuration("SYNC_RUN_LOCK_TTL", 30*time.Minute),
		ExternalCallTimeout:        getEnvAsDuration("EXTERNAL_CALL_TIMEOUT", 20*time.Second),
		ExternalRatePerSecond:      getEnvAsFloat("EXTERNAL_RATE_PER_SECOND", 5),
		ExternalRateBurst:          getEnvAsInt("EXTERNAL_RATE_BURST", 5),
		PackagePriceToleranceCents: getEnvAsInt("PACKAGE_PRICE_TOLERANCE_CENTS", 1),
		PackageDailyFallback:       strings.ToLower(getEnv("PACKAGE_DAILY_FALLBACK", "weekly")),
		BillingPaymentMethods:      getEnvAsList("BILLING_PAYMENT_METHODS", []string{"qbo", "quickbooks", "jane_quickbooks"}),
		MembershipPaymentMethods:   getEnvAsList("MEMBERSHIP_PAYMENT_METHODS", []string{"jane", "jane_quickbooks", "healthie"}),

		StatusEventsQueueURL: getEnv("STATUS_EVENTS_QUEUE_URL", ""),
		OutboxPollInterval:   getEnvAsDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		RunReportBucket:      getEnv("RUN_REPORT_BUCKET", ""),
		AlertEmailTo:         getEnv("ALERT_EMAIL_TO", ""),
		EmailProvider:        strings.ToLower(getEnv("EMAIL_PROVIDER", "sendgrid")),
		SESFromEmail:         getEnv("SES_FROM_EMAIL", ""),
		SendGridAPIKey:       getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:    getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:     getEnv("SENDGRID_FROM_NAME", "Roster Sync"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks and
// lower-casing each entry.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
