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
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string
	MetricsEnabled     bool
	RateLimitRPS       float64
	RateLimitBurst     int

	// Storage
	UseMemoryStore      bool
	DatabaseURL         string
	ProfilesDatabaseURL string
	RedisAddr           string
	RedisPassword       string
	RedisTLS            bool
	StoreTimeout        time.Duration

	// Messaging
	HistoryPageSize int
	DefaultLocation string

	// Presence
	TypingIdle   time.Duration
	OnlineWindow time.Duration

	// Treatment workflow
	TreatmentSweepInterval time.Duration
	TreatmentSweepBatch    int

	// Global random event (bandit raid)
	RaidEnabled  bool
	RaidCooldown time.Duration
	RaidChance   float64
	RaidLocation string
	RaidInterval time.Duration
	// GlobalEventStore picks the cooldown gate: redis, postgres, dynamodb or memory.
	GlobalEventStore string
	GlobalEventTable string

	// Push notifications (SQS producer)
	NotifyQueueURL string
	NotifyTimeout  time.Duration
	// Email fan-out for offline players; provider is sendgrid, ses or empty.
	NotifyEmailProvider   string
	NotifyEmailRecipients []string
	SendGridAPIKey        string
	EmailFromAddress      string
	EmailFromName         string
	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
}

// LoadDotEnv loads a local .env file when present. Missing files are
// ignored so production environments can rely on real env vars.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// Load reads configuration from environment variables
func Load() *Config {
	databaseURL := getEnv("DATABASE_URL", "")
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		MetricsEnabled:     getEnvAsBool("METRICS_ENABLED", true),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),

		UseMemoryStore:      getEnvAsBool("USE_MEMORY_STORE", false),
		DatabaseURL:         databaseURL,
		ProfilesDatabaseURL: getEnv("PROFILES_DATABASE_URL", databaseURL),
		RedisAddr:           getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisTLS:            getEnvAsBool("REDIS_TLS", false),
		StoreTimeout:        getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),

		HistoryPageSize: getEnvAsInt("HISTORY_PAGE_SIZE", 1000),
		DefaultLocation: getEnv("DEFAULT_LOCATION", "hospital"),

		TypingIdle:   getEnvAsDuration("TYPING_IDLE", 2*time.Second),
		OnlineWindow: getEnvAsDuration("ONLINE_WINDOW", 20*time.Minute),

		TreatmentSweepInterval: getEnvAsDuration("TREATMENT_SWEEP_INTERVAL", 5*time.Second),
		TreatmentSweepBatch:    getEnvAsInt("TREATMENT_SWEEP_BATCH", 100),

		RaidEnabled:  getEnvAsBool("RAID_ENABLED", false),
		RaidCooldown: getEnvAsDuration("RAID_COOLDOWN", 6*time.Hour),
		RaidChance:   getEnvAsFloat("RAID_CHANCE", 0.02),
		RaidLocation: getEnv("RAID_LOCATION", "bakery"),
		RaidInterval: getEnvAsDuration("RAID_INTERVAL", time.Minute),

		GlobalEventStore: strings.ToLower(getEnv("GLOBAL_EVENT_STORE", "redis")),
		GlobalEventTable: getEnv("GLOBAL_EVENT_TABLE", "roleplay-global-events"),

		NotifyQueueURL: getEnv("NOTIFY_QUEUE_URL", ""),
		NotifyTimeout:  getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),

		NotifyEmailProvider:   strings.ToLower(getEnv("NOTIFY_EMAIL_PROVIDER", "")),
		NotifyEmailRecipients: getEnvAsList("NOTIFY_EMAIL_RECIPIENTS"),
		SendGridAPIKey:        getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress:      getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:         getEnv("EMAIL_FROM_NAME", "Roleplay"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
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

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
