package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Shared secrets for machine-to-machine surfaces.
	TriggerSecret string
	CronSecret    string

	// Anthropic AI service
	AnthropicAPIKey string
	ParserModel     string
	ReplyModel      string

	// Twilio SMS
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// SendGrid transactional email (platform-level fallback sender)
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// Inbox poller
	PollInterval   time.Duration
	PollWindow     time.Duration
	PollLockTTL    time.Duration
	QueueBatchSize int

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		TriggerSecret: getEnv("AUTOMATION_TRIGGER_SECRET", ""),
		CronSecret:    getEnv("CRON_SECRET", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		ParserModel:     getEnv("ANTHROPIC_PARSER_MODEL", "claude-haiku-4-5-20251001"),
		ReplyModel:      getEnv("ANTHROPIC_REPLY_MODEL", "claude-sonnet-4-20250514"),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "LeadPilot"),

		PollInterval:   getEnvAsDuration("POLL_INTERVAL", 5*time.Minute),
		PollWindow:     getEnvAsDuration("POLL_WINDOW", 24*time.Hour),
		PollLockTTL:    getEnvAsDuration("POLL_LOCK_TTL", 4*time.Minute),
		QueueBatchSize: getEnvAsInt("QUEUE_BATCH_SIZE", 50),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
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
