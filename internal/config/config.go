package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	JobsQueueURL       string
	BuffersTable       string
	ConversationsTable string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	ChatwootBaseURL      string
	ChatwootAPIToken     string
	ChatwootAccountID    int
	ChatwootWebhookToken string

	OpenAIAPIKey string
	OpenAIModel  string
	WhisperModel string

	QuietWindow       time.Duration
	BufferMaxMessages int
	BufferMaxAge      time.Duration
	SweepInterval     time.Duration

	OrderRequiredFields []string

	CORSAllowedOrigins   []string
	WebhookRatePerSecond float64
	WebhookBurst         int

	BucketPrefix     string
	BucketCacheTTL   time.Duration
	IdentityCacheTTL time.Duration

	AdminJWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		JobsQueueURL:       getEnv("JOBS_QUEUE_URL", ""),
		BuffersTable:       getEnv("BUFFERS_TABLE", "echopost_buffers"),
		ConversationsTable: getEnv("CONVERSATIONS_TABLE", "echopost_conversations"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ChatwootBaseURL:      getEnv("CHATWOOT_BASE_URL", ""),
		ChatwootAPIToken:     getEnv("CHATWOOT_API_TOKEN", ""),
		ChatwootAccountID:    getEnvAsInt("CHATWOOT_ACCOUNT_ID", 1),
		ChatwootWebhookToken: getEnv("CHATWOOT_WEBHOOK_TOKEN", ""),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		WhisperModel: getEnv("WHISPER_MODEL", "whisper-1"),

		QuietWindow:       getEnvAsDuration("BUFFER_QUIET_WINDOW", 30*time.Second),
		BufferMaxMessages: getEnvAsInt("BUFFER_MAX_MESSAGES", 25),
		BufferMaxAge:      getEnvAsDuration("BUFFER_MAX_AGE", 5*time.Minute),
		SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", 10*time.Second),

		OrderRequiredFields: getEnvAsList("ORDER_REQUIRED_FIELDS", []string{"topic"}),

		CORSAllowedOrigins:   getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		WebhookRatePerSecond: getEnvAsFloat("WEBHOOK_RATE_PER_SECOND", 0),
		WebhookBurst:         getEnvAsInt("WEBHOOK_BURST", 20),

		BucketPrefix:     getEnv("BUCKET_PREFIX", "echopost"),
		BucketCacheTTL:   getEnvAsDuration("BUCKET_CACHE_TTL", 12*time.Hour),
		IdentityCacheTTL: getEnvAsDuration("IDENTITY_CACHE_TTL", 10*time.Minute),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
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

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
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

// getEnvAsList parses a comma-separated environment variable, trimming
// whitespace and dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToLower(trimmed))
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
