package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Fallback policies used when the server-provided Gemini API is unavailable.
const (
	FallbackAsk      = "ask"
	FallbackUseToken = "fallback"
	FallbackDisable  = "disable"
	FallbackCancel   = "cancel"
)

// Config holds application configuration
type Config struct {
	// Server
	HTTPAddr string
	GRPCAddr string
	LogLevel string

	// Auth: bcrypt hash of the bearer token accepted by /v1 (empty disables auth)
	APITokenHash string

	// Misskey instance
	MisskeyURL     string
	MisskeyToken   string
	MisskeyTimeout time.Duration

	// Gemini API
	GeminiAPIKey         string
	GeminiAPIEndpoint    string // if set, overrides default Gemini API base URL
	GeminiModel          string
	GeminiThinkingBudget *int   // nil leaves the model default
	GeminiSDK            string // genai or langchaingo
	UseServerLLM         bool   // use the instance's notes/llm-gen endpoint
	UseGeminiWithMedia   bool
	ServerFallback       string // ask, fallback, disable, cancel

	// Prompts
	GeminiSystemPrompt    string
	GeminiPromptProfile   string
	GeminiPromptNote      string
	ProfilePromptTemplate string
	DefaultNotesLimit     int

	// Database
	DatabaseURL string

	// Redis summary cache
	RedisURL        string
	SummaryCacheTTL time.Duration

	// Kafka
	KafkaBrokers       []string
	KafkaConsumerGroup string
	KafkaTopicJobs     string

	// S3 summary archive
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// Quota on Gemini-backed summaries (0 disables; needs Redis)
	QuotaSummaries int64
	QuotaPeriod    string

	// Webhook callbacks for async jobs
	WebhookSecret         string
	WebhookMaxRetries     int
	WebhookRetryBaseDelay time.Duration
	WebhookRetryMaxDelay  time.Duration
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment wins.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr: getEnv("GRPC_ADDR", ":9090"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		APITokenHash: getEnv("API_TOKEN_HASH", ""),

		MisskeyURL:     strings.TrimSuffix(getEnv("MISSKEY_URL", ""), "/"),
		MisskeyToken:   getEnv("MISSKEY_TOKEN", ""),
		MisskeyTimeout: getEnvDuration("MISSKEY_TIMEOUT", 30*time.Second),

		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiAPIEndpoint:    getEnv("GEMINI_API_ENDPOINT", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiThinkingBudget: getEnvIntPtr("GEMINI_THINKING_BUDGET"),
		GeminiSDK:            getEnv("GEMINI_SDK", "genai"),
		UseServerLLM:         getEnvBool("USE_SERVER_LLM", false),
		UseGeminiWithMedia:   getEnvBool("USE_GEMINI_WITH_MEDIA", true),
		ServerFallback:       normalizeFallback(getEnv("GEMINI_SERVER_FALLBACK", FallbackAsk)),

		GeminiSystemPrompt:    getEnv("GEMINI_SYSTEM_PROMPT", ""),
		GeminiPromptProfile:   getEnv("GEMINI_PROMPT_PROFILE", ""),
		GeminiPromptNote:      getEnv("GEMINI_PROMPT_NOTE", ""),
		ProfilePromptTemplate: getEnv("PROFILE_PROMPT_TEMPLATE", ""),
		DefaultNotesLimit:     clampMin(getEnvInt("DEFAULT_NOTES_LIMIT", 15), 1),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisURL:        getEnv("REDIS_URL", ""),
		SummaryCacheTTL: getEnvDuration("SUMMARY_CACHE_TTL", 30*time.Minute),

		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "notesum-worker"),
		KafkaTopicJobs:     getEnv("KAFKA_TOPIC_JOBS", "notesum.summaries.v1"),

		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),

		QuotaSummaries: int64(clampMin(getEnvInt("QUOTA_SUMMARIES", 0), 0)),
		QuotaPeriod:    getEnv("QUOTA_PERIOD", "daily"),

		WebhookSecret:         getEnv("WEBHOOK_SECRET", ""),
		WebhookMaxRetries:     clampMin(getEnvInt("WEBHOOK_MAX_RETRIES", 5), 1),
		WebhookRetryBaseDelay: getEnvDuration("WEBHOOK_RETRY_BASE_DELAY", 2*time.Second),
		WebhookRetryMaxDelay:  getEnvDuration("WEBHOOK_RETRY_MAX_DELAY", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvIntPtr(key string) *int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return &intVal
		}
	}
	return nil
}

// clampMin returns v if v >= min, otherwise min.
func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// splitList splits a comma-separated env value, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeFallback(value string) string {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case FallbackAsk, FallbackUseToken, FallbackDisable, FallbackCancel:
		return v
	default:
		log.Warn().Str("value", value).Msg("Unknown GEMINI_SERVER_FALLBACK, using ask")
		return FallbackAsk
	}
}
