package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// Server
	HTTPAddr           string
	LogLevel           string
	CORSAllowedOrigins []string

	// Gemini API
	GeminiAPIKey      string
	GeminiAPIEndpoint string // if set, overrides default Gemini API base URL
	GeminiModelText   string // structured verdict, e.g. gemini-2.5-flash
	GeminiModelImage  string // illustration, e.g. gemini-2.5-flash-image

	// Input
	MaxProfessionLength int // in grapheme clusters

	// Sessions (in-memory only)
	SessionIdleTTL       time.Duration
	SessionSweepInterval time.Duration

	// Kafka run events; disabled when no brokers are configured
	KafkaBrokers   []string
	KafkaTopicRuns string

	// cmd/runstats
	KafkaGroupRunStats  string
	RunStatsLogInterval time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiAPIEndpoint: getEnv("GEMINI_API_ENDPOINT", ""),
		GeminiModelText:   getEnv("GEMINI_MODEL_TEXT", "gemini-2.5-flash"),
		GeminiModelImage:  getEnv("GEMINI_MODEL_IMAGE", "gemini-2.5-flash-image"),

		MaxProfessionLength: clampMin(getEnvInt("MAX_PROFESSION_LENGTH", 200), 1),

		SessionIdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),

		KafkaBrokers:   getEnvList("KAFKA_BROKERS", nil),
		KafkaTopicRuns: getEnv("KAFKA_TOPIC_RUNS", "aivsjobs.runs.v1"),

		KafkaGroupRunStats:  getEnv("KAFKA_GROUP_RUNSTATS", "aivsjobs-runstats"),
		RunStatsLogInterval: clampMinDuration(getEnvDuration("RUNSTATS_LOG_INTERVAL", time.Minute), time.Second),
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

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// clampMin returns v if v >= min, otherwise min. Used to ensure config values are in valid range.
func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

// clampMinDuration is clampMin for durations.
func clampMinDuration(v, min time.Duration) time.Duration {
	if v < min {
		return min
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
