package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "GEMINI_MODEL_TEXT", "GEMINI_MODEL_IMAGE", "KAFKA_BROKERS", "MAX_PROFESSION_LENGTH", "SESSION_IDLE_TTL", "CORS_ALLOWED_ORIGINS", "KAFKA_GROUP_RUNSTATS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.GeminiModelText != "gemini-2.5-flash" {
		t.Errorf("GeminiModelText = %q", cfg.GeminiModelText)
	}
	if cfg.GeminiModelImage != "gemini-2.5-flash-image" {
		t.Errorf("GeminiModelImage = %q", cfg.GeminiModelImage)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers should be empty by default, got %v", cfg.KafkaBrokers)
	}
	if cfg.MaxProfessionLength != 200 {
		t.Errorf("MaxProfessionLength = %d", cfg.MaxProfessionLength)
	}
	if cfg.SessionIdleTTL != 30*time.Minute {
		t.Errorf("SessionIdleTTL = %v", cfg.SessionIdleTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.KafkaGroupRunStats != "aivsjobs-runstats" {
		t.Errorf("KafkaGroupRunStats = %q", cfg.KafkaGroupRunStats)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("MAX_PROFESSION_LENGTH", "-5")
	t.Setenv("SESSION_IDLE_TTL", "90s")
	t.Setenv("GEMINI_MODEL_TEXT", "gemini-3-flash-preview")
	t.Setenv("RUNSTATS_LOG_INTERVAL", "-1m")

	cfg := Load()

	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.MaxProfessionLength != 1 {
		t.Errorf("MaxProfessionLength should clamp to 1, got %d", cfg.MaxProfessionLength)
	}
	if cfg.SessionIdleTTL != 90*time.Second {
		t.Errorf("SessionIdleTTL = %v", cfg.SessionIdleTTL)
	}
	if cfg.GeminiModelText != "gemini-3-flash-preview" {
		t.Errorf("GeminiModelText = %q", cfg.GeminiModelText)
	}
	if cfg.RunStatsLogInterval != time.Second {
		t.Errorf("RunStatsLogInterval should clamp to 1s, got %v", cfg.RunStatsLogInterval)
	}
}
