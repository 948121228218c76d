// Package config loads environment-based configuration for intake.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM provider identifiers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// LLM capability
	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string
	LLMTimeout      time.Duration
	MaxTokens       int

	// Sampling: analysis is exploratory, extraction is deterministic-leaning.
	AnalyzeTemperature float64
	ExtractTemperature float64

	// Pipeline
	ChunkWindow int
	MappingPath string

	// Server
	ServerPort string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "intake"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "onboarding"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:     getEnv("INTAKE_LLM_PROVIDER", ProviderOpenAI),
		LLMModel:        getEnv("INTAKE_LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		LLMTimeout:      getDuration("INTAKE_LLM_TIMEOUT", 60*time.Second),
		MaxTokens:       getInt("INTAKE_LLM_MAX_TOKENS", 1024),

		AnalyzeTemperature: getFloat("INTAKE_ANALYZE_TEMPERATURE", 0.7),
		ExtractTemperature: getFloat("INTAKE_EXTRACT_TEMPERATURE", 0.1),

		ChunkWindow: getInt("INTAKE_CHUNK_WINDOW", 12),
		MappingPath: getEnv("INTAKE_MAPPING_FILE", "configs/field_mapping.yaml"),

		ServerPort: getEnv("INTAKE_SERVER_PORT", "8486"),

		LogFile:  getEnv("INTAKE_LOG_FILE", "/tmp/intake.log"),
		LogLevel: parseLogLevel(getEnv("INTAKE_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
