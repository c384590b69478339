package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default system prompt for the chat surface; overridable per deployment.
const defaultSystemPrompt = "You are a friendly educational assistant that remembers conversation history. " +
	"You can recall details about the user from both recent messages and summarized older conversations. " +
	"Always try to reference previous context when relevant."

// Config contains all runtime settings for the memory chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	MemoryStrategy             string
	MemoryMaxPairs             int
	MemoryEvictionBatch        int
	MemorySummaryTimeout       time.Duration
	MemoryResummarizeThreshold int

	SessionTTL             time.Duration
	SessionJanitorInterval time.Duration

	LLMProvider     string
	GeminiAPIKey    string
	GeminiAPIBase   string
	LLMModel        string
	AnthropicAPIKey string
	AnthropicModel  string
	LLMTemperature  float64
	LLMMaxTokens    int
	SystemPrompt    string

	DatabaseURL        string
	ArchiveSaveTimeout time.Duration

	SemanticRecall      bool
	EmbeddingModel      string
	EmbeddingCacheBytes int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "mnemo"),
		AllowAnyOrigin:   false,

		MemoryStrategy:             envOrDefault("MEMORY_STRATEGY", "hybrid"),
		MemoryMaxPairs:             3,
		MemoryEvictionBatch:        2,
		MemorySummaryTimeout:       30 * time.Second,
		MemoryResummarizeThreshold: 0,

		SessionTTL:             30 * time.Minute,
		SessionJanitorInterval: time.Minute,

		LLMProvider:     envOrDefault("LLM_PROVIDER", "auto"),
		GeminiAPIKey:    stringsTrimSpace("GEMINI_API_KEY"),
		GeminiAPIBase:   stringsTrimSpace("GEMINI_API_BASE"),
		LLMModel:        envOrDefault("LLM_MODEL", "gemini-2.5-flash"),
		AnthropicAPIKey: stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOrDefault("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		LLMTemperature:  0.5,
		LLMMaxTokens:    1024,
		SystemPrompt:    envOrDefault("CHAT_SYSTEM_PROMPT", defaultSystemPrompt),

		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		ArchiveSaveTimeout: 5 * time.Second,

		SemanticRecall:      false,
		EmbeddingModel:      envOrDefault("EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingCacheBytes: 32 << 20,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryMaxPairs, err = intFromEnv("MEMORY_MAX_PAIRS", cfg.MemoryMaxPairs)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryEvictionBatch, err = intFromEnv("MEMORY_EVICTION_BATCH", cfg.MemoryEvictionBatch)
	if err != nil {
		return Config{}, err
	}
	cfg.MemorySummaryTimeout, err = durationFromEnv("MEMORY_SUMMARY_TIMEOUT", cfg.MemorySummaryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryResummarizeThreshold, err = intFromEnv("MEMORY_RESUMMARIZE_THRESHOLD", cfg.MemoryResummarizeThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionJanitorInterval, err = durationFromEnv("SESSION_JANITOR_INTERVAL", cfg.SessionJanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.ArchiveSaveTimeout, err = durationFromEnv("ARCHIVE_SAVE_TIMEOUT", cfg.ArchiveSaveTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SemanticRecall, err = boolFromEnv("SEMANTIC_RECALL", cfg.SemanticRecall)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingCacheBytes, err = intFromEnv("EMBEDDING_CACHE_BYTES", cfg.EmbeddingCacheBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.MemoryMaxPairs <= 0 {
		return Config{}, fmt.Errorf("MEMORY_MAX_PAIRS must be positive")
	}
	if cfg.MemoryEvictionBatch < 1 || cfg.MemoryEvictionBatch > cfg.MemoryMaxPairs {
		return Config{}, fmt.Errorf("MEMORY_EVICTION_BATCH must be within [1, MEMORY_MAX_PAIRS]")
	}
	if cfg.MemorySummaryTimeout < 0 {
		return Config{}, fmt.Errorf("MEMORY_SUMMARY_TIMEOUT must not be negative")
	}
	if cfg.MemoryResummarizeThreshold < 0 {
		return Config{}, fmt.Errorf("MEMORY_RESUMMARIZE_THRESHOLD must not be negative")
	}
	if cfg.SessionTTL < 5*time.Second {
		return Config{}, fmt.Errorf("SESSION_TTL must be at least 5s")
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		return Config{}, fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	}
	if cfg.LLMMaxTokens <= 0 {
		return Config{}, fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	if cfg.EmbeddingCacheBytes <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_CACHE_BYTES must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
