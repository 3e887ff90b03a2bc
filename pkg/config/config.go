package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LLMProvider    string
	GoogleApiKey   string
	OpenAIApiKey   string
	OpenAIBaseURL  string
	ReasoningModel string
	FastModel      string

	SearchBackend    string
	FirecrawlKey     string
	FirecrawlBaseURL string

	DatabaseURL string
	Port        string

	ConcurrencyLimit  int
	DefaultBreadth    int
	DefaultDepth      int
	SearchTimeout     time.Duration
	GenerationTimeout time.Duration

	ChunkSize           int
	ChunkOverlap        int
	EmbeddingModel      string
	EmbeddingDimensions int
	CollectionName      string
}

// Load reads a .env file if present and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		LLMProvider:    getEnv("LLM_PROVIDER", "google"),
		GoogleApiKey:   getEnv("GOOGLE_API_KEY", ""),
		OpenAIApiKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		ReasoningModel: getEnv("REASONING_MODEL", "gemini-3-pro-preview"),
		FastModel:      getEnv("FAST_MODEL", "gemini-3-flash-preview"),

		SearchBackend:    getEnv("SEARCH_BACKEND", "firecrawl"),
		FirecrawlKey:     getEnv("FIRECRAWL_KEY", ""),
		FirecrawlBaseURL: getEnv("FIRECRAWL_BASE_URL", "https://api.firecrawl.dev"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		Port:        getEnv("PORT", "3000"),

		ConcurrencyLimit:  getEnvAsInt("CONCURRENCY_LIMIT", 2),
		DefaultBreadth:    getEnvAsInt("DEFAULT_BREADTH", 4),
		DefaultDepth:      getEnvAsInt("DEFAULT_DEPTH", 2),
		SearchTimeout:     getEnvAsDuration("SEARCH_TIMEOUT", 15*time.Second),
		GenerationTimeout: getEnvAsDuration("GENERATION_TIMEOUT", 60*time.Second),

		ChunkSize:           getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:        getEnvAsInt("CHUNK_OVERLAP", 200),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		EmbeddingDimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", 768),
		CollectionName:      getEnv("COLLECTION_NAME", "deep_research"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
