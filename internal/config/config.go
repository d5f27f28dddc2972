// Package config provides YAML-based configuration for the support agent.
// Configuration is loaded with a layered precedence: defaults → .env file →
// YAML file → env vars. Environment variables always win, so existing
// workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. SUPPORT_AGENT_CONFIG environment variable
//  3. ~/.support-agent/config.yaml
//  4. ./support-agent.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding provider and pipeline.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Chunking configures how documents are split.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Search configures similarity search defaults.
	Search SearchConfig `yaml:"search"`

	// RateLimit configures the provider admission limiter.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Storage configures the document database.
	Storage StorageConfig `yaml:"storage"`

	// Qdrant configures the optional vector index.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig holds embedding provider and pipeline settings.
type EmbeddingConfig struct {
	// Provider selects the backend: ollama, openai, azure.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// BatchSize is the number of texts per provider request.
	BatchSize int `yaml:"batch_size"`
	// Concurrency bounds in-flight provider requests.
	Concurrency int `yaml:"concurrency"`
	// MaxAttempts is the total attempts per batch before giving up.
	MaxAttempts int `yaml:"max_attempts"`
	// RequestsPerSecond paces provider calls; 0 means unpaced.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// CacheSize is the maximum number of cached embeddings.
	CacheSize int `yaml:"cache_size"`
}

// ChunkingConfig holds document splitting settings.
type ChunkingConfig struct {
	// Size is the target chunk size in characters.
	Size int `yaml:"size"`
	// Overlap is the overlap between adjacent chunks in characters.
	Overlap int `yaml:"overlap"`
}

// SearchConfig holds similarity search defaults.
type SearchConfig struct {
	// Limit is the default number of results.
	Limit int `yaml:"limit"`
	// Threshold is the default minimum similarity.
	Threshold float32 `yaml:"threshold"`
	// ContextWindow is neighbors per side when context is requested.
	ContextWindow int `yaml:"context_window"`
}

// RateLimitConfig holds provider admission limiter settings.
type RateLimitConfig struct {
	// MaxRequests is the request ceiling per window.
	MaxRequests int `yaml:"max_requests"`
	// WindowSeconds is the sliding-window duration in seconds.
	WindowSeconds int `yaml:"window_seconds"`
}

// StorageConfig holds document database settings.
type StorageConfig struct {
	// DBPath is the SQLite database path.
	DBPath string `yaml:"db_path"`
}

// QdrantConfig holds optional vector index settings. The index is enabled
// by setting a host.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var SUPPORT_AGENT_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBED_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"EMBED_CONCURRENCY", func(c *Config) string { return intStr(c.Embedding.Concurrency) }},
	{"EMBED_MAX_ATTEMPTS", func(c *Config) string { return intStr(c.Embedding.MaxAttempts) }},
	{"EMBED_REQUESTS_PER_SECOND", func(c *Config) string { return floatStr(c.Embedding.RequestsPerSecond) }},
	{"EMBED_CACHE_SIZE", func(c *Config) string { return intStr(c.Embedding.CacheSize) }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Chunking.Size) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Chunking.Overlap) }},
	{"SEARCH_LIMIT", func(c *Config) string { return intStr(c.Search.Limit) }},
	{"SEARCH_THRESHOLD", func(c *Config) string { return floatStr(float64(c.Search.Threshold)) }},
	{"SEARCH_CONTEXT_WINDOW", func(c *Config) string { return intStr(c.Search.ContextWindow) }},
	{"RATE_LIMIT_MAX_REQUESTS", func(c *Config) string { return intStr(c.RateLimit.MaxRequests) }},
	{"RATE_LIMIT_WINDOW_SECONDS", func(c *Config) string { return intStr(c.RateLimit.WindowSeconds) }},
	{"SUPPORT_AGENT_DB", func(c *Config) string { return c.Storage.DBPath }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"SUPPORT_AGENT_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a .env file (if present) and a YAML config file, applying
// non-empty values as environment variables. Existing env vars are never
// overwritten (env always wins). Returns the YAML path that was loaded,
// or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(); err == nil {
		log.Debug("config: loaded .env file")
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("SUPPORT_AGENT_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".support-agent", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("support-agent.yaml"); err == nil {
		return "support-agent.yaml"
	}

	return ""
}

// Int returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func Int(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// Float returns the float value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func Float(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// String returns the value of the named environment variable, or fallback
// if the variable is unset or empty.
func String(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Seconds returns the named environment variable interpreted as a number
// of seconds, or fallback if unset or not parseable.
func Seconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return fallback
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// floatStr converts a float to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
