package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: ollama
  model: nomic-embed-text
  batch_size: 10
  cache_size: 500
chunking:
  size: 800
  overlap: 150
search:
  limit: 8
  threshold: 0.6
rate_limit:
  max_requests: 30
  window_seconds: 45
qdrant:
  host: qdrant.internal
  port: 6334
  collection: support-docs
server:
  port: 8085
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBED_BATCH_SIZE", "EMBED_CACHE_SIZE",
		"CHUNK_SIZE", "CHUNK_OVERLAP",
		"SEARCH_LIMIT", "SEARCH_THRESHOLD",
		"RATE_LIMIT_MAX_REQUESTS", "RATE_LIMIT_WINDOW_SECONDS",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"SERVER_PORT", "LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"EMBEDDING_PROVIDER":        "ollama",
		"EMBEDDING_MODEL":           "nomic-embed-text",
		"EMBED_BATCH_SIZE":          "10",
		"EMBED_CACHE_SIZE":          "500",
		"CHUNK_SIZE":                "800",
		"CHUNK_OVERLAP":             "150",
		"SEARCH_LIMIT":              "8",
		"SEARCH_THRESHOLD":          "0.6",
		"RATE_LIMIT_MAX_REQUESTS":   "30",
		"RATE_LIMIT_WINDOW_SECONDS": "45",
		"QDRANT_HOST":               "qdrant.internal",
		"QDRANT_PORT":               "6334",
		"QDRANT_COLLECTION":         "support-docs",
		"SERVER_PORT":               "8085",
		"LOG_LEVEL":                 "debug",
		"LOG_FORMAT":                "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading — it should NOT be overwritten.
	t.Setenv("EMBEDDING_PROVIDER", "azure")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("EMBEDDING_PROVIDER"); got != "azure" {
		t.Errorf("EMBEDDING_PROVIDER: expected env override %q, got %q", "azure", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("HELPER_INT", "42")
	t.Setenv("HELPER_FLOAT", "0.65")
	t.Setenv("HELPER_STRING", "value")
	t.Setenv("HELPER_SECONDS", "90")
	t.Setenv("HELPER_BAD", "not-a-number")

	if got := Int("HELPER_INT", 7); got != 42 {
		t.Errorf("Int = %d, want 42", got)
	}
	if got := Int("HELPER_MISSING", 7); got != 7 {
		t.Errorf("Int fallback = %d, want 7", got)
	}
	if got := Int("HELPER_BAD", 7); got != 7 {
		t.Errorf("Int on bad value = %d, want fallback 7", got)
	}
	if got := Float("HELPER_FLOAT", 0.1); got != 0.65 {
		t.Errorf("Float = %f, want 0.65", got)
	}
	if got := String("HELPER_STRING", "d"); got != "value" {
		t.Errorf("String = %q, want value", got)
	}
	if got := String("HELPER_MISSING", "d"); got != "d" {
		t.Errorf("String fallback = %q, want d", got)
	}
	if got := Seconds("HELPER_SECONDS", time.Second); got != 90*time.Second {
		t.Errorf("Seconds = %v, want 90s", got)
	}
}

func TestFloatStr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := floatStr(tt.in); got != tt.want {
			t.Errorf("floatStr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
