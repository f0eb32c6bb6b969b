package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
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
model:
  provider: azure
  max_tokens: 8192
  temperature: 0.3
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
qdrant:
  host: qdrant.internal
  port: 6334
  collection: my-docs
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"LOG_LEVEL", "LOG_FORMAT",
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
		"MODEL_PROVIDER":           "azure",
		"MODEL_MAX_TOKENS":         "8192",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
		"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"QDRANT_HOST":              "qdrant.internal",
		"QDRANT_PORT":              "6334",
		"QDRANT_COLLECTION":        "my-docs",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_ClosedConfigSet(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
docs:
  parsed_dir: /var/ragcore/parsed
  index_dir: /var/ragcore/index
  jdk_version: "21"
rag:
  search_top_k: 40
  search_return_k: 8
qdrant:
  dense_vector_name: dense
  sparse_vector_name: sparse
  prefetch_limit: 50
  rrf_k: 60
  query_timeout: 5s
  fail_on_partial_search_error: false
  collections:
    docs: ragcore-docs
    pdfs: ragcore-pdfs
    books: ragcore-books
    articles: ragcore-articles
embedding:
  base_url: http://localhost:11434
  batch_size: 32
llm:
  primary_provider: openai
  primary_backoff_seconds: 600
  streaming_request_timeout_seconds: 600
  streaming_read_timeout_seconds: 75
  reasoning_effort: medium
  max_output_tokens: 2048
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	envKeys := []string{
		"DOCS_PARSED_DIR", "DOCS_INDEX_DIR", "DOCS_JDK_VERSION",
		"RAG_SEARCH_TOP_K", "RAG_SEARCH_RETURN_K",
		"QDRANT_DENSE_VECTOR_NAME", "QDRANT_SPARSE_VECTOR_NAME", "QDRANT_PREFETCH_LIMIT",
		"QDRANT_RRF_K", "QDRANT_QUERY_TIMEOUT",
		"QDRANT_COLLECTIONS_DOCS", "QDRANT_COLLECTIONS_PDFS", "QDRANT_COLLECTIONS_BOOKS", "QDRANT_COLLECTIONS_ARTICLES",
		"EMBEDDING_ENDPOINT", "EMBEDDING_BATCH_SIZE",
		"LLM_PRIMARY_PROVIDER", "LLM_PRIMARY_BACKOFF_SECONDS",
		"LLM_STREAMING_REQUEST_TIMEOUT_SECONDS", "LLM_STREAMING_READ_TIMEOUT_SECONDS",
		"LLM_REASONING_EFFORT", "LLM_MAX_OUTPUT_TOKENS",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	if _, err := Load(cfgPath, log); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	checks := map[string]string{
		"DOCS_PARSED_DIR":                        "/var/ragcore/parsed",
		"DOCS_INDEX_DIR":                          "/var/ragcore/index",
		"DOCS_JDK_VERSION":                        "21",
		"RAG_SEARCH_TOP_K":                        "40",
		"RAG_SEARCH_RETURN_K":                     "8",
		"QDRANT_DENSE_VECTOR_NAME":                "dense",
		"QDRANT_SPARSE_VECTOR_NAME":               "sparse",
		"QDRANT_PREFETCH_LIMIT":                   "50",
		"QDRANT_RRF_K":                             "60",
		"QDRANT_QUERY_TIMEOUT":                    "5s",
		"QDRANT_COLLECTIONS_DOCS":                 "ragcore-docs",
		"QDRANT_COLLECTIONS_PDFS":                 "ragcore-pdfs",
		"QDRANT_COLLECTIONS_BOOKS":                "ragcore-books",
		"QDRANT_COLLECTIONS_ARTICLES":             "ragcore-articles",
		"EMBEDDING_ENDPOINT":                      "http://localhost:11434",
		"EMBEDDING_BATCH_SIZE":                    "32",
		"LLM_PRIMARY_PROVIDER":                    "openai",
		"LLM_PRIMARY_BACKOFF_SECONDS":             "600",
		"LLM_STREAMING_REQUEST_TIMEOUT_SECONDS":   "600",
		"LLM_STREAMING_READ_TIMEOUT_SECONDS":      "75",
		"LLM_REASONING_EFFORT":                    "medium",
		"LLM_MAX_OUTPUT_TOKENS":                   "2048",
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
model:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading — it should NOT be overwritten.
	t.Setenv("MODEL_PROVIDER", "azure")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "azure", got)
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

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
