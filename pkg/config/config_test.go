package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: llama3
  max_tokens: 1024
embedding:
  model: nomic-embed-text:latest
  batch_size: 8
database:
  url: postgres://localhost:5432/ragline
chunker:
  chunk_size: 500
  chunk_overlap: 50
pipeline:
  top_k: 3
  score_floor: 0.25
ui:
  disable_streaming: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.Equal(t, 8, cfg.Embedding.BatchSize)
	assert.Equal(t, "postgres://localhost:5432/ragline", cfg.Database.URL)
	assert.Equal(t, 500, cfg.Chunker.ChunkSize)
	assert.Equal(t, 50, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 3, cfg.Pipeline.TopK)
	assert.Equal(t, 0.25, cfg.Pipeline.ScoreFloor)
	assert.True(t, cfg.UI.DisableStreaming)

	// Unset fields fall back to defaults.
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	assert.Equal(t, 4, cfg.Embedding.MaxInFlight)
	assert.Equal(t, "ragline_chunks", cfg.Database.TableName)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, "nomic-embed-text:latest", cfg.Embedding.Model)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.Equal(t, 3, cfg.Embedding.MaxAttempts)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.Equal(t, 768, cfg.Database.VectorDim)

	assert.Empty(t, cfg.Validate(), "defaults must validate cleanly")
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://ollama.internal:11434")
	t.Setenv("DATABASE_URL", "postgres://db.internal:5432/ragline")
	t.Setenv("EMBEDDING_MODEL", "mxbai-embed-large")
	t.Setenv("PORT", "9090")

	path := writeConfig(t, `
llm:
  base_url: http://localhost:11434
server:
  port: "8080"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://ollama.internal:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "postgres://db.internal:5432/ragline", cfg.Database.URL)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedding.Model)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfig(t, "llm: [not: a: mapping")

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := getDefaultConfig()
	require.NoError(t, err)

	cfg.LLM.MaxTokens = 100000
	cfg.Embedding.BatchSize = 0
	cfg.Chunker.ChunkOverlap = cfg.Chunker.ChunkSize
	cfg.Pipeline.TopK = 0
	cfg.Pipeline.ScoreFloor = 1.5

	errs := cfg.Validate()
	require.Len(t, errs, 5)

	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
	}
	assert.Contains(t, fields, "llm.max_tokens")
	assert.Contains(t, fields, "embedding.batch_size")
	assert.Contains(t, fields, "chunker.chunk_overlap")
	assert.Contains(t, fields, "pipeline.top_k")
	assert.Contains(t, fields, "pipeline.score_floor")
}
