package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"database": {"dsn": "postgres://localhost/docs"},
		"ai": {
			"embed": [{"name": "gemini", "data": {"api_key": "k"}}],
			"generate": [{"name": "gemini", "data": {"api_key": "k"}}]
		},
		"sources": [{"url": "https://docs.stripe.com/payments", "use_renderer": true}]
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.Pipeline.ChunkSize)
	require.Equal(t, 200, cfg.Pipeline.ChunkOverlap)
	require.Equal(t, 768, cfg.AI.EmbedDimension)
	require.Equal(t, float32(0.5), cfg.Answer.MinScore)
	require.Equal(t, 5, cfg.Answer.TopK)
	require.Equal(t, "pgvector", cfg.VectorIndex.Type)
	require.Equal(t, "none", cfg.Capability.Type)
	require.Len(t, cfg.Sources, 1)
	require.True(t, cfg.Sources[0].UseRenderer)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
database:
  dsn: postgres://localhost/docs
ai:
  embed:
    - name: openai
      data:
        api_key: k
  generate:
    - name: openai
      data:
        api_key: k
pipeline:
  chunk_size: 500
  chunk_overlap: 50
answer:
  min_score: 0.7
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 500, cfg.Pipeline.ChunkSize)
	require.Equal(t, 50, cfg.Pipeline.ChunkOverlap)
	require.InDelta(t, 0.7, cfg.Answer.MinScore, 1e-6)
}

func TestValidateRejectsBadOverlap(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{DSN: "x"},
		AI: AIConfig{
			Embed:    []ProviderConfig{{Name: "gemini"}},
			Generate: []ProviderConfig{{Name: "gemini"}},
		},
		Pipeline: PipelineConfig{ChunkSize: 100, ChunkOverlap: 100},
	}
	ApplyDefaults(cfg)
	require.Error(t, Validate(cfg))
}

func TestValidateRequiresDatabase(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	require.ErrorContains(t, Validate(cfg), "database")
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"DATABASE_URL":        "postgres://env/db",
		"GEMINI_API_KEY":      "secret",
		"EMBED_BATCH_SIZE":    "9",
		"ANSWER_MIN_SCORE":    "0.65",
		"VECTOR_INDEX_TYPE":   "qdrant",
		"EMBEDDING_DIMENSION": "1536",
	}
	cfg := &Config{}
	ApplyEnv(cfg, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	require.Equal(t, "postgres://env/db", cfg.Database.DSN)
	require.Equal(t, 9, cfg.Pipeline.BatchSize)
	require.InDelta(t, 0.65, cfg.Answer.MinScore, 1e-6)
	require.Equal(t, "qdrant", cfg.VectorIndex.Type)
	require.Equal(t, 1536, cfg.AI.EmbedDimension)
	require.Len(t, cfg.AI.Embed, 1)
	require.Equal(t, "secret", cfg.AI.Embed[0].Data["api_key"])
	require.Len(t, cfg.AI.Generate, 1)
}

func TestApplyEnvKeepsExplicitKey(t *testing.T) {
	cfg := &Config{AI: AIConfig{Embed: []ProviderConfig{{Name: "gemini", Data: map[string]interface{}{"api_key": "file"}}}}}
	ApplyEnv(cfg, func(key string) (string, bool) {
		if key == "GEMINI_API_KEY" {
			return "env", true
		}
		return "", false
	})
	require.Equal(t, "file", cfg.AI.Embed[0].Data["api_key"])
}

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	path := writeFile(t, "config.yaml", `
database:
  dsn: postgres://localhost/docs
ai:
  embed:
    - name: gemini
  generate:
    - name: gemini
pipeline:
  chunk_overlap: 0
  item_delay_ms: 0
  batch_delay_ms: 0
answer:
  min_score: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Zero(t, cfg.Pipeline.ChunkOverlap)
	require.Zero(t, cfg.Pipeline.ItemDelayMS)
	require.Zero(t, cfg.Pipeline.BatchDelayMS)
	require.Equal(t, 1000, cfg.Pipeline.ScrapeDelayMS)
	require.Zero(t, cfg.Answer.MinScore)
}

func TestLoadKeepsZeroMinScoreFromEnv(t *testing.T) {
	t.Setenv("ANSWER_MIN_SCORE", "0")
	path := writeFile(t, "config.json", `{
		"database": {"dsn": "postgres://localhost/docs"},
		"ai": {"embed": [{"name": "gemini"}], "generate": [{"name": "gemini"}]}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Zero(t, cfg.Answer.MinScore)
	require.Equal(t, 200, cfg.Pipeline.ChunkOverlap)
}
