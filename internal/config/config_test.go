package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		DataDir:  "/tmp/codegraph",
		LogLevel: "info",
		Chunking: ChunkingSettings{
			MinChunkChars: 200,
			MaxChunkChars: 1500,
			OverlapChars:  100,
			Strategy:      StrategyParagraph,
		},
		Embedding: EmbeddingSettings{
			Provider:  "local",
			Dimension: 384,
			BatchSize: 64,
			CacheSize: 10000,
		},
		Pipeline: PipelineSettings{
			Workers:   4,
			BatchSize: 5000,
		},
		Vector: VectorSettings{
			ShardCount: 16,
		},
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // keep a codegraph.yaml in the repo root out of the test

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.NotEmpty(t, s.DataDir)
	assert.Equal(t, "info", s.LogLevel)

	assert.Equal(t, 200, s.Chunking.MinChunkChars)
	assert.Equal(t, 1500, s.Chunking.MaxChunkChars)
	assert.Equal(t, 100, s.Chunking.OverlapChars)
	assert.Equal(t, StrategyParagraph, s.Chunking.Strategy)

	assert.Equal(t, "local", s.Embedding.Provider)
	assert.Equal(t, 384, s.Embedding.Dimension)
	assert.Equal(t, 64, s.Embedding.BatchSize)

	assert.Positive(t, s.Pipeline.Workers)
	assert.Equal(t, 5000, s.Pipeline.BatchSize)
	assert.Contains(t, s.Pipeline.IgnoreDirs, "node_modules")
	assert.True(t, s.Pipeline.IncludeDocs)

	assert.Zero(t, s.Vector.ProbeCount)
	assert.Equal(t, 16, s.Vector.ShardCount)
	assert.Equal(t, 500, s.Watch.DebounceMillis)
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CODEGRAPH_LOG_LEVEL", "debug")
	t.Setenv("CODEGRAPH_DATA_DIR", "/tmp/custom-data")
	t.Setenv("CODEGRAPH_EMBEDDING_PROVIDER", "ollama")

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "/tmp/custom-data", s.DataDir)
	assert.Equal(t, "ollama", s.Embedding.Provider)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validSettings().Validate())
}

func TestValidateChunking(t *testing.T) {
	s := validSettings()
	s.Chunking.MaxChunkChars = 100
	assert.Error(t, s.Validate())

	s = validSettings()
	s.Chunking.OverlapChars = 200
	assert.Error(t, s.Validate())

	s = validSettings()
	s.Chunking.OverlapChars = -1
	assert.Error(t, s.Validate())

	s = validSettings()
	s.Chunking.Strategy = "sentences"
	assert.Error(t, s.Validate())
}

func TestValidateEmbedding(t *testing.T) {
	s := validSettings()
	s.Embedding.Dimension = 512
	assert.Error(t, s.Validate())

	s = validSettings()
	s.Embedding.Dimension = 768
	assert.NoError(t, s.Validate())

	s = validSettings()
	s.Embedding.BatchSize = 0
	assert.Error(t, s.Validate())
}

func TestValidatePipeline(t *testing.T) {
	s := validSettings()
	s.Pipeline.Workers = 0
	assert.Error(t, s.Validate())

	s = validSettings()
	s.Pipeline.BatchSize = -1
	assert.Error(t, s.Validate())
}

func TestValidateVector(t *testing.T) {
	s := validSettings()
	s.Vector.ShardCount = 0
	assert.Error(t, s.Validate())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in).String(), tt.in)
	}
}
