package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ChunkStrategy constants
const (
	StrategyParagraph = "paragraph"
	StrategyFixed     = "fixed"
)

// ChunkingSettings holds the resolved numeric chunking configuration
type ChunkingSettings struct {
	MinChunkChars int    `mapstructure:"min_chunk_chars"`
	MaxChunkChars int    `mapstructure:"max_chunk_chars"`
	OverlapChars  int    `mapstructure:"overlap_chars"`
	Strategy      string `mapstructure:"strategy"`
}

// EmbeddingSettings configuration for the embedding provider
type EmbeddingSettings struct {
	Provider  string `mapstructure:"provider"` // ollama, openai, local
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	Endpoint  string `mapstructure:"endpoint"`
	Dimension int    `mapstructure:"dimension"`
	BatchSize int    `mapstructure:"batch_size"`
	CacheSize int    `mapstructure:"cache_size"`
}

// PipelineSettings configuration for the indexing pipeline
type PipelineSettings struct {
	Workers     int      `mapstructure:"workers"`
	BatchSize   int      `mapstructure:"batch_size"` // symbols per collect batch
	IgnoreDirs  []string `mapstructure:"ignore_dirs"`
	IncludeDocs bool     `mapstructure:"include_docs"`
}

// VectorSettings configuration for the vector store
type VectorSettings struct {
	ProbeCount int `mapstructure:"probe_count"` // 0 = auto (≈ sqrt(N) vectors examined)
	ShardCount int `mapstructure:"shard_count"` // symbol cache shards, fixed at startup
}

// WatchSettings configuration for the file watcher
type WatchSettings struct {
	DebounceMillis int `mapstructure:"debounce_millis"`
}

// Settings application settings
type Settings struct {
	DataDir   string            `mapstructure:"data_dir"`
	LogLevel  string            `mapstructure:"log_level"`
	Chunking  ChunkingSettings  `mapstructure:"chunking"`
	Embedding EmbeddingSettings `mapstructure:"embedding"`
	Pipeline  PipelineSettings  `mapstructure:"pipeline"`
	Vector    VectorSettings    `mapstructure:"vector"`
	Watch     WatchSettings     `mapstructure:"watch"`
}

// LoadSettings loads settings from environment variables and an optional config file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > config file > defaults.
// If flags is nil, only env vars, file, and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("log_level", "info")

	// Chunking defaults
	v.SetDefault("chunking.min_chunk_chars", 200)
	v.SetDefault("chunking.max_chunk_chars", 1500)
	v.SetDefault("chunking.overlap_chars", 100)
	v.SetDefault("chunking.strategy", StrategyParagraph)

	// Embedding defaults
	v.SetDefault("embedding.provider", "local")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.cache_size", 10000)

	// Pipeline defaults
	v.SetDefault("pipeline.workers", runtime.NumCPU())
	v.SetDefault("pipeline.batch_size", 5000)
	v.SetDefault("pipeline.ignore_dirs", []string{"vendor", "node_modules", ".git"})
	v.SetDefault("pipeline.include_docs", true)

	// Vector store defaults
	v.SetDefault("vector.probe_count", 0)
	v.SetDefault("vector.shard_count", 16)

	// Watcher defaults
	v.SetDefault("watch.debounce_millis", 500)

	// Environment variables
	v.SetEnvPrefix("CODEGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config
	_ = v.BindEnv("embedding.provider", "CODEGRAPH_EMBEDDING_PROVIDER")
	_ = v.BindEnv("embedding.api_key", "CODEGRAPH_EMBEDDING_API_KEY")
	_ = v.BindEnv("embedding.endpoint", "CODEGRAPH_EMBEDDING_ENDPOINT")
	_ = v.BindEnv("data_dir", "CODEGRAPH_DATA_DIR")
	_ = v.BindEnv("log_level", "CODEGRAPH_LOG_LEVEL")

	// Optional config file
	v.SetConfigName("codegraph")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".codegraph"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate checks the resolved settings for consistency
func (s *Settings) Validate() error {
	if s.Chunking.MinChunkChars <= 0 || s.Chunking.MaxChunkChars <= s.Chunking.MinChunkChars {
		return errors.New("chunking: max_chunk_chars must be greater than min_chunk_chars")
	}
	if s.Chunking.OverlapChars < 0 || s.Chunking.OverlapChars >= s.Chunking.MinChunkChars {
		return errors.New("chunking: overlap_chars must be in [0, min_chunk_chars)")
	}
	switch s.Chunking.Strategy {
	case StrategyParagraph, StrategyFixed:
	default:
		return errors.New("chunking: unknown strategy " + s.Chunking.Strategy)
	}

	switch s.Embedding.Dimension {
	case 384, 768, 1024:
	default:
		return errors.New("embedding: dimension must be one of 384, 768, 1024")
	}
	if s.Embedding.BatchSize <= 0 {
		return errors.New("embedding: batch_size must be positive")
	}

	if s.Pipeline.Workers <= 0 {
		return errors.New("pipeline: workers must be positive")
	}
	if s.Pipeline.BatchSize <= 0 {
		return errors.New("pipeline: batch_size must be positive")
	}

	if s.Vector.ShardCount <= 0 {
		return errors.New("vector: shard_count must be positive")
	}

	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codegraph"
	}
	return filepath.Join(home, ".codegraph")
}
