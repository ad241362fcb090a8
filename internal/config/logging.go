package config

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// SetupLogging installs the default slog logger. Output goes to stderr
// because stdout is reserved for the MCP stdio transport.
func SetupLogging(s *Settings) *slog.Logger {
	level := parseLevel(s.LogLevel)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Log logs the resolved settings in a granular way, masking secrets
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: data_dir", "value", s.DataDir)
	logger.InfoContext(ctx, "Config: chunking",
		"min", s.Chunking.MinChunkChars,
		"max", s.Chunking.MaxChunkChars,
		"overlap", s.Chunking.OverlapChars,
		"strategy", s.Chunking.Strategy)
	logger.InfoContext(ctx, "Config: embedding",
		"provider", s.Embedding.Provider,
		"model", s.Embedding.Model,
		"dimension", s.Embedding.Dimension,
		"batch_size", s.Embedding.BatchSize)
	if s.Embedding.APIKey != "" {
		logger.InfoContext(ctx, "Config: embedding.api_key", "value", "****")
	}
	logger.InfoContext(ctx, "Config: pipeline",
		"workers", s.Pipeline.Workers,
		"batch_size", s.Pipeline.BatchSize)
}
