package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production runs emit JSON at info;
// everything else gets text at debug with source locations for local work.
func NewLogger(cfg *Config) *slog.Logger {
	if cfg != nil && cfg.LogFormat == "json" {
		level := slog.LevelDebug
		if cfg.IsProduction() {
			level = slog.LevelInfo
		}
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}))
}
