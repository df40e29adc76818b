package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production emits JSON for log
// shipping; everything else stays human-readable text. The service
// attribute lets the shared log pipeline tell the API and the worker
// apart.
func NewLogger(cfg *Config, service string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg != nil && !cfg.IsProduction() {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}

	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("service", service))
}
