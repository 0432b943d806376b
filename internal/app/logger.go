package app

import (
	"log/slog"
	"os"
)

// NewLogger returns a configured slog.Logger based on configuration. Every
// record carries the service name and environment so log lines from the API
// server and the worker are distinguishable in shared sinks.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	env := "development"
	format := ""
	if cfg != nil {
		env = cfg.AppEnv
		format = cfg.LogFormat
		if cfg.IsProduction() {
			opts.AddSource = false
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(
		slog.String("service", "sentra"),
		slog.String("env", env),
	)
}
