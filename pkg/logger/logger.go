package logger

import (
	"log/slog"
	"os"
)

const serviceName = "payment-hub"

var root *slog.Logger

// Init configures the process logger. Production and staging emit JSON at
// info level; any other env gets a human-readable handler at debug.
func Init(env string) {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}

	var handler slog.Handler
	switch env {
	case "production", "staging":
		opts.Level = slog.LevelInfo
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	root = slog.New(handler).With("service", serviceName)
	slog.SetDefault(root)
}

// L returns the process logger.
func L() *slog.Logger {
	if root == nil {
		// lazy initialize a development logger to avoid nil pointer panics
		Init("development")
	}
	return root
}
