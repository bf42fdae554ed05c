package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logger = initLogger(os.Stdout)

// initLogger installs the process logger. LOG_LEVEL picks the level and
// LOG_FORMAT=text switches from JSON to logfmt-style output.
func initLogger(w io.Writer) *slog.Logger {
	level := new(slog.LevelVar)
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "text") {
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h).With("service", "photo-export")
	slog.SetDefault(l)
	return l
}
