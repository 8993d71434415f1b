// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Thermoquad/musestat/internal/config"
)

// setupLogging installs the process-wide logger. Diagnostics go to stderr so
// stdout stays clean for frame output.
func setupLogging(c config.LoggingConfig) *slog.Logger {
	l := newLogger(os.Stderr, c)
	slog.SetDefault(l)
	return l
}

func newLogger(w io.Writer, c config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
