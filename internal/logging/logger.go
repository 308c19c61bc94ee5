// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging builds the structured slog.Logger shared by every Stream
// component (spec.md §10): one construction call per Stream, stamped with
// the run's identity so every line written over its lifetime can be
// correlated back to one acquisition run.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// component is attached to every logger this package builds, so log lines
// from zarrstream are distinguishable when aggregated alongside a host
// application's own logging.
const component = "zarrstream"

// NewLogger builds a slog.Logger configured with the given level, format,
// and output. Supported formats are "json" (default) and "text"; supported
// levels are "debug", "info" (default), "warn", "error". When filePath is
// non-empty, logs go to stdout and the file (io.MultiWriter); the returned
// io.Closer must be called on shutdown to flush and close the file. When
// filePath is empty the returned Closer is a no-op.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			// Can't open the log file: fall back to stdout only, after
			// surfacing the reason on stderr.
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("component", component), closer
}

// NewRunLogger builds a logger the same way as NewLogger, then stamps it
// with runID so every line emitted over one Stream's lifetime — across its
// ThreadPool, SinkFactory, ArrayWriters, and multiscale Engine — carries the
// same run_id field. streamcore.New is the sole caller: it mints runID once
// per Stream and never reuses it.
func NewRunLogger(level, format, filePath, runID string) (*slog.Logger, io.Closer) {
	logger, closer := NewLogger(level, format, filePath)
	return logger.With("run_id", runID), closer
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
