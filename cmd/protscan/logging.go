package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

var logCloser io.Closer

// setupLogging builds the logger from the global flags. Logs go to stderr
// unless --log-file is given; --verbose lowers the level to debug and
// --quiet raises it to error.
func setupLogging() error {
	var w io.Writer = os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w, logCloser = f, f
	}

	level := slog.LevelWarn
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	switch logFormat {
	case "text":
		logger = slog.New(slog.NewTextHandler(w, opts))
	case "json":
		logger = slog.New(slog.NewJSONHandler(w, opts))
	default:
		return fmt.Errorf("unknown log format %q", logFormat)
	}
	return nil
}

func closeLogging() error {
	if logCloser == nil {
		return nil
	}
	err := logCloser.Close()
	logCloser = nil
	return err
}
