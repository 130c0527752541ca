package main

import (
	"fmt"
	"log/slog"
	"os"
)

// Environment fallbacks for the logging flags. Priority is CLI flag,
// then env var, then default.
const (
	logLevelEnvVar  = "KEPLER_LOG_LEVEL"
	logFormatEnvVar = "KEPLER_LOG_FORMAT"
	logFileEnvVar   = "KEPLER_LOG_FILE"
)

// initLogger builds the process logger from CLI flags and environment
// variables and installs it as the slog default. The returned cleanup
// closes the log file when one was opened.
func initLogger(cli *CLI) (*slog.Logger, func(), error) {
	levelName := firstNonEmpty(cli.LogLevel, os.Getenv(logLevelEnvVar), "info")
	format := firstNonEmpty(cli.LogFormat, os.Getenv(logFormatEnvVar), "text")
	logFile := firstNonEmpty(cli.LogFile, os.Getenv(logFileEnvVar))

	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", levelName)
	}

	output := os.Stderr
	cleanup := func() {}
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = func() { file.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		cleanup()
		return nil, nil, fmt.Errorf("invalid log format: %s", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
