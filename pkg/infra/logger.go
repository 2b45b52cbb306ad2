package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/Guizzs26/go-doener-saga/internal/config"
)

var (
	logFile   *os.File
	logFileMu sync.Mutex
)

// SetupLogger builds the process logger. Every record carries the service name
func SetupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			logFileMu.Lock()
			logFile = f
			logFileMu.Unlock()
			out = io.MultiWriter(os.Stdout, f)
		}
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if strings.ToUpper(cfg.LogFormat) == "JSON" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler).With("service", cfg.ServiceName)
}

// CloseLogger flushes and closes the log file opened by SetupLogger, if any
func CloseLogger() {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
}
