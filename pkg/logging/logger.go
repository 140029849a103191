// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for AleutianCases services.
//
// The package is a thin layer over the standard library slog package.
// Services log JSON to stdout for container log collection; an optional
// log directory duplicates every record into a per-service file.
//
// # Basic Usage
//
//	logger, err := logging.Setup(logging.Config{Service: "caseresolver"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Close()
//	slog.Info("starting", "port", 12310)
//
// Setup installs the logger as the slog default, so packages log
// through the plain slog API without carrying a logger around.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying slog handlers are
// thread-safe and Close is idempotent.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum level to emit: "debug", "info", "warn",
	// "error". Default: "info".
	Level string

	// Service names the component, used for the log file name.
	// Default: "resolver".
	Service string

	// LogDir, when non-empty, duplicates records into
	// {LogDir}/{Service}_{date}.log. The directory is created if
	// missing.
	LogDir string
}

// Logger owns the optional log file. Logging itself goes through slog.
type Logger struct {
	slog *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Setup builds the logger and installs it as the slog default.
func Setup(cfg Config) (*Logger, error) {
	if cfg.Service == "" {
		cfg.Service = "resolver"
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	l := &Logger{}
	handlers := []slog.Handler{slog.NewJSONHandler(os.Stdout, opts)}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := fmt.Sprintf("%s_%s.log", cfg.Service, time.Now().Format("2006-01-02"))
		file, err := os.OpenFile(filepath.Join(cfg.LogDir, name),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	var handler slog.Handler = handlers[0]
	if len(handlers) > 1 {
		handler = &multiHandler{handlers: handlers}
	}

	l.slog = slog.New(handler).With("service", cfg.Service)
	slog.SetDefault(l.slog)

	return l, nil
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if any. Safe to call more than
// once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// parseLevel maps a level name onto slog's levels. Unknown names fall
// back to info.
func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

// multiHandler fans each record out to every underlying handler.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
