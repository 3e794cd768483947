// Package logging builds the process logger: colored console output by default, JSON on
// request, and an optional rotated log file next to the console.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	// Level is one of debug, info, warn or error.
	Level string
	// Format is text for the colored console handler or json.
	Format string
	// File is an optional path that receives a copy of every record, rotated by size.
	File string
}

const (
	fileMaxSizeMB  = 10
	fileMaxBackups = 3
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger writing to console, plus a closer for the log file if one was
// configured. The closer is never nil.
func New(cfg Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var closer io.Closer = nopCloser{}
	w := console
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    fileMaxSizeMB,
			MaxBackups: fileMaxBackups,
		}
		closer = lj
		w = io.MultiWriter(console, lj)
	}

	var handler slog.Handler
	switch cfg.Format {
	case "", "text":
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			// Escape codes would end up in the log file.
			NoColor: cfg.File != "",
		})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return slog.New(handler), closer, nil
}

// ParseLevel maps a level name to its slog.Level. An empty name means info.
func ParseLevel(name string) (slog.Level, error) {
	if name == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}
