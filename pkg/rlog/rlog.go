// Package rlog provides the process-wide logger used throughout replisync.
// It exposes package-level leveled logging functions that accept alternating
// key/value pairs, backed by a zerolog.Logger.
package rlog

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
)

// SetOutput redirects the logger's output, primarily for testing.
// The replacement logger writes plain JSON so tests can parse records.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel sets the global minimum level.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// LevelFromString maps a config string to a zerolog level.
// Unknown strings fall back to Info.
func LevelFromString(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// fields converts alternating key/value arguments into a map.
// A trailing key without a value is dropped.
func fields(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	m := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		m[key] = args[i+1]
	}
	return m
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs a debug message with optional key/value pairs.
func Debug(msg string, args ...any) {
	l := current()
	l.Debug().Fields(fields(args)).Msg(msg)
}

// Info logs an informational message with optional key/value pairs.
func Info(msg string, args ...any) {
	l := current()
	l.Info().Fields(fields(args)).Msg(msg)
}

// Warn logs a warning message with optional key/value pairs.
func Warn(msg string, args ...any) {
	l := current()
	l.Warn().Fields(fields(args)).Msg(msg)
}

// Error logs an error message with optional key/value pairs.
func Error(msg string, args ...any) {
	l := current()
	l.Error().Fields(fields(args)).Msg(msg)
}
