package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents a log level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the log output format.
type Format string

// Output formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level

	// Format is the output format (text or json).
	Format Format

	// Output is the console writer. Defaults to os.Stderr.
	Output io.Writer

	// File, when set, also appends every record to this path in the same format.
	File string

	// AddSource adds source file and line to log entries.
	AddSource bool
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatText,
		Output: os.Stderr,
	}
}

// New creates a logger writing to cfg.Output only. Use Open when cfg.File may be set.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return slog.New(newHandler(cfg.Output, cfg))
}

// Open creates a logger for cfg, opening cfg.File for appending if set.
// The returned closer releases the file and must be called on shutdown.
func Open(cfg Config) (*slog.Logger, io.Closer, error) {
	if cfg.File == "" {
		return New(cfg), nopCloser{}, nil
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	handler := NewMultiHandler(newHandler(cfg.Output, cfg), newHandler(f, cfg))
	return slog.New(handler), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}
	if cfg.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Nop returns a logger that discards all output.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrNop returns logger, or Nop if logger is nil.
func OrNop(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

// ParseLevel parses a log level name, ignoring case.
// Unrecognized names yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseFormat parses a log format name, ignoring case.
// Unrecognized names yield FormatText.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}

// ValidLevel reports whether s names a level ParseLevel understands.
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case "", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// ValidFormat reports whether s names a format ParseFormat understands.
func ValidFormat(s string) bool {
	switch strings.ToLower(s) {
	case "", "text", "json":
		return true
	}
	return false
}
