package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	File       string // log file path; empty disables file output
	Console    bool   // enable console output
	Pretty     bool   // human-readable console output
	Redaction  bool   // mask access tokens and credentials
	MaxSize    int    // megabytes before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		Redaction:  true,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}
}

// Logger owns the writers behind a zerolog.Logger.
type Logger struct {
	zerolog.Logger
	file *lumberjack.Logger
}

// New creates a logger writing to the console and/or a rotated file.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.Console {
		var console io.Writer = os.Stdout
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}
		writers = append(writers, console)
	}

	var file *lumberjack.Logger
	if cfg.File != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, file)
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = os.Stdout
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}
	if cfg.Redaction {
		w = NewRedactor().Wrap(w)
	}

	return &Logger{
		Logger: zerolog.New(w).Level(level).With().Timestamp().Logger(),
		file:   file,
	}
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Nop returns a disabled logger, handy as a default for optional loggers.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
