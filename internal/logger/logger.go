package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger is the global logger instance. It discards output until Init is called.
	Logger = zerolog.Nop()
)

// Options controls where and how logs are written
type Options struct {
	Level string
	// Output is "stdout" (default), "stderr" or "file"
	Output     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init initializes the global logger writing to stdout
func Init(level string) {
	InitWithOptions(Options{Level: level})
}

// InitWithOptions initializes the global logger
func InitWithOptions(opts Options) {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := newWriter(opts)

	// Pretty console logging in development
	if os.Getenv("ENV") == "development" && opts.Output != "file" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger with context
	Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()

	Logger.Info().
		Str("level", logLevel.String()).
		Str("output", opts.Output).
		Msg("logger initialized")
}

// newWriter picks the log destination; file output rotates through lumberjack
func newWriter(opts Options) io.Writer {
	switch opts.Output {
	case "stderr":
		return os.Stderr
	case "file":
		if opts.FilePath == "" {
			return os.Stderr
		}
		if dir := filepath.Dir(opts.FilePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return os.Stderr
			}
		}
		return &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
	default:
		return os.Stdout
	}
}

// SetOutput replaces the global logger with one writing to w. Used by tests.
func SetOutput(w io.Writer) {
	Logger = zerolog.New(w).With().Timestamp().Logger()
}

// WithComponent returns a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRequestID returns a logger with a request ID field
func WithRequestID(requestID string) zerolog.Logger {
	return Logger.With().Str("request_id", requestID).Logger()
}

// WithError returns a logger with an error field
func WithError(err error) zerolog.Logger {
	return Logger.With().Err(err).Logger()
}
