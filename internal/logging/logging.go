package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LevelDebug is the debug log level
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

var (
	currentLevel LogLevel
	logger       zerolog.Logger
	initOnce     sync.Once
	mu           sync.RWMutex
)

// parseLevel maps the DEBUG and LOG_LEVEL values onto a LogLevel.
// DEBUG wins when it holds a truthy value.
func parseLevel(debug, level string) LogLevel {
	switch strings.ToLower(debug) {
	case "1", "true", "yes", "on":
		return LevelDebug
	}

	switch strings.ToLower(level) {
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

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func newWriter(format string) io.Writer {
	if strings.EqualFold(format, "json") {
		return os.Stderr
	}
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

// initLogger sets the level and output format from the environment on first use.
func initLogger() {
	initOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		currentLevel = parseLevel(os.Getenv("DEBUG"), os.Getenv("LOG_LEVEL"))
		logger = zerolog.New(newWriter(os.Getenv("LOG_FORMAT"))).
			Level(currentLevel.zerolog()).
			With().Timestamp().Logger()
	})
}

// SetOutput redirects log output, keeping the current level. Used by tests
// and by commands that want plain JSON on another stream.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(w).Level(currentLevel.zerolog()).With().Timestamp().Logger()
}

// SetLevel overrides the level resolved from the environment.
func SetLevel(l LogLevel) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	currentLevel = l
	logger = logger.Level(l.zerolog())
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

// With returns a child context of the shared logger for attaching
// structured fields, e.g. logging.With().Str("media_id", id).Logger().
func With() zerolog.Context {
	return current().With()
}

func current() *zerolog.Logger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...interface{}) {
	current().Debug().Msgf(format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	current().Info().Msgf(format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	current().Warn().Msgf(format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	current().Error().Msgf(format, args...)
}

// Fatal logs an error message and exits
func Fatal(format string, args ...interface{}) {
	l := current()
	l.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	os.Exit(1)
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}
