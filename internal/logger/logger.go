// Package logger provides structured logging for contentvcs
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with engine-specific helpers
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// ParseLevel maps a level name to zerolog, defaulting to info
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "contentvcs").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog returns the underlying zerolog logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a child logger tagged with a component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// OpLogger returns a child logger for one operation on a content item
func (l *Logger) OpLogger(op, contentID string) zerolog.Logger {
	ctx := l.zlog.With().Str("component", "engine").Str("op", op)
	if contentID != "" {
		ctx = ctx.Str("content_id", contentID)
	}
	return ctx.Logger()
}

// LogOperation logs a finished engine operation. Failures are logged at
// warn since most are caller input errors.
func (l *Logger) LogOperation(op, contentID string, duration time.Duration, err error) {
	event := l.zlog.Debug()
	if err != nil {
		event = l.zlog.Warn().Err(err)
	}
	event.
		Str("component", "engine").
		Str("op", op).
		Str("content_id", contentID).
		Dur("duration_ms", duration).
		Msg("operation completed")
}

// LogBackupFailure logs a backup that could not be taken after a mutation
// succeeded
func (l *Logger) LogBackupFailure(contentID, versionID, backupType string, err error) {
	l.zlog.Error().
		Err(err).
		Str("component", "backup").
		Str("content_id", contentID).
		Str("version_id", versionID).
		Str("backup_type", backupType).
		Msg("backup request failed; mutation kept")
}

// LogStartup logs engine startup
func (l *Logger) LogStartup(journalPath, backend string, items int) {
	l.zlog.Info().
		Str("event", "engine_open").
		Str("journal", journalPath).
		Str("backup_backend", backend).
		Int("content_items", items).
		Msg("contentvcs engine opened")
}

// LogShutdown logs engine shutdown
func (l *Logger) LogShutdown() {
	l.zlog.Info().
		Str("event", "engine_close").
		Msg("contentvcs engine closing")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = globalLogger.Zerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
