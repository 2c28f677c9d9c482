package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LevelSuccess is the extra level written for completed steps. zerolog has
// no such level, so success entries are emitted at NoLevel with an explicit
// level field.
const LevelSuccess = "success"

// logFilePrefix and logFileLayout name the per-run log files.
const (
	logFilePrefix = "upkeep-"
	logFileLayout = "20060102-150405"
)

// Logger wraps zerolog.Logger with run-log functionality.
type Logger struct {
	zlog zerolog.Logger
	file *os.File
	path string
}

// loggerContextKey is the context key for logger instances.
type loggerContextKey struct{}

// NewLogger opens the run log file (when cfg.Dir is set), prunes old run
// logs and returns a logger writing to the file and the optional console.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var (
		writers []io.Writer
		file    *os.File
		path    string
	)

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		started := cfg.StartedAt
		if started.IsZero() {
			started = time.Now()
		}
		path = filepath.Join(cfg.Dir, RunLogName(started))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open run log: %w", err)
		}
		file = f
		writers = append(writers, newConsoleWriter(f, false))

		retain := cfg.Retain
		if retain < 1 {
			retain = DefaultRetain
		}
		if _, err := PruneRunLogs(cfg.Dir, retain); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	if cfg.Console != nil {
		writers = append(writers, newConsoleWriter(cfg.Console, cfg.ConsoleColor))
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	zlog := zerolog.New(out).With().Timestamp().Logger().Level(parseLogLevel(cfg.Level))

	return &Logger{zlog: zlog, file: file, path: path}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// NewWriterLogger returns a logger writing plain console lines to w.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{zlog: zerolog.New(newConsoleWriter(w, false)).With().Timestamp().Logger()}
}

// newConsoleWriter formats entries as "time LEVEL message key=value".
func newConsoleWriter(w io.Writer, color bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:         w,
		NoColor:     !color,
		TimeFormat:  time.RFC3339,
		FormatLevel: formatLevel(color),
	}
}

// formatLevel renders INFO, WARN, ERROR, SUCCESS and DEBUG, padded to a
// fixed width so messages line up.
func formatLevel(color bool) zerolog.Formatter {
	colors := map[string]string{
		"info":       "\x1b[36m",
		"warn":       "\x1b[33m",
		"error":      "\x1b[31m",
		LevelSuccess: "\x1b[32m",
	}
	return func(i interface{}) string {
		s, _ := i.(string)
		var label string
		switch s {
		case "warn":
			label = "WARN"
		case "":
			label = "INFO"
		default:
			label = strings.ToUpper(s)
		}
		label = fmt.Sprintf("%-7s", label)
		if c, ok := colors[s]; ok && color {
			return c + label + "\x1b[0m"
		}
		return label
	}
}

// RunLogName returns the file name of the run log started at t.
func RunLogName(t time.Time) string {
	return logFilePrefix + t.Format(logFileLayout) + ".log"
}

// PruneRunLogs deletes all but the newest keep run logs in dir and returns
// the removed paths. File names sort chronologically.
func PruneRunLogs(dir string, keep int) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, logFilePrefix+"*.log"))
	if err != nil {
		return nil, err
	}
	if len(matches) <= keep {
		return nil, nil
	}
	sort.Strings(matches)

	var removed []string
	for _, path := range matches[:len(matches)-keep] {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("prune run log: %w", err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// Path returns the run log file path, or "" when logging to console only.
func (l *Logger) Path() string {
	return l.path
}

// Close flushes and closes the run log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Zerolog exposes the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.derive(l.zlog.With().Str("component", component).Logger())
}

// WithContext adds the logger to the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext retrieves the logger from the context.
// If no logger is found, it returns a logger that discards everything.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return NewNopLogger()
}

// WithField returns a logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(l.zlog.With().Interface(key, value).Logger())
}

// WithRunID adds a run_id field to the logger.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.derive(l.zlog.With().Str("run_id", runID).Logger())
}

// WithStep adds a step field to the logger.
func (l *Logger) WithStep(step string) *Logger {
	return l.derive(l.zlog.With().Str("step", step).Logger())
}

// WithError adds error information to the logger.
func (l *Logger) WithError(err error) *Logger {
	return l.derive(l.zlog.With().Err(err).Logger())
}

func (l *Logger) derive(z zerolog.Logger) *Logger {
	return &Logger{zlog: z, file: l.file, path: l.path}
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string) {
	l.zlog.Debug().Msg(msg)
}

// Debugf logs a formatted debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

// Warnf logs a formatted warning-level message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(msg string) {
	l.zlog.Error().Msg(msg)
}

// Errorf logs a formatted error-level message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Success logs a success-level message. It is written regardless of the
// configured minimum level.
func (l *Logger) Success(msg string) {
	l.zlog.WithLevel(zerolog.NoLevel).Str(zerolog.LevelFieldName, LevelSuccess).Msg(msg)
}

// Successf logs a formatted success-level message.
func (l *Logger) Successf(format string, args ...interface{}) {
	l.Success(fmt.Sprintf(format, args...))
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
