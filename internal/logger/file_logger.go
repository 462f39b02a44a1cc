package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the engine's leveled logger. It keeps the printf-style
// Info/Warning/Error surface used across the codebase and writes structured
// entries through zap.
type Logger struct {
	account string
	sugar   *zap.SugaredLogger
	base    *zap.Logger
	logFile *os.File
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warn"
	LogLevelError    LogLevel = "error"
	LogLevelDecision LogLevel = "decision"
)

// Options configures a Logger.
type Options struct {
	Account string    // attached to every entry
	Level   string    // debug, info, warn, error
	Format  string    // json or console
	LogDir  string    // when set, entries are also appended to <dir>/<account>_<date>.log
	Output  io.Writer // defaults to stdout
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger creates a logger writing to opts.Output and, optionally, a daily file.
func NewLogger(opts Options) (*Logger, error) {
	if opts.Account == "" {
		opts.Account = "default"
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if opts.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	level := parseLevel(opts.Level)
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	sinks := []zapcore.WriteSyncer{zapcore.AddSync(out)}

	var file *os.File
	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		filename := fmt.Sprintf("%s_%s.log", opts.Account, time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(opts.LogDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		sinks = append(sinks, zapcore.AddSync(f))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2), zap.AddStacktrace(zapcore.ErrorLevel)).
		With(zap.String("account", opts.Account))

	return &Logger{
		account: opts.Account,
		sugar:   base.Sugar(),
		base:    base,
		logFile: file,
	}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	base := zap.NewNop()
	return &Logger{account: "nop", sugar: base.Sugar(), base: base}
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	switch level {
	case LogLevelDebug:
		l.sugar.Debugf(format, args...)
	case LogLevelWarning:
		l.sugar.Warnf(format, args...)
	case LogLevelError:
		l.sugar.Errorf(format, args...)
	case LogLevelDecision:
		l.sugar.With("kind", "decision").Infof(format, args...)
	default:
		l.sugar.Infof(format, args...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.Log(LogLevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Decision logs a gating decision
func (l *Logger) Decision(format string, args ...interface{}) {
	l.Log(LogLevelDecision, format, args...)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// Zap exposes the underlying structured logger.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// Close flushes buffered entries and closes the log file, if any.
func (l *Logger) Close() error {
	_ = l.base.Sync()
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}
