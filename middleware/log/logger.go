package logger

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lunchroulette/server/config"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey contextKey = "trace_id"
)

// Logger wraps zap.Logger with trace-aware helpers.
type Logger struct {
	*zap.Logger
	file *os.File
}

// NewLogger creates a logger from the logging section of the configuration.
// Format "json" selects the JSON encoder, anything else the console encoder.
// Output "file" appends to FilePath, anything else writes to stdout.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var (
		writeSyncer zapcore.WriteSyncer
		file        *os.File
	)
	if cfg.Output == "file" {
		var err error
		file, err = os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		writeSyncer = zapcore.AddSync(file)
	} else {
		writeSyncer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder, writeSyncer, parseLogLevel(cfg.Level))
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{Logger: zapLogger, file: file}, nil
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// New wraps an existing zap logger.
func New(l *zap.Logger) *Logger {
	return &Logger{Logger: l}
}

func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("trace_id", traceID))}
}

// WithContext returns a logger carrying the trace ID stored in ctx, or l itself
// when there is none.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID := GetTraceID(ctx); traceID != "" {
		return l.WithTraceID(traceID)
	}
	return l
}

func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

func (l *Logger) DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Debug(msg, fields...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Info(msg, fields...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Warn(msg, fields...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.WithContext(ctx).Error(msg, fields...)
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close flushes buffered entries and releases the log file, if any.
func (l *Logger) Close() error {
	// Sync on stdout returns EINVAL on some platforms; only file sinks matter.
	_ = l.Logger.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
