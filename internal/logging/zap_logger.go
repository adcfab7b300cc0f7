package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// ZapLogger adapts a zap logger to pgtenant.Logger. Verbose maps to debug.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var _ pgtenant.Logger = (*ZapLogger)(nil)

// ParseLevel maps debug|info|warn|error to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug", "verbose":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewZapLogger builds a logger writing to stdout. env "dev" selects the
// human-readable console encoder; anything else selects JSON.
func NewZapLogger(env, level, service string) *ZapLogger {
	return NewZapLoggerWithCore(newCore(env, ParseLevel(level), zapcore.Lock(os.Stdout)), service)
}

// NewZapLoggerWithCore wraps an existing core, for tests and custom sinks.
func NewZapLoggerWithCore(core zapcore.Core, service string) *ZapLogger {
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if service != "" {
		logger = logger.With(zap.String("service", service))
	}
	return &ZapLogger{sugar: logger.Sugar()}
}

func newCore(env string, level zapcore.Level, out zapcore.WriteSyncer) zapcore.Core {
	var encoder zapcore.Encoder
	if env == "dev" {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "time"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeDuration = zapcore.SecondsDurationEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewCore(encoder, out, level)
}

// With returns a child logger carrying key/value pairs, e.g. With("tenant", slug).
func (l *ZapLogger) With(keysAndValues ...interface{}) *ZapLogger {
	return &ZapLogger{sugar: l.sugar.With(keysAndValues...)}
}

func (l *ZapLogger) Verbose(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *ZapLogger) Info(format string, args ...interface{})    { l.sugar.Infof(format, args...) }
func (l *ZapLogger) Warn(format string, args ...interface{})    { l.sugar.Warnf(format, args...) }
func (l *ZapLogger) Error(format string, args ...interface{})   { l.sugar.Errorf(format, args...) }

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
