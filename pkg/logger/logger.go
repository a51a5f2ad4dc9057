// Package logger exposes the service-wide structured logger.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Debug(message string, fields map[string]interface{})
	Fatal(message string, fields map[string]interface{})
}

type zapLogger struct {
	z *zap.Logger
}

// New builds a JSON logger tagged with the service name at info level.
func New(serviceName string) Logger {
	return NewWithLevel(serviceName, "info")
}

// NewWithLevel is New with an explicit level name (debug, info, warn, error).
func NewWithLevel(serviceName, level string) Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zap.NewAtomicLevelAt(lvl),
	)
	return &zapLogger{z: zap.New(core).With(zap.String("service", serviceName))}
}

// FromZap adapts an existing zap logger.
func FromZap(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

func toZap(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (l *zapLogger) Info(message string, fields map[string]interface{}) {
	l.z.Info(message, toZap(fields)...)
}

func (l *zapLogger) Error(message string, fields map[string]interface{}) {
	l.z.Error(message, toZap(fields)...)
}

func (l *zapLogger) Warn(message string, fields map[string]interface{}) {
	l.z.Warn(message, toZap(fields)...)
}

func (l *zapLogger) Debug(message string, fields map[string]interface{}) {
	l.z.Debug(message, toZap(fields)...)
}

func (l *zapLogger) Fatal(message string, fields map[string]interface{}) {
	l.z.Fatal(message, toZap(fields)...)
}

// NewNop discards everything, Fatal included.
func NewNop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Info(string, map[string]interface{})  {}
func (nopLogger) Error(string, map[string]interface{}) {}
func (nopLogger) Warn(string, map[string]interface{})  {}
func (nopLogger) Debug(string, map[string]interface{}) {}
func (nopLogger) Fatal(string, map[string]interface{}) {}
