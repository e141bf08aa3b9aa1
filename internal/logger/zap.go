package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap sugared logger to Logger.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger builds a development-style console logger at the given
// level ("debug", "info", "warn", "error"). An unknown level falls back to
// info.
func NewZapLogger(level string) (*ZapLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	l, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("building zap logger: %w", err)
	}
	return &ZapLogger{logger: l.Sugar()}, nil
}

// NewFromZap wraps an existing zap logger, e.g. zaptest or zap.NewNop.
func NewFromZap(l *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// ParseLevel converts a level name to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) { l.logger.Debugw(msg, keysAndValues...) }
func (l *ZapLogger) Info(msg string, keysAndValues ...any)  { l.logger.Infow(msg, keysAndValues...) }
func (l *ZapLogger) Warn(msg string, keysAndValues ...any)  { l.logger.Warnw(msg, keysAndValues...) }
func (l *ZapLogger) Error(msg string, keysAndValues ...any) { l.logger.Errorw(msg, keysAndValues...) }
func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) { l.logger.Fatalw(msg, keysAndValues...) }

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
