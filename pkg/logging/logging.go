package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger Logger

func init() {
	// Default process logger; replaced by InitLogger.
	cfg := zap.NewProductionConfig()
	level := os.Getenv("LOG_LEVEL")
	if level != "" {
		var zapLevel zapcore.Level
		if err := zapLevel.UnmarshalText([]byte(level)); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(zapLevel)
		}
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	globalLogger = &zapLogger{logger.Sugar()}
}

// NewLogger builds a standalone logger. Components receive it through their
// constructors so callers control where their output goes.
// format is "json" or "console"; a nil output writes to stderr.
func NewLogger(level string, format string, output zapcore.WriteSyncer) (Logger, error) {
	var encCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if format == "json" {
		encCfg = zap.NewProductionEncoderConfig()
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	zapLevel := zapcore.InfoLevel
	if level != "" {
		if err := zapLevel.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	if output == nil {
		output = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, output, zap.NewAtomicLevelAt(zapLevel))
	return &zapLogger{zap.New(core).Sugar()}, nil
}

// InitLogger replaces the process-wide default logger.
func InitLogger(level string, format string, output zapcore.WriteSyncer) {
	logger, err := NewLogger(level, format, output)
	if err != nil {
		// Unknown level: keep going at info rather than refusing to start.
		logger, _ = NewLogger("info", format, output)
	}
	globalLogger = logger
}

// GetLogger returns the global logger instance.
func GetLogger() Logger {
	return globalLogger
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return &zapLogger{zap.NewNop().Sugar()}
}

// zapLogger is a wrapper around zap.SugaredLogger that implements our Logger interface.
type zapLogger struct {
	*zap.SugaredLogger
}

func (l *zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
}

// With creates a child logger and adds structured context to it.
func (l *zapLogger) With(keysAndValues ...interface{}) Logger {
	return &zapLogger{l.SugaredLogger.With(keysAndValues...)}
}
