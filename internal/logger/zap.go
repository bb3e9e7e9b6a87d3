package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap's SugaredLogger.
type Logger struct {
	*zap.SugaredLogger
	closeFile func()
}

// defaultZapLevel defines the fallback log level when an unknown level string is provided.
const defaultZapLevel = zapcore.DebugLevel

// toZapLevel converts a textual level to zapcore.Level using known level constants.
func toZapLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return defaultZapLevel
	}
}

// newConsoleCore builds a zapcore.Core with a console encoder targeting stdout.
func newConsoleCore(level zapcore.Level) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = ""
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoder := zapcore.NewConsoleEncoder(cfg)
	ws := zapcore.Lock(os.Stdout) // thread-safe writer
	return zapcore.NewCore(encoder, zapcore.AddSync(ws), zap.NewAtomicLevelAt(level))
}

// newFileCore builds a JSON core appending to ws. Unlike the console, file
// lines carry their own timestamp.
func newFileCore(level zapcore.Level, ws zapcore.WriteSyncer) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(cfg), ws, zap.NewAtomicLevelAt(level))
}

// newZapLogger constructs a sugared zap logger with the provided level string.
func newZapLogger(levelStr, filePath string) (*Logger, error) {
	level := toZapLevel(levelStr)
	core := newConsoleCore(level)

	l := &Logger{}
	if filePath != "" {
		// zap.Open appends to an existing file.
		ws, closeFile, err := zap.Open(filePath)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", filePath, err)
		}
		core = zapcore.NewTee(core, newFileCore(level, ws))
		l.closeFile = closeFile
	}
	l.SugaredLogger = zap.New(core).Sugar()
	return l, nil
}

// Close flushes buffered entries and releases the log file.
func (l *Logger) Close() {
	_ = l.Sync()
	if l.closeFile != nil {
		l.closeFile()
		l.closeFile = nil
	}
}
