// Package logger provides structured logging for the whole module, built on
// zap. Components obtain a named logger with WithComponent; until Init runs,
// all logging is a no-op so library consumers are never forced to configure
// logging.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu            sync.RWMutex
	defaultLogger = zap.NewNop().Sugar()
)

// Init configures the package logger. Level is one of debug, info, warn,
// error. When logFile is non-empty, output goes to that file instead of
// stderr; the parent directory is created if needed.
func Init(level, logFile string) error {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = []string{logFile}
	}

	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	defaultLogger = built.Sugar()
	mu.Unlock()
	return nil
}

// WithComponent returns a logger tagged with the component name.
func WithComponent(name string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger.With("component", name)
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = defaultLogger.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
