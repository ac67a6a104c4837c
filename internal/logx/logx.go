// Package logx builds the application logger. Every run gets its own
// timestamped log file so operators can attach the exact log to a bug report.
package logx

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger writing JSON lines to a timestamped file inside
// logsDir. Warnings and above are mirrored to stderr. The returned closer
// flushes and closes the file; call it when logging is no longer needed.
func New(logsDir string) (*zap.Logger, func() error, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure logs directory: %w", err)
	}

	filename := time.Now().Format("20060102-150405") + ".log"
	file, err := os.OpenFile(filepath.Join(logsDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), zap.InfoLevel)
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stderr), zap.WarnLevel)

	logger := zap.New(zapcore.NewTee(fileCore, consoleCore))
	closer := func() error {
		_ = logger.Sync()
		return file.Close()
	}
	return logger, closer, nil
}

// Nop returns a logger that discards everything. Used by tests and by
// callers that have not set up a logs directory.
func Nop() *zap.Logger {
	return zap.NewNop()
}
