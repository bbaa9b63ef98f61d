// File: internal/observability/logger.go
package observability

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nv4re/tabpilot/internal/config"
)

// The process logger is installed once and read lock-free afterwards.
var (
	active atomic.Pointer[zap.Logger]
	setup  sync.Once
)

// Initialize builds the process logger against the given console sink. The
// first call wins; later calls are no-ops.
func Initialize(cfg config.LoggerConfig, console zapcore.WriteSyncer) {
	setup.Do(func() {
		level := parseLevel(cfg.Level)
		cores := []zapcore.Core{
			zapcore.NewCore(newEncoder(cfg.Format), console, level),
		}
		if cfg.LogFile != "" {
			cores = append(cores, fileCore(cfg, level))
		}

		opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			opts = append(opts, zap.AddCaller())
		}
		logger := zap.New(zapcore.NewTee(cores...), opts...).Named(cfg.ServiceName)

		active.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger is the production entry point, writing to stdout.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stdout))
}

// parseLevel treats anything unrecognized as info rather than failing the
// bootstrap over a config typo.
func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// fileCore rotates through lumberjack. The file stream is always JSON so log
// shippers never see console formatting.
func fileCore(cfg config.LoggerConfig, level zapcore.Level) zapcore.Core {
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
	return zapcore.NewCore(newEncoder("json"), sink, level)
}

// GetLogger returns the process logger. Before Initialize it hands out a
// development logger so early call sites stay usable.
func GetLogger() *zap.Logger {
	if logger := active.Load(); logger != nil {
		return logger
	}
	fallback, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return fallback.Named("bootstrap")
}

// Sync flushes pending entries before exit. Stdout cannot be synced on every
// platform, so flush errors are dropped.
func Sync() {
	if logger := active.Load(); logger != nil {
		_ = logger.Sync()
	}
}

// ResetForTest clears the installed logger so a test can initialize again.
func ResetForTest() {
	active.Store(nil)
	setup = sync.Once{}
}
