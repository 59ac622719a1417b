package utils

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls how the process logger is built
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	File   string // optional rotating log file, in addition to stderr

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu     sync.RWMutex
	logger = newDefaultLogger()
)

func newDefaultLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// InitLogger builds the process logger from cfg and installs it
func InitLogger(cfg LogConfig) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(defaultString(cfg.Level, "info")))); err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if cfg.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    defaultInt(cfg.MaxSizeMB, 100),
			MaxBackups: defaultInt(cfg.MaxBackups, 3),
			MaxAge:     defaultInt(cfg.MaxAgeDays, 28),
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	SetLogger(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
	return nil
}

// SetLogger replaces the process logger, mostly useful in tests
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Logger returns the process logger
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SyncLogger flushes buffered log entries
func SyncLogger() {
	_ = Logger().Sync()
}

// LogRunEvent records a structured entry for a compute run
func LogRunEvent(event string, runID string, fields ...zap.Field) {
	fields = append(fields,
		zap.String("event", event),
		zap.String("run_id", runID),
		zap.Time("timestamp", time.Now()),
	)
	Logger().Info("run", fields...)
}

// HandleError logs errors with context
func HandleError(err error, context string) {
	if err != nil {
		Logger().Error("error",
			zap.Error(err),
			zap.String("context", context),
		)
	}
}

// LogInfo logs an informational message
func LogInfo(message string, fields ...zap.Field) {
	Logger().Info(message, fields...)
}

// LogError logs an error with context
func LogError(err error, context string, fields ...zap.Field) {
	if err != nil {
		Logger().Error(context, append(fields, zap.Error(err))...)
	}
}

// LogWarning logs a warning message
func LogWarning(message string, fields ...zap.Field) {
	Logger().Warn(message, fields...)
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
