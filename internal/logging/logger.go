// Package logging provides the process-wide zap logger, with optional
// rotated JSON file output.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	once   sync.Once
)

// Options controls logger construction.
type Options struct {
	// Level is a zap level name; unknown values mean info.
	Level      string
	Production bool
	// LogFile enables a rotated JSON file sink in addition to stderr.
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init initializes the global logger. Only the first call has effect.
func Init(opts Options) {
	once.Do(func() {
		logger = New(opts, zapcore.Lock(os.Stderr))
		sugar = logger.Sugar()
		zap.ReplaceGlobals(logger)
	})
}

// New builds a logger writing to console and, when configured, a rotated file.
func New(opts Options, console zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	var consoleEncoder zapcore.Encoder
	if opts.Production {
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "ts"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		consoleEncoder = zapcore.NewJSONEncoder(enc)
	} else {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(enc)
	}

	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, console, level)}

	if opts.LogFile != "" {
		fileEnc := zap.NewProductionEncoderConfig()
		fileEnc.TimeKey = "ts"
		fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), fileWriter, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

// L returns the global structured logger
func L() *zap.Logger {
	if logger == nil {
		Init(Options{Production: os.Getenv("ENVIRONMENT") == "production"})
	}
	return logger
}

// S returns the global sugared logger (printf-style)
func S() *zap.SugaredLogger {
	if sugar == nil {
		L()
	}
	return sugar
}

// Sync flushes any buffered log entries. Call before app exit.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// WithContext returns a logger with additional structured fields
func WithContext(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}
