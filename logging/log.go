package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerKey struct{}

func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return New(zap.DebugLevel, "", false)
}

type options struct {
	maxSize    int
	maxBackups int
}

type Option func(*options)

// WithMaxSize sets the size in MB at which the log file is rotated.
func WithMaxSize(mb int) Option {
	return func(o *options) {
		o.maxSize = mb
	}
}

// WithMaxBackups sets how many rotated log files are kept (0 keeps all).
func WithMaxBackups(n int) Option {
	return func(o *options) {
		o.maxBackups = n
	}
}

func New(level zapcore.LevelEnabler, logFileName string, json bool, opts ...Option) *zap.Logger {
	o := options{maxSize: 500}
	for _, opt := range opts {
		opt(&o)
	}

	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	consoleSyncer := zapcore.Lock(os.Stdout)
	var cores []zapcore.Core
	cores = append(cores, zapcore.NewCore(encoder, consoleSyncer, level))

	if logFileName != "" {
		fileLogger := &lumberjack.Logger{
			Filename:   logFileName,
			MaxSize:    o.maxSize,
			MaxBackups: o.maxBackups,
			MaxAge:     28,
			Compress:   true,
		}
		fs := zapcore.AddSync(fileLogger)
		cores = append(cores, zapcore.NewCore(encoder, fs, zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}
