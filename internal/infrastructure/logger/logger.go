package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the process logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or a file path (file output rotates)
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger creates a new logger instance. Console destinations go through
// zap's standard pipeline; a file path gets a rotating lumberjack sink.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	switch cfg.OutputPath {
	case "", "stderr", "stdout":
		out := cfg.OutputPath
		if out == "" {
			out = "stderr"
		}
		config := zap.Config{
			Level:            zap.NewAtomicLevelAt(level),
			Development:      cfg.Format == "console",
			Encoding:         encodingFor(cfg.Format),
			EncoderConfig:    encoderConfig,
			OutputPaths:      []string{out},
			ErrorOutputPaths: []string{"stderr"},
		}
		return config.Build()
	}

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.OutputPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	})

	var enc zapcore.Encoder
	if cfg.Format == "console" {
		enc = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		enc = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(enc, sink, level)
	return zap.New(core, zap.AddCaller()), nil
}

func encodingFor(format string) string {
	if format == "console" {
		return "console"
	}
	return "json"
}
