package config

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig configures the root logger.
type LoggerConfig struct {
	// Level is the minimum enabled level, "info" by default.
	Level string `koanf:"level"`
	// Encoding is "console" or "json".
	Encoding string `koanf:"encoding"`
	// OutputPaths are file paths or stdout/stderr.
	OutputPaths       []string `koanf:"outputPaths"`
	DisableCaller     bool     `koanf:"disableCaller"`
	DisableStacktrace bool     `koanf:"disableStacktrace"`
}

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "level",
	NameKey:        "logger",
	CallerKey:      "caller",
	MessageKey:     "msg",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.StringDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// NewLogger builds the root logger.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(err, "logger.level")
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "console"
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		DisableCaller:     cfg.DisableCaller,
		DisableStacktrace: cfg.DisableStacktrace,
		Encoding:          cfg.Encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
	}
	log, err := zc.Build()
	return log, errors.Wrap(err, "building logger")
}
