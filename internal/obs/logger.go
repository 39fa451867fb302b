package obs

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects level, encoding and sinks for NewLogger.
type LogConfig struct {
	Level       string   `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format      string   `yaml:"format" env:"FORMAT"` // json, console
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// ParseLevel maps a level name to a zap level. Unknown names map to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds a zap logger from cfg. If the configuration cannot be
// built it falls back to a production logger.
func NewLogger(cfg LogConfig) *zap.Logger {
	var enc zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		enc = zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		enc = zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	out := cfg.OutputPaths
	if len(out) == 0 {
		out = []string{"stderr"}
	}
	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(ParseLevel(cfg.Level)),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      out,
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zc.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
