// Package logging builds the zap logger shared by every component.
package logging

import (
	"Go2NetSentinel/internal/config"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a zap logger from the logging section of the config.
// When File is set, output goes to a size-rotated file instead of stderr.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	var encCfg zapcore.EncoderConfig
	if strings.ToLower(cfg.Format) == "console" {
		encCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encCfg = zap.NewProductionEncoderConfig()
	}
	encCfg.TimeKey = "ts"
	encCfg.LevelKey = "level"
	encCfg.MessageKey = "msg"
	encCfg.CallerKey = "caller"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var out zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if cfg.File != "" {
		out = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	core := zapcore.NewCore(encoder, out, zap.NewAtomicLevelAt(level))
	logger := zap.New(core, zap.AddCaller())

	return logger.With(zap.String("service", "go2netsentinel")), nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// Component returns a zap field for the component name.
func Component(name string) zap.Field { return zap.String("component", name) }

// Source returns a zap field for a source id.
func Source(id string) zap.Field { return zap.String("source", id) }

// Line returns a zap field for a line number in a source.
func Line(n int) zap.Field { return zap.Int("line", n) }

// Sink returns a zap field for a sink type.
func Sink(name string) zap.Field { return zap.String("sink", name) }

// Fingerprint returns a zap field for a source fingerprint.
func Fingerprint(fp string) zap.Field { return zap.String("fingerprint", fp) }
