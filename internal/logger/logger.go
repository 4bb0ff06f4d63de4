// Package logger builds the process zap logger: JSON or console lines on
// stdout plus an optional lumberjack-rotated file.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultService  = "avatar-stream"
	defaultFileName = "avatar-stream.log"
	defaultMaxSize  = 100
)

// Config represents a config.
type Config struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// Service is attached to every line as the service field.
	Service string     `mapstructure:"service" yaml:"service"`
	Stdout  bool       `mapstructure:"stdout" yaml:"stdout"`
	File    FileConfig `mapstructure:"file" yaml:"file"`
}

// FileConfig represents a fileConfig.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	Name       string `mapstructure:"name" yaml:"name"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// New executes the new function.
func New(cfg Config) (*zap.Logger, error) {
	sink, err := buildSink(cfg)
	if err != nil {
		return nil, err
	}

	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = defaultService
	}
	core := zapcore.NewCore(newEncoder(cfg.Format), sink, parseLevel(cfg.Level))
	return zap.New(core, zap.AddCaller(), zap.Fields(zap.String("service", service))), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderCfg)
	default:
		return zapcore.NewJSONEncoder(encoderCfg)
	}
}

// buildSink falls back to stdout when no sink is enabled.
func buildSink(cfg Config) (zapcore.WriteSyncer, error) {
	var sinks []zapcore.WriteSyncer
	if cfg.Stdout || !cfg.File.Enabled {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	if cfg.File.Enabled {
		fileWriter, err := newFileWriter(cfg.File)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, zapcore.AddSync(fileWriter))
	}
	return zapcore.NewMultiWriteSyncer(sinks...), nil
}

func newFileWriter(fileCfg FileConfig) (*lumberjack.Logger, error) {
	dir := strings.TrimSpace(fileCfg.Path)
	if dir == "" {
		dir = "./logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	filename := strings.TrimSpace(fileCfg.Name)
	if filename == "" {
		filename = defaultFileName
	}

	maxSize := fileCfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, filename),
		MaxSize:    maxSize,
		MaxBackups: max(fileCfg.MaxBackups, 0),
		MaxAge:     max(fileCfg.MaxAgeDays, 0),
		Compress:   fileCfg.Compress,
		LocalTime:  true,
	}, nil
}

// parseLevel accepts zap level names plus "warning"; anything else is info.
func parseLevel(raw string) zapcore.Level {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "warning" {
		raw = "warn"
	}
	level, err := zapcore.ParseLevel(raw)
	if err != nil || level > zapcore.FatalLevel {
		return zapcore.InfoLevel
	}
	return level
}
