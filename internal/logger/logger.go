// README: zap logger with rotating file output via lumberjack; console output in debug mode.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogFilename   = "handoff.log"
	defaultLogMaxSizeMB  = 100
	defaultLogMaxBackups = 7
	defaultLogMaxAgeDays = 30
)

// Options controls file output. An empty Dir logs to stdout.
type Options struct {
	Dir        string
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a logger for the given server mode ("debug" or "release").
func New(mode string, options Options) *zap.Logger {
	debug := strings.EqualFold(strings.TrimSpace(mode), "debug")
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	if debug {
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level)
		return zap.New(core, zap.AddCaller())
	}

	out := zapcore.AddSync(os.Stdout)
	if strings.TrimSpace(options.Dir) != "" {
		ws, err := newFileWriteSyncer(options)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: file output disabled, using stdout: %v\n", err)
		} else {
			out = ws
		}
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), out, level)
	return zap.New(core, zap.AddCaller())
}

func newFileWriteSyncer(options Options) (zapcore.WriteSyncer, error) {
	dir := filepath.Clean(options.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	filename := strings.TrimSpace(options.Filename)
	if filename == "" {
		filename = defaultLogFilename
	}
	maxSize := options.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultLogMaxSizeMB
	}
	maxBackups := options.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultLogMaxBackups
	}
	maxAge := options.MaxAgeDays
	if maxAge <= 0 {
		maxAge = defaultLogMaxAgeDays
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, filename),
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   options.Compress,
	}), nil
}
