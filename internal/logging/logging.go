// Package logging builds the supervisor's structured logger on top of zap.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Output formats accepted by Config.Format.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config holds the logger configuration.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // auto, console, json
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

// DefaultConfig keeps the supervisor quiet next to its child's own output.
func DefaultConfig() Config {
	return Config{Level: "warn", Format: FormatAuto, Output: "stderr"}
}

// New creates a zap logger for cfg. The returned close function flushes the
// logger and releases any opened file.
func New(cfg Config) (*zap.Logger, func(), error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		out     zapcore.WriteSyncer
		closeFn = func() {}
		fd      = -1
	)
	switch cfg.Output {
	case "", "stderr":
		out = zapcore.Lock(os.Stderr)
		fd = int(os.Stderr.Fd())
	case "stdout":
		out = zapcore.Lock(os.Stdout)
		fd = int(os.Stdout.Fd())
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log output: %w", err)
		}
		out = zapcore.AddSync(file)
		closeFn = func() { _ = file.Close() }
	}

	format := cfg.Format
	if format == "" || format == FormatAuto {
		format = FormatJSON
		if fd >= 0 && term.IsTerminal(fd) {
			format = FormatConsole
		}
	}
	encoder, err := newEncoder(format)
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	logger := zap.New(zapcore.NewCore(encoder, out, level), zap.AddStacktrace(zapcore.DPanicLevel))
	logger = logger.Named("kill-orphan")
	return logger, func() {
		_ = logger.Sync()
		closeFn()
	}, nil
}

// NewWriter builds a logger that writes to w, mainly for tests and for
// callers that already own the destination.
func NewWriter(w io.Writer, level zapcore.Level, format string) (*zap.Logger, error) {
	encoder, err := newEncoder(format)
	if err != nil {
		return nil, err
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), level)), nil
}

// ParseLevel accepts zap level names; an empty string means the default.
func ParseLevel(level string) (zapcore.Level, error) {
	if strings.TrimSpace(level) == "" {
		level = DefaultConfig().Level
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	switch format {
	case FormatConsole:
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig), nil
	case FormatJSON:
		return zapcore.NewJSONEncoder(encoderConfig), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
