package logger

import (
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes one structured line per action. Fields are attached as
// top-level keys next to service, action and hostname.
type Logger struct {
	service string
	z       *zap.Logger
}

// New returns a production (JSON, info level) logger for service.
func New(service string) *Logger {
	l, err := NewWithOptions(service, "info", false)
	if err != nil {
		return Nop()
	}
	return l
}

// NewWithOptions builds a logger at the given level. Development mode switches
// to the console encoder.
func NewWithOptions(service, level string, development bool) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.MessageKey = "message"
	z, err := cfg.Build(zap.Fields(zap.String("service", service), zap.String("hostname", hostname())))
	if err != nil {
		return nil, err
	}
	return &Logger{service: service, z: z}, nil
}

// FromZap wraps an existing zap logger.
func FromZap(service string, z *zap.Logger) *Logger {
	return &Logger{service: service, z: z.With(zap.String("service", service))}
}

// Nop discards everything.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// Named returns a logger for a sub-component sharing the same sink.
func (l *Logger) Named(service string) *Logger {
	return &Logger{service: service, z: l.z.With(zap.String("component", service))}
}

func (l *Logger) Info(action string, fields map[string]any) {
	l.z.Info(action, toZap(action, fields)...)
}

func (l *Logger) Debug(action string, fields map[string]any) {
	l.z.Debug(action, toZap(action, fields)...)
}

func (l *Logger) Warn(action string, fields map[string]any) {
	l.z.Warn(action, toZap(action, fields)...)
}

func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.z.Error(action, append(toZap(action, fields), zap.Error(err))...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() { _ = l.z.Sync() }

func toZap(action string, fields map[string]any) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("action", action))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func hostname() string { h, _ := os.Hostname(); return h }
