package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Leveled logger used by the identity service.
// - thin facade over a zap SugaredLogger
// - provides Debug/Info/Warn/Error/Fatal variants and Init(level)
// - With(...) returns a structured logger for key/value fields

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var (
	mu     sync.RWMutex
	logger *zap.SugaredLogger = newConsole().Sugar()
	level  Level              = LevelInfo
)

func newConsole() *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.RFC3339TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stdout), zapcore.DebugLevel)
	return zap.New(core)
}

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Call early during startup. Default level is Info.
func Init(l string) {
	mu.Lock()
	defer mu.Unlock()
	s := strings.ToLower(strings.TrimSpace(l))
	switch s {
	case "debug":
		level = LevelDebug
	case "warn", "warning":
		level = LevelWarn
	case "error":
		level = LevelError
	case "fatal":
		level = LevelFatal
	default:
		level = LevelInfo
	}
}

func shouldLog(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debugf(format string, v ...interface{}) {
	if !shouldLog(LevelDebug) {
		return
	}
	current().Debugf(format, v...)
}

func Infof(format string, v ...interface{}) {
	if !shouldLog(LevelInfo) {
		return
	}
	current().Infof(format, v...)
}

func Warnf(format string, v ...interface{}) {
	if !shouldLog(LevelWarn) {
		return
	}
	current().Warnf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	if !shouldLog(LevelError) {
		return
	}
	current().Errorf(format, v...)
}

func Fatalf(format string, v ...interface{}) {
	current().Fatalf(format, v...)
}

// Println kept for brief messages (maps to Info)
func Println(v ...interface{}) {
	if !shouldLog(LevelInfo) {
		return
	}
	current().Info(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

// Debug/Info/Warn/Error helpers that accept a single string
func Debug(v string) { Debugf("%s", v) }
func Info(v string)  { Infof("%s", v) }
func Warn(v string)  { Warnf("%s", v) }
func Error(v string) { Errorf("%s", v) }

// Fields is a structured logger bound to key/value pairs. Level filtering
// follows the global level set by Init.
type Fields struct {
	kv []interface{}
}

// With returns a structured logger carrying the given key/value pairs,
// e.g. logger.With("provider", "GitHub", "user_id", id).Info("linked").
func With(kv ...interface{}) *Fields {
	return &Fields{kv: kv}
}

// With appends more key/value pairs.
func (f *Fields) With(kv ...interface{}) *Fields {
	return &Fields{kv: f.merge(kv)}
}

func (f *Fields) merge(kv []interface{}) []interface{} {
	out := make([]interface{}, 0, len(f.kv)+len(kv))
	out = append(out, f.kv...)
	return append(out, kv...)
}

func (f *Fields) Debug(msg string, kv ...interface{}) {
	if shouldLog(LevelDebug) {
		current().Debugw(msg, f.merge(kv)...)
	}
}

func (f *Fields) Info(msg string, kv ...interface{}) {
	if shouldLog(LevelInfo) {
		current().Infow(msg, f.merge(kv)...)
	}
}

func (f *Fields) Warn(msg string, kv ...interface{}) {
	if shouldLog(LevelWarn) {
		current().Warnw(msg, f.merge(kv)...)
	}
}

func (f *Fields) Error(msg string, kv ...interface{}) {
	if shouldLog(LevelError) {
		current().Errorw(msg, f.merge(kv)...)
	}
}

// Sync flushes buffered log entries.
func Sync() error {
	return current().Sync()
}

// LevelString returns the current level as text.
func LevelString() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}
	return "info"
}
