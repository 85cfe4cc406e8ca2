// Package logger provides component-tagged structured logging for bmo.
package logger

import (
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "debug"
	case INFO:
		return "info"
	case WARN:
		return "warn"
	case ERROR:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps a textual level to a LogLevel, defaulting to INFO.
func ParseLevel(raw string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = newLogger(level, false)
)

func newLogger(lvl zap.AtomicLevel, jsonOutput bool) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if jsonOutput {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl)
	return zap.New(core)
}

func toZapLevel(l LogLevel) zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func SetLevel(l LogLevel) {
	level.SetLevel(toZapLevel(l))
}

func GetLevel() LogLevel {
	switch level.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.ErrorLevel:
		return ERROR
	default:
		return INFO
	}
}

// UseJSON switches the output encoder. The gateway logs JSON; the CLI keeps
// the console encoder.
func UseJSON(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	base = newLogger(level, enabled)
}

// Replace installs a caller-provided zap logger. Tests use it with
// zaptest/observer to assert on emitted entries.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := base
	base = l
	mu.Unlock()
	return func() {
		mu.Lock()
		base = prev
		mu.Unlock()
	}
}

func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func toFields(component string, fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	if component != "" {
		out = append(out, zap.String("component", component))
	}
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

func logAt(l LogLevel, component, msg string, fields map[string]interface{}) {
	lg := current()
	if ce := lg.Check(toZapLevel(l), msg); ce != nil {
		ce.Write(toFields(component, fields)...)
	}
}

func Debug(msg string)                                        { logAt(DEBUG, "", msg, nil) }
func Info(msg string)                                         { logAt(INFO, "", msg, nil) }
func Warn(msg string)                                         { logAt(WARN, "", msg, nil) }
func Error(msg string)                                        { logAt(ERROR, "", msg, nil) }
func DebugC(component, msg string)                            { logAt(DEBUG, component, msg, nil) }
func InfoC(component, msg string)                             { logAt(INFO, component, msg, nil) }
func WarnC(component, msg string)                             { logAt(WARN, component, msg, nil) }
func ErrorC(component, msg string)                            { logAt(ERROR, component, msg, nil) }
func DebugCF(component, msg string, f map[string]interface{}) { logAt(DEBUG, component, msg, f) }
func InfoCF(component, msg string, f map[string]interface{})  { logAt(INFO, component, msg, f) }
func WarnCF(component, msg string, f map[string]interface{})  { logAt(WARN, component, msg, f) }
func ErrorCF(component, msg string, f map[string]interface{}) { logAt(ERROR, component, msg, f) }
