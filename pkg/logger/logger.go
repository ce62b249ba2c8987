// Package logger is the logging contract of the bridge: a context-first
// interface, typed fields, and the field names shared by every component so
// logs can be joined on serial or connection id. The zap implementation lives
// in internal/infrastructure/monitoring.
package logger

import (
	"context"
	"strings"
	"time"

	"github.com/turtacn/contatto/pkg/constants"
)

// Logger is implemented by the zap logger and the no-op logger.
type Logger interface {
	Debug(ctx context.Context, message string, fields ...Field)
	Info(ctx context.Context, message string, fields ...Field)
	Warn(ctx context.Context, message string, fields ...Field)

	// Error logs message with err attached as the "error" field.
	Error(ctx context.Context, message string, err error, fields ...Field)

	// Fatal logs and exits the process.
	Fatal(ctx context.Context, message string, err error, fields ...Field)

	// WithFields returns a child that adds fields to every entry.
	WithFields(fields ...Field) Logger

	// WithComponent returns a child tagged with component, e.g. "supervisor".
	WithComponent(component string) Logger

	// SetLevel changes the level of this logger and every child sharing it.
	SetLevel(level constants.LogLevel)
	GetLevel() constants.LogLevel
}

// Field is one key-value pair of a log entry.
type Field struct {
	Key   string
	Value interface{}
}

func String(key string, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration is logged as its String form ("1m30s").
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Time is logged as RFC 3339 in UTC.
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.UTC().Format(time.RFC3339)}
}

// Err logs err under "error"; nil is kept as null.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Shared field names.
const (
	KeySerial       = "serial"
	KeyConnectionID = "connection_id"
	KeyAttempt      = "attempt"
	KeySource       = "source"
	KeyHardware     = "hardware"
)

// Serial tags an entry with the device it concerns.
func Serial(serial string) Field { return Field{Key: KeySerial, Value: serial} }

// ConnectionID tags an entry with the real-time connection it belongs to.
func ConnectionID(id string) Field { return Field{Key: KeyConnectionID, Value: id} }

// Attempt is the 1-based reconnect attempt.
func Attempt(n int) Field { return Field{Key: KeyAttempt, Value: n} }

// Source is where a status came from: "push" or "poll".
func Source(source string) Field { return Field{Key: KeySource, Value: source} }

// Hardware names the output a command targets: "gate" or "relay".
func Hardware(hw string) Field { return Field{Key: KeyHardware, Value: hw} }

// Keys containing any of these are masked before they reach a sink.
var sensitiveKeys = []string{"password", "secret", "token", "authorization", "credential"}

// SanitizeValue masks the value of a sensitive key. Strings keep their first
// and last four characters when long enough to stay unguessable.
func SanitizeValue(key string, value interface{}) interface{} {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if !strings.Contains(k, s) {
			continue
		}
		str, ok := value.(string)
		switch {
		case !ok || str == "":
			return "***REDACTED***"
		case len(str) <= 8:
			return "***"
		default:
			return str[:4] + "***" + str[len(str)-4:]
		}
	}
	return value
}
