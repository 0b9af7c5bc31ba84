package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents the severity of a log entry.
type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l Level) String() string { return levelNames[l] }

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a Level.
// Anything else yields INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

// sink is shared by a logger and every child derived from it.
type sink struct {
	mu        sync.Mutex
	out       io.Writer
	level     atomic.Int32
	redactPII atomic.Bool
}

// Logger provides structured JSON logging with optional PII redaction.
// Child loggers created with With share the parent's output and level.
type Logger struct {
	sink   *sink
	fields []interface{}
}

// New creates a root logger writing to out.
func New(out io.Writer, level Level) *Logger {
	s := &sink{out: out}
	s.level.Store(int32(level))
	s.redactPII.Store(true)
	return &Logger{sink: s}
}

var defaultLogger = New(os.Stderr, INFO)

// Default returns the process-wide logger.
func Default() *Logger { return defaultLogger }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.sink.level.Store(int32(l)) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { defaultLogger.sink.redactPII.Store(r) }

// SetOutput redirects the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.sink.mu.Lock()
	defaultLogger.sink.out = w
	defaultLogger.sink.mu.Unlock()
}

// With returns a child of the default logger that adds fields to every entry.
func With(fields ...interface{}) *Logger { return defaultLogger.With(fields...) }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields) }

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{sink: l.sink, fields: merged}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(WARN, msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []interface{}) {
	if int32(level) < l.sink.level.Load() {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	redact := l.sink.redactPII.Load()
	addFields(entry, l.fields, redact)
	addFields(entry, fields, redact)

	data, _ := json.Marshal(entry)
	l.sink.mu.Lock()
	fmt.Fprintln(l.sink.out, string(data))
	l.sink.mu.Unlock()
}

// addFields copies key/value pairs into entry. A trailing key without a value
// is dropped.
func addFields(entry map[string]interface{}, fields []interface{}, redact bool) {
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if redact {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") {
		return RedactEmail(val)
	}
	// Redact any embedded emails in generic fields
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
