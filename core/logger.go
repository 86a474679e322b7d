package core

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel controls which messages a JSONLogger emits
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// JSONLogger writes one JSON object per line to an io.Writer.
// Field maps are merged into the top-level object alongside
// timestamp, level and message. Safe for concurrent use.
type JSONLogger struct {
	mu    sync.Mutex
	out   io.Writer
	level LogLevel
}

// NewJSONLogger creates a logger writing to the given writer
func NewJSONLogger(out io.Writer, level LogLevel) *JSONLogger {
	if out == nil {
		out = os.Stderr
	}
	return &JSONLogger{out: out, level: level}
}

func (l *JSONLogger) log(level LogLevel, levelName, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = levelName
	entry["message"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		// A field value that cannot marshal should not lose the message
		data, _ = json.Marshal(map[string]interface{}{
			"time":    time.Now().UTC().Format(time.RFC3339Nano),
			"level":   levelName,
			"message": msg,
			"error":   "unmarshalable log fields",
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}

func (l *JSONLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(LevelDebug, "debug", msg, fields)
}

func (l *JSONLogger) Info(msg string, fields map[string]interface{}) {
	l.log(LevelInfo, "info", msg, fields)
}

func (l *JSONLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(LevelWarn, "warn", msg, fields)
}

func (l *JSONLogger) Error(msg string, fields map[string]interface{}) {
	l.log(LevelError, "error", msg, fields)
}

// MultiLogger fans every message out to several loggers (e.g. stderr
// plus the run directory's logs/ folder).
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that forwards to all given loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Debug(msg string, fields map[string]interface{}) {
	for _, l := range m.loggers {
		l.Debug(msg, fields)
	}
}

func (m *MultiLogger) Info(msg string, fields map[string]interface{}) {
	for _, l := range m.loggers {
		l.Info(msg, fields)
	}
}

func (m *MultiLogger) Warn(msg string, fields map[string]interface{}) {
	for _, l := range m.loggers {
		l.Warn(msg, fields)
	}
}

func (m *MultiLogger) Error(msg string, fields map[string]interface{}) {
	for _, l := range m.loggers {
		l.Error(msg, fields)
	}
}
