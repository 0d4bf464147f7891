package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

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

// Logger provides structured JSON logging with credential redaction.
// Collectors log through a named component logger; schedulers and commands
// use plain log.Printf for operator-facing lines.
type Logger struct {
	component string
	level     Level
	mu        *sync.Mutex
}

var outMu sync.Mutex

var defaultLevel = INFO

// SetLevel sets the minimum log level for all component loggers.
func SetLevel(l Level) { defaultLevel = l }

// Component returns a logger whose entries carry the given component name.
func Component(name string) *Logger {
	return &Logger{component: name, mu: &outMu}
}

// Debug emits a DEBUG-level structured log entry.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if level < defaultLevel {
		return
	}

	entry := map[string]interface{}{
		"time":      time.Now().UTC().Format(time.RFC3339),
		"level":     levelNames[level],
		"component": l.component,
		"msg":       msg,
	}

	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		entry[key] = Redact(key, val)
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(os.Stderr, string(data))
	l.mu.Unlock()
}
