package logger

import (
	"encoding/json"
	"io"
	"os"
	"time"
)

type Logger struct {
	service string
	out     io.Writer
}

func New(service string) *Logger { return &Logger{service: service, out: os.Stdout} }

// NewWithWriter is used by tests to capture output.
func NewWithWriter(service string, out io.Writer) *Logger {
	return &Logger{service: service, out: out}
}

func (l *Logger) log(level, action string, fields map[string]any, err error) {
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"service":   l.service,
		"action":    action,
		"hostname":  hostname(),
	}
	for k, v := range fields {
		entry[k] = v
	}
	if err != nil {
		entry["error"] = err.Error()
	}
	_ = json.NewEncoder(l.out).Encode(entry)
}

func (l *Logger) Debug(action string, fields map[string]any) { l.log("DEBUG", action, fields, nil) }
func (l *Logger) Info(action string, fields map[string]any)  { l.log("INFO", action, fields, nil) }
func (l *Logger) Warn(action string, err error, fields map[string]any) {
	l.log("WARN", action, fields, err)
}
func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.log("ERROR", action, fields, err)
}

func hostname() string { h, _ := os.Hostname(); return h }
