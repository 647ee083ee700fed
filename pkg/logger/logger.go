// Package logger emits structured JSON log lines on stdout.
package logger

import (
	"encoding/json"
	"os"
	"strings"
	"time"
)

type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Debug(message string, fields map[string]interface{})
	Fatal(message string, fields map[string]interface{})
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
	levelFatal
)

var levelNames = map[level]string{
	levelDebug: "debug",
	levelInfo:  "info",
	levelWarn:  "warn",
	levelError: "error",
	levelFatal: "fatal",
}

func thresholdFromEnv() level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

type jsonLogger struct {
	service   string
	threshold level
	enc       *json.Encoder
}

// New returns a Logger writing one JSON object per line to stdout.
// LOG_LEVEL (debug|info|warn|error) controls verbosity; default info.
func New(serviceName string) Logger {
	return &jsonLogger{
		service:   serviceName,
		threshold: thresholdFromEnv(),
		enc:       json.NewEncoder(os.Stdout),
	}
}

func (l *jsonLogger) emit(lv level, message string, fields map[string]interface{}) {
	if lv < l.threshold {
		return
	}
	line := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		line[k] = v
	}
	line["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	line["level"] = levelNames[lv]
	line["service"] = l.service
	line["message"] = message
	_ = l.enc.Encode(line)
}

func (l *jsonLogger) Debug(message string, fields map[string]interface{}) {
	l.emit(levelDebug, message, fields)
}

func (l *jsonLogger) Info(message string, fields map[string]interface{}) {
	l.emit(levelInfo, message, fields)
}

func (l *jsonLogger) Warn(message string, fields map[string]interface{}) {
	l.emit(levelWarn, message, fields)
}

func (l *jsonLogger) Error(message string, fields map[string]interface{}) {
	l.emit(levelError, message, fields)
}

func (l *jsonLogger) Fatal(message string, fields map[string]interface{}) {
	l.emit(levelFatal, message, fields)
	os.Exit(1)
}

// NewNop returns a logger that discards everything. Intended for tests.
func NewNop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]interface{}) {}
func (nopLogger) Info(string, map[string]interface{})  {}
func (nopLogger) Warn(string, map[string]interface{})  {}
func (nopLogger) Error(string, map[string]interface{}) {}
func (nopLogger) Fatal(string, map[string]interface{}) {}
