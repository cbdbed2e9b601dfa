package logger

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the component-scoped logging surface used across the worker.
type Logger interface {
	Debug(component, message string, fields map[string]interface{})
	Info(component, message string, fields map[string]interface{})
	Warning(component, message string, fields map[string]interface{})
	Error(component string, err error, fields map[string]interface{})
}

type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "info"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps a level name to a LogLevel. Unknown names are InfoLevel.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// New builds the process logger. JSON output is meant for log collectors,
// the console writer for people.
func New(level LogLevel, json bool) Logger {
	if json {
		return NewJSONLogger(level.zerolog())
	}
	return NewConsoleLogger(level.zerolog())
}

func NewWithWriter(w io.Writer, level LogLevel) Logger {
	return NewZerolog(w, level.zerolog())
}

// Nop discards everything.
func Nop() Logger {
	return &ZerologAdapter{logger: zerolog.Nop()}
}
