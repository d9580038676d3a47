package gateway

import (
	"fmt"
	"log"
	"os"
)

// LogLevel is the severity of a single log line. The shard never uses a
// third-party logging library; the upstream project it was ported from
// carries none either, so a small leveled wrapper around the standard
// library logger is the idiomatic choice here.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a minimal leveled logger. Construct one with NewLogger; the
// zero value has no output logger and is not usable.
type Logger struct {
	Level  LogLevel
	std    *log.Logger
}

// NewLogger returns a Logger writing to stderr at the given minimum level.
func NewLogger(level LogLevel) *Logger {
	return &Logger{
		Level: level,
		std:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) log(level LogLevel, prefix, format string, args ...interface{}) {
	if l == nil {
		return
	}
	if level < l.Level {
		return
	}
	msg := prefix + " " + level.String() + " " + fmt.Sprintf(format, args...)
	l.std.Println(msg)
}

// Debugf, Infof, Warnf and Errorf are the process-wide convenience
// entrypoints used outside a shard's own per-shard prefix (e.g. cmd/shardd).
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LogLevelDebug, "[shardd]", format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LogLevelInfo, "[shardd]", format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LogLevelWarn, "[shardd]", format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LogLevelError, "[shardd]", format, args...) }
