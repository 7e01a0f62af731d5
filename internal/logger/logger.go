// Package logger is the process-wide printf-style logger used by every plevy
// package. It is backed by logrus so output can be switched between text and
// JSON and redirected to a file without touching call sites.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu      sync.Mutex
	base    = newBase()
	outFile *os.File
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLevel sets the minimum level. Unknown values are ignored.
func SetLevel(level string) {
	var lvl Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = LevelDebug
	case "INFO":
		lvl = LevelInfo
	case "WARN":
		lvl = LevelWarn
	case "ERROR":
		lvl = LevelError
	default:
		return
	}
	base.SetLevel(lvl.logrus())
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	switch base.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LevelDebug
	case logrus.WarnLevel:
		return LevelWarn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

// IsDebug reports whether debug output is enabled.
func IsDebug() bool {
	return base.IsLevelEnabled(logrus.DebugLevel)
}

// SetFormat selects "text" or "json" output.
func SetFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// SetOutput directs logs to "stdout", "stderr" or the file at the given path.
// A previously opened log file is closed.
func SetOutput(output string) error {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer
	var f *os.File
	switch output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		var err error
		f, err = os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
	}

	base.SetOutput(w)
	if outFile != nil {
		_ = outFile.Close()
	}
	outFile = f
	return nil
}

// SetWriter replaces the output writer. Used by tests to capture output.
func SetWriter(w io.Writer) {
	base.SetOutput(w)
}

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]any

// Entry is a logger carrying structured fields.
type Entry struct {
	e *logrus.Entry
}

// WithFields returns an Entry that attaches fields to every line it logs.
func WithFields(fields Fields) *Entry {
	return &Entry{e: base.WithFields(logrus.Fields(fields))}
}

func (e *Entry) Debug(format string, v ...any) { e.e.Debugf(format, v...) }
func (e *Entry) Info(format string, v ...any)  { e.e.Infof(format, v...) }
func (e *Entry) Warn(format string, v ...any)  { e.e.Warnf(format, v...) }
func (e *Entry) Error(format string, v ...any) { e.e.Errorf(format, v...) }

func Debug(format string, v ...any) {
	base.Debugf(format, v...)
}

func Info(format string, v ...any) {
	base.Infof(format, v...)
}

func Warn(format string, v ...any) {
	base.Warnf(format, v...)
}

func Error(format string, v ...any) {
	base.Errorf(format, v...)
}
