// Package logger provides a small leveled logger on top of the standard
// library log package. A process-wide default instance backs the package
// level functions; components that need their own output or level can
// construct a Logger directly.
package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/davecgh/go-spew/spew"
)

// LogLevel is the minimum severity a message needs to be written.
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
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a configuration string into a LogLevel,
// defaulting to INFO for anything it does not recognize.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes leveled messages. Safe for concurrent use.
type Logger struct {
	mu     sync.RWMutex
	level  LogLevel
	logger *log.Logger
	prefix string
	flags  int
}

// NewLogger creates a Logger writing to stderr.
func NewLogger(level LogLevel, prefix string, flags int) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(os.Stderr, prefix, flags),
		prefix: prefix,
		flags:  flags,
	}
}

// SetLevel changes the minimum severity.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput redirects the logger to w.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = log.New(w, l.prefix, l.flags)
}

func (l *Logger) shouldLog(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}
	l.mu.RLock()
	out := l.logger
	l.mu.RUnlock()
	out.Printf("["+level.String()+"] "+format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

var (
	defaultLogger = NewLogger(INFO, "", log.LstdFlags)
	defaultMu     sync.RWMutex
)

// SetDefaultLogger replaces the process-wide default logger.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// SetDefaultLevel adjusts the default logger's minimum severity.
func SetDefaultLevel(level LogLevel) {
	getDefault().SetLevel(level)
}

// SetDefaultLevelFromString adjusts the default logger's minimum severity
// from a configuration string.
func SetDefaultLevelFromString(level string) {
	SetDefaultLevel(ParseLogLevel(level))
}

func getDefault() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Package-level functions using the default logger.

func Debug(format string, args ...interface{}) { getDefault().Debug(format, args...) }
func Info(format string, args ...interface{})  { getDefault().Info(format, args...) }
func Warn(format string, args ...interface{})  { getDefault().Warn(format, args...) }
func Error(format string, args ...interface{}) { getDefault().Error(format, args...) }

// Dump renders a value for debug output, print_r style.
func Dump(v interface{}) string {
	return strings.TrimRight(spew.Sdump(v), "\n")
}
