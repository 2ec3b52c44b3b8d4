package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Log levels constants.
const (
	None = iota
	Error
	Warning
	Info
	Debug
)

// Fields is a set of structured key/value pairs attached to a log line.
type Fields = logrus.Fields

var currentLevel atomic.Int32

var logger = newLogger(os.Stderr)

func init() {
	// Default log level is Info.
	currentLevel.Store(Info)
}

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	// Level filtering happens in logf; logrus itself passes everything through.
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006/01/02 15:04:05.000000"})
	return l
}

// SetLevel atomically sets the global logging level.
// It clamps the input level to the valid range [None, Debug].
func SetLevel(level int) {
	if level < None {
		level = None
	} else if level > Debug {
		level = Debug
	}
	currentLevel.Store(int32(level))
	if level >= Debug {
		logf(nil, Debug, "Log level set to %d", level)
	}
}

// GetLevel atomically retrieves the current logging level.
func GetLevel() int {
	return int(currentLevel.Load())
}

// ParseLevel converts a log level string (case-insensitive) to its integer representation.
// Returns Info level and an error if the string is invalid.
func ParseLevel(levelStr string) (int, error) {
	switch strings.ToLower(levelStr) {
	case "none":
		return None, nil
	case "error":
		return Error, nil
	case "warn", "warning":
		return Warning, nil
	case "info":
		return Info, nil
	case "debug":
		return Debug, nil
	default:
		return Info, fmt.Errorf("invalid log level string: '%s'", levelStr)
	}
}

// SetupLogging configures the logging level based on an input string.
// Logs a warning and uses Info level if the input string is invalid.
// Returns the finally set log level.
func SetupLogging(levelStr string) int {
	level, err := ParseLevel(levelStr)
	if err != nil {
		logf(nil, Warning, "Invalid log level '%s' provided, defaulting to 'info'. Error: %v", levelStr, err)
	}
	SetLevel(level)
	return level
}

// SetFormat switches between "text" and "json" output.
func SetFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006/01/02 15:04:05.000000"})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format '%s', must be 'text' or 'json'", format)
	}
	return nil
}

// SetOutput changes the output destination of the global logger.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Writer returns the destination the global logger writes to.
func Writer() io.Writer {
	return logger.Out
}

// Entry is a field-scoped logger sharing the global level.
type Entry struct {
	fields Fields
}

// WithFields returns an Entry that attaches fields to every line it logs.
func WithFields(fields Fields) *Entry {
	return &Entry{fields: fields}
}

// Logf logs a formatted message with the entry's fields.
func (e *Entry) Logf(level int, format string, v ...interface{}) {
	logf(e.fields, level, format, v...)
}

func logf(fields Fields, level int, format string, v ...interface{}) {
	if int32(level) > currentLevel.Load() {
		return
	}

	message := fmt.Sprintf(format, v...)

	if level == Debug {
		// runtime.Caller(2) is the caller of Logf / Entry.Logf.
		pc, file, line, ok := runtime.Caller(2)
		if ok {
			funcName := "???"
			if f := runtime.FuncForPC(pc); f != nil {
				funcName = filepath.Base(f.Name())
			}
			message = fmt.Sprintf("%s:%d:%s %s", filepath.Base(file), line, funcName, message)
		}
	}

	entry := logrus.NewEntry(logger)
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}

	switch level {
	case Error:
		entry.Error(message)
	case Warning:
		entry.Warn(message)
	case Info:
		entry.Info(message)
	case Debug:
		entry.Debug(message)
	}
}

// Logf logs a formatted message if the specified level is enabled according to the global setting.
func Logf(level int, format string, v ...interface{}) {
	logf(nil, level, format, v...)
}
