package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger represents the process logger
type Logger struct {
	*logrus.Logger
}

// LogLevel represents log levels
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
	FatalLevel LogLevel = "fatal"
)

// LogFormat represents log output formats
type LogFormat string

const (
	JSONFormat LogFormat = "json"
	TextFormat LogFormat = "text"
)

// Config represents logger configuration
type Config struct {
	Level        LogLevel
	Format       LogFormat
	Output       string // file path or "stdout"
	ReportCaller bool
}

var (
	instance *Logger
	once     sync.Once
)

// Init initializes the global logger from the environment
func Init() {
	once.Do(func() {
		instance = NewLogger(getLoggerConfig())
	})
}

// InitWith initializes the global logger with an explicit configuration.
// Used by the CLI, which keeps chat output on stdout and logs on stderr.
func InitWith(config Config) {
	once.Do(func() {
		instance = NewLogger(config)
	})
}

// NewLogger creates a new logger instance
func NewLogger(config Config) *Logger {
	logger := &Logger{
		Logger: logrus.New(),
	}

	logger.SetLevel(getLogrusLevel(config.Level))

	if config.Format == JSONFormat {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "caller",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	switch config.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		writer, err := openFileOutput(config.Output)
		if err != nil {
			log.Printf("Failed to setup file output: %v", err)
			logger.SetOutput(os.Stdout)
		} else {
			logger.SetOutput(writer)
		}
	}

	logger.SetReportCaller(config.ReportCaller)

	return logger
}

// openFileOutput opens (and creates the directory of) a log file
func openFileOutput(path string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}

	// Mirror to stdout in development
	if os.Getenv("APP_ENV") == "development" {
		return io.MultiWriter(file, os.Stdout), nil
	}

	return file, nil
}

// getLoggerConfig returns logger configuration from environment
func getLoggerConfig() Config {
	config := Config{
		Level:        InfoLevel,
		Format:       JSONFormat,
		Output:       "stdout",
		ReportCaller: true,
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = LogLevel(strings.ToLower(level))
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = LogFormat(strings.ToLower(format))
	}

	if output := os.Getenv("LOG_OUTPUT"); output != "" {
		config.Output = output
	}

	if os.Getenv("APP_ENV") == "production" && config.Output == "stdout" {
		config.Output = "logs/relay.log"
	}

	return config
}

// getLogrusLevel converts LogLevel to logrus.Level
func getLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// discard backs the helpers below before Init so that library code can log
// unconditionally.
var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func current() *logrus.Logger {
	if instance != nil {
		return instance.Logger
	}
	return discard
}

// Global logger functions

// Debug logs a debug message
func Debug(args ...interface{}) {
	current().Debug(args...)
}

// Info logs an info message
func Info(args ...interface{}) {
	current().Info(args...)
}

// Warn logs a warning message
func Warn(args ...interface{}) {
	current().Warn(args...)
}

// Warnf logs a formatted warning message
func Warnf(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

// Error logs an error message
func Error(args ...interface{}) {
	current().Error(args...)
}

// Errorf logs a formatted error message
func Errorf(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

// Fatal logs a fatal message and exits
func Fatal(args ...interface{}) {
	if instance == nil {
		log.Fatal(args...)
	}
	instance.Fatal(args...)
}

// WithField creates an entry with a field
func WithField(key string, value interface{}) *logrus.Entry {
	return current().WithField(key, value)
}

// WithFields creates an entry with multiple fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return current().WithFields(fields)
}

// WithError creates an entry with an error field
func WithError(err error) *logrus.Entry {
	return current().WithError(err)
}

// Domain logging functions

// with merges metadata over the fixed fields of a domain entry
func with(fields logrus.Fields, metadata map[string]interface{}) *logrus.Entry {
	for k, v := range metadata {
		fields[k] = v
	}
	return WithFields(fields)
}

// LogChatEvent logs conversation/message events
func LogChatEvent(event, conversationID, userID string, metadata map[string]interface{}) {
	with(logrus.Fields{
		"event":           event,
		"conversation_id": conversationID,
		"user_id":         userID,
		"type":            "chat_event",
	}, metadata).Info("Chat Event")
}

// LogCallEvent logs call signalling; both peers and the relay use it
func LogCallEvent(event, conversationID, userID string, metadata map[string]interface{}) {
	with(logrus.Fields{
		"event":           event,
		"conversation_id": conversationID,
		"user_id":         userID,
		"type":            "call_event",
	}, metadata).Info("Call Event")
}

// LogConnectionEvent logs socket lifecycle events. Connects and drops are
// frequent, so they go out at debug.
func LogConnectionEvent(event, socketID string, metadata map[string]interface{}) {
	with(logrus.Fields{
		"event":     event,
		"socket_id": socketID,
		"type":      "connection_event",
	}, metadata).Debug("Connection Event")
}

// LogError logs detailed error information
func LogError(err error, context string, metadata map[string]interface{}) {
	fields := logrus.Fields{
		"error":   err.Error(),
		"context": context,
		"type":    "error_detail",
	}

	if os.Getenv("APP_ENV") == "development" {
		fields["stack_trace"] = getStackTrace()
	}

	with(fields, metadata).Error("Application Error")
}

// LogPerformance logs slow operations as warnings, everything else at debug
func LogPerformance(operation string, duration time.Duration, metadata map[string]interface{}) {
	entry := with(logrus.Fields{
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
		"type":        "performance",
	}, metadata)

	if duration > 5*time.Second {
		entry.Warn("Slow Operation")
	} else {
		entry.Debug("Performance Metric")
	}
}

// getStackTrace returns stack trace for debugging
func getStackTrace() string {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

// Close closes the logger (useful for file outputs)
func Close() error {
	if instance != nil {
		if file, ok := instance.Out.(*os.File); ok && file != os.Stdout && file != os.Stderr {
			return file.Close()
		}
	}
	return nil
}
