package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu  sync.RWMutex
	std *logrus.Logger // main logger instance, replaced by Initialize
)

// Options controls where and how verbosely the application logs.
type Options struct {
	Level string // DEBUG, INFO, WARN, ERROR
	File  string // rotated log file; empty logs to stdout only
}

// Initialize sets up the logger. Application logs go to stdout and, when
// opts.File is set, to a size-rotated file.
func Initialize(opts Options) {
	l := logrus.New()
	l.SetLevel(parseLevel(opts.Level))
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableColors:   true,
	})

	var out io.Writer = os.Stdout
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			fmt.Printf("Failed to create logs directory: %v\n", err)
		} else {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    50, // megabytes
				MaxBackups: 5,
				MaxAge:     30, // days
				Compress:   true,
			})
		}
	}
	l.SetOutput(out)

	mu.Lock()
	std = l
	mu.Unlock()

	l.WithFields(logrus.Fields{
		"log_level": l.GetLevel().String(),
		"log_file":  opts.File,
	}).Info("Logging system initialized")
}

// SetLevel changes the level of the running logger (config reloads).
func SetLevel(level string) {
	GetLogger().SetLevel(parseLevel(level))
}

func parseLevel(level string) logrus.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN", "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// GetLogger returns the configured main logger instance, falling back to a
// stdout logger when Initialize was never called (tests, one-shot tools).
func GetLogger() *logrus.Logger {
	mu.RLock()
	l := std
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if std == nil {
		std = logrus.New()
		std.SetOutput(os.Stdout)
	}
	return std
}

// WithComponent tags entries with the pipeline component emitting them.
func WithComponent(component string) *logrus.Entry {
	return GetLogger().WithField("component", component)
}

// WithResource creates a logger scoped to one observed resource
func WithResource(component, resourceRef string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"component":    component,
		"resource_ref": resourceRef,
	})
}

// WithTask creates a logger with periodic task context
func WithTask(task string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"component": "scheduler",
		"task":      task,
	})
}

// WithLLM creates a logger with LLM service context
func WithLLM(callType string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"component": "llm_service",
		"call_type": callType,
	})
}

// WithError creates a logger with error context
func WithError(err error, component string) *logrus.Entry {
	fields := logrus.Fields{
		"error":     err.Error(),
		"component": component,
	}

	if GetLogger().GetLevel() >= logrus.DebugLevel {
		fields["stack_trace"] = getStackTrace()
	}

	return GetLogger().WithFields(fields)
}

// getStackTrace returns a formatted stack trace
func getStackTrace() string {
	var stack []string
	for i := 2; i < 10; i++ {
		if pc, file, line, ok := runtime.Caller(i); ok {
			fn := runtime.FuncForPC(pc)
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}
	return strings.Join(stack, "\n")
}

func Debug(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Debug(msg)
}

func Info(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Info(msg)
}

func Warn(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Warn(msg)
}

func Error(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Error(msg)
}

func Fatal(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Fatal(msg)
}
