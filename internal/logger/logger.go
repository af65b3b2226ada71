package logger

import (
	"io"
	"os"
	"syscall"
	"time"

	"codeberg.org/gec/sensord/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(io.Discard)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the logger based on the given level name
func Init(level string, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	SetLogLevel(ParseLevel(level))
}

// ParseLevel maps a configured level name to a LogLevel, defaulting to info
func ParseLevel(level string) LogLevel {
	switch level {
	case "debug":
		return DebugLevel
	case "warning", "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(log.Error(), err)
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return withCode(log.Fatal(), err)
}

func withCode(e *zerolog.Event, err errors.Error) *LogEvent {
	return &LogEvent{e.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// componentLogger scopes events to one component of the daemon.
type componentLogger struct {
	zl zerolog.Logger
}

// New returns a Logger whose events carry a component field.
// It derives from the global logger, so Init must run first.
func New(component string) Logger {
	return &componentLogger{zl: log.With().Str("component", component).Logger()}
}

// NewWithWriter builds a component logger on an explicit writer.
func NewWithWriter(w io.Writer, component string) Logger {
	return &componentLogger{zl: zerolog.New(w).With().Str("component", component).Logger()}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &componentLogger{zl: zerolog.Nop()}
}

func (l *componentLogger) Debug() *LogEvent {
	return &LogEvent{l.zl.Debug()}
}

func (l *componentLogger) Info() *LogEvent {
	return &LogEvent{l.zl.Info()}
}

func (l *componentLogger) Warn() *LogEvent {
	return &LogEvent{l.zl.Warn()}
}

func (l *componentLogger) Error() *LogEvent {
	return &LogEvent{l.zl.Error()}
}

func (l *componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(l.zl.Error(), err)
}
