// Package logging holds the Logger contract shared by every mastersync component,
// plus adapters for the console, zerolog and log/slog.
package logging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"
)

// Logger defines the interface for logging in mastersync.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct{}

// Debug logs a debug message (no-op).
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info logs an info message (no-op).
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn logs a warning message (no-op).
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error logs an error message (no-op).
func (n *NoOpLogger) Error(msg string, args ...any) {}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// OrNoOp returns l, or a no-op logger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NewNoOpLogger()
	}
	return l
}

type ConsoleLogger struct {
	prefix string
}

func (cl *ConsoleLogger) print(level, msg string, args []any) {
	fmt.Printf("[%s] %s: %s", level, cl.prefix, msg)
	if len(args) > 0 {
		fmt.Printf(" %v", args)
	}
	fmt.Println()
}

// Debug logs a debug message to console.
func (cl *ConsoleLogger) Debug(msg string, args ...any) {
	cl.print("DEBUG", msg, args)
}

// Info logs an info message to console.
func (cl *ConsoleLogger) Info(msg string, args ...any) {
	cl.print("INFO", msg, args)
}

// Warn logs a warning message to console.
func (cl *ConsoleLogger) Warn(msg string, args ...any) {
	cl.print("WARN", msg, args)
}

// Error logs an error message to console.
func (cl *ConsoleLogger) Error(msg string, args ...any) {
	cl.print("ERROR", msg, args)
}

// NewConsoleLogger creates a new console logger.
func NewConsoleLogger(prefix string) Logger {
	return &ConsoleLogger{prefix: prefix}
}

// ZerologLogger forwards to a zerolog.Logger. Args are key/value pairs.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps logger.
func NewZerologLogger(logger zerolog.Logger) Logger {
	return &ZerologLogger{logger: logger}
}

func (zl *ZerologLogger) emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			ev = ev.Interface("!BADKEY", key)
			break
		}
		if err, ok := args[i+1].(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

// Debug logs a debug message.
func (zl *ZerologLogger) Debug(msg string, args ...any) {
	zl.emit(zl.logger.Debug(), msg, args)
}

// Info logs an info message.
func (zl *ZerologLogger) Info(msg string, args ...any) {
	zl.emit(zl.logger.Info(), msg, args)
}

// Warn logs a warning message.
func (zl *ZerologLogger) Warn(msg string, args ...any) {
	zl.emit(zl.logger.Warn(), msg, args)
}

// Error logs an error message.
func (zl *ZerologLogger) Error(msg string, args ...any) {
	zl.emit(zl.logger.Error(), msg, args)
}

// SlogLogger forwards to a *slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger.
func NewSlogLogger(logger *slog.Logger) Logger {
	return &SlogLogger{logger: logger}
}

func (sl *SlogLogger) Debug(msg string, args ...any) {
	sl.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
}

func (sl *SlogLogger) Info(msg string, args ...any) {
	sl.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
}

func (sl *SlogLogger) Warn(msg string, args ...any) {
	sl.logger.Log(context.Background(), slog.LevelWarn, msg, args...)
}

func (sl *SlogLogger) Error(msg string, args ...any) {
	sl.logger.Log(context.Background(), slog.LevelError, msg, args...)
}
