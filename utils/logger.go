package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Logger provides leveled logging throughout the application.
// Debug lines are dropped unless debug output is enabled.
type Logger struct {
	out          *log.Logger
	err          *log.Logger
	debugEnabled bool
}

// NewLogger creates a Logger writing info/warn/debug to stdout and errors to stderr.
func NewLogger(debug bool) *Logger {
	return NewLoggerTo(os.Stdout, os.Stderr, debug)
}

// NewLoggerTo creates a Logger over arbitrary writers.
func NewLoggerTo(out, errOut io.Writer, debug bool) *Logger {
	return &Logger{
		out:          log.New(out, "", 0),
		err:          log.New(errOut, "", 0),
		debugEnabled: debug,
	}
}

// Discard returns a Logger that writes nowhere. Used by tests.
func Discard() *Logger {
	return NewLoggerTo(io.Discard, io.Discard, false)
}

func (l *Logger) line(level, format string, args ...any) string {
	ts := time.Now().Format("2006-01-02 15:04:05")
	return fmt.Sprintf("[%s] %s %s", ts, level, fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	l.out.Println(l.line("\033[32mINFO\033[0m ", format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.out.Println(l.line("\033[33mWARN\033[0m ", format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.err.Println(l.line("\033[31mERROR\033[0m", format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	if !l.debugEnabled {
		return
	}
	l.out.Println(l.line("\033[36mDEBUG\033[0m", format, args...))
}
