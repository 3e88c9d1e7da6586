package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	CacheLevel
	InfoLevel
	NoticeLevel
	ErrorLevel
)

var levelPrefixes = map[Level]string{
	DebugLevel:  "[DEBUG]  ",
	CacheLevel:  "[CACHE]  ",
	InfoLevel:   "[INFO]   ",
	NoticeLevel: "[NOTICE] ",
	ErrorLevel:  "[ERROR]  ",
}

var levelColors = map[Level]color.Attribute{
	DebugLevel:  color.FgWhite,
	CacheLevel:  color.FgCyan,
	InfoLevel:   color.FgHiGreen,
	NoticeLevel: color.FgYellow,
	ErrorLevel:  color.FgRed,
}

// ParseLevel converts a level name into a Level
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return DebugLevel, nil
	case "cache":
		return CacheLevel, nil
	case "info":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level: %s", name)
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithRequest(request common.Address, format string, args ...interface{})

	// Cache logs a cache lifecycle event.
	Cache(format string, args ...interface{})
	CacheWithRequest(request common.Address, format string, args ...interface{})

	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithRequest(request common.Address, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithRequest(request common.Address, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Debug(_ string, _ ...interface{})                              {}
func (l *EmptyLogger) DebugWithRequest(_ common.Address, _ string, _ ...interface{}) {}
func (l *EmptyLogger) Cache(_ string, _ ...interface{})                              {}
func (l *EmptyLogger) CacheWithRequest(_ common.Address, _ string, _ ...interface{}) {}
func (l *EmptyLogger) Info(_ string, _ ...interface{})                               {}
func (l *EmptyLogger) InfoWithRequest(_ common.Address, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                             {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                              {}
func (l *EmptyLogger) ErrorWithRequest(_ common.Address, _ string, _ ...interface{}) {}

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
	}
}

// formatMessage formats the log message with the level prefix, the short request address and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, request *common.Address, format string) string {
	levelStr := levelPrefixes[level]
	if l.enableColoring {
		levelStr = color.New(levelColors[level]).Sprint(levelStr)
	}

	if request == nil {
		return levelStr + format
	}
	return levelStr + "[" + shortAddress(*request) + "] " + format
}

func (l *StdLogger) logf(level Level, request *common.Address, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= level {
		log.Printf(l.formatMessage(level, request, format), args...)
	}
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, nil, format, args...)
}

func (l *StdLogger) DebugWithRequest(request common.Address, format string, args ...interface{}) {
	l.logf(DebugLevel, &request, format, args...)
}

func (l *StdLogger) Cache(format string, args ...interface{}) {
	l.logf(CacheLevel, nil, format, args...)
}

func (l *StdLogger) CacheWithRequest(request common.Address, format string, args ...interface{}) {
	l.logf(CacheLevel, &request, format, args...)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, nil, format, args...)
}

func (l *StdLogger) InfoWithRequest(request common.Address, format string, args ...interface{}) {
	l.logf(InfoLevel, &request, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, nil, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, nil, format, args...)
}

func (l *StdLogger) ErrorWithRequest(request common.Address, format string, args ...interface{}) {
	l.logf(ErrorLevel, &request, format, args...)
}

// shortAddress renders 0x1234...abcd
func shortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}
