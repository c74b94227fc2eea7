// Package logging provides the process-wide logger shared by every stage.
//
// It is a hand-rolled file+stdout logger rather than a structured
// logging library: a single
// mutex-guarded writer, leveled by a prefix, safe for concurrent use even
// though the engine itself is single-threaded (stages may be constructed
// and logged from test goroutines).
package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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

// Logger writes leveled lines to stdout and, optionally, a log file.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	file     *os.File
	writer   *bufio.Writer
	minLevel Level
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// Default returns the process-wide logger, created on first use with
// stdout only and LevelInfo.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLog = New(os.Stdout, LevelInfo)
	})
	return defaultLog
}

// New creates a logger writing to w at the given minimum level.
func New(w io.Writer, min Level) *Logger {
	return &Logger{out: w, minLevel: min}
}

// SetMinLevel changes the minimum level that reaches the writer(s).
func (l *Logger) SetMinLevel(min Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = min
}

// SetOutputFile directs subsequent log lines to path in addition to the
// logger's existing writer. Safe to call once at startup.
func (l *Logger) SetOutputFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	l.mu.Lock()
	l.file = f
	l.writer = bufio.NewWriter(f)
	l.mu.Unlock()
	return nil
}

// Close flushes and closes the backing file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer != nil {
		l.writer.Flush()
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.minLevel {
		return
	}
	line := fmt.Sprintf("%s [%s] %s\n", time.Now().Format("15:04:05.000"), level, fmt.Sprintf(format, args...))

	if l.out != nil {
		io.WriteString(l.out, line)
	}
	if l.writer != nil {
		l.writer.WriteString(line)
		l.writer.Flush()
	}
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }
