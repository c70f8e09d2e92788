// Package logging is indexkit's leveled, component-scoped logger. Loggers
// are handed to constructors; there is no package-level logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is a log severity name.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

func (l Level) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return -1
	}
}

// ParseLevel accepts level names in any case, plus "warning".
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if level == "WARNING" {
		level = LevelWarn
	}
	if level.rank() < 0 {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// sink serializes writes from a logger and everything derived from it.
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

// Logger writes one line per call:
//
//	LEVEL TIMESTAMP [component] message key=value ...
//
// Keys are sorted. A nil *Logger drops everything.
type Logger struct {
	out       *sink
	minLevel  Level
	component string
	bound     map[string]interface{}
}

// New logs INFO and above to stdout.
func New() *Logger {
	return &Logger{out: &sink{w: os.Stdout}, minLevel: LevelInfo}
}

// Discard returns a logger with nowhere to write.
func Discard() *Logger {
	return &Logger{out: &sink{w: io.Discard}, minLevel: LevelError}
}

// WithComponent returns a logger tagged with component. It shares the
// parent's output.
func (l *Logger) WithComponent(component string) *Logger {
	child := *l
	child.component = component
	return &child
}

// With returns a logger that adds fields to every line. Per-call fields win
// on key clashes.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	child := *l
	child.bound = make(map[string]interface{}, len(l.bound)+len(fields))
	for k, v := range l.bound {
		child.bound[k] = v
	}
	for k, v := range fields {
		child.bound[k] = v
	}
	return &child
}

// SetLevel changes this logger's threshold. Derived loggers keep theirs.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput redirects this logger and every logger sharing its output.
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.w = w
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if l == nil || level.rank() < l.minLevel.rank() {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %s ", level, time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	if l.component != "" {
		fmt.Fprintf(&b, "[%s] ", l.component)
	}
	b.WriteString(msg)

	var extra map[string]interface{}
	if len(fields) > 0 {
		extra = fields[0]
	}
	writeFields(&b, l.bound, extra)
	b.WriteByte('\n')

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	io.WriteString(l.out.w, b.String())
}

// writeFields appends the union of bound and extra as sorted key=value pairs.
func writeFields(b *strings.Builder, bound, extra map[string]interface{}) {
	if len(bound) == 0 && len(extra) == 0 {
		return
	}
	merged := make(map[string]interface{}, len(bound)+len(extra))
	for k, v := range bound {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, merged[k])
	}
}
