// Package logging provides the leveled logger used by databases, the
// registry and the CLI, plus query timing and statistics.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level represents the logging level.
type Level int

const (
	LevelSilent Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

// ParseLevel maps a configuration string to a Level. Unknown names map to Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "off", "none":
		return LevelSilent
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	}
	return LevelInfo
}

func (l Level) String() string {
	switch l {
	case LevelSilent:
		return "SILENT"
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelDebug:
		return "DEBUG"
	}
	return "INFO"
}

// Fields are structured key/value pairs attached to a log line.
type Fields map[string]interface{}

// Logger is the interface every component logs through.
type Logger interface {
	Log(level Level, msg string, fields Fields)
}

// DefaultLogger writes colored, prefixed lines through the standard log package.
type DefaultLogger struct {
	level  Level
	logger *log.Logger
	mask   bool
}

// NewLogger creates a new default logger.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	if w == nil {
		w = os.Stderr
	}
	return &DefaultLogger{
		level:  level,
		logger: log.New(w, "[SCHEMASYNC] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// NewMaskedLogger creates a logger that masks bound query arguments.
func NewMaskedLogger(w io.Writer, level Level) *DefaultLogger {
	l := NewLogger(w, level)
	l.mask = true
	return l
}

// SetLevel changes the threshold.
func (l *DefaultLogger) SetLevel(level Level) {
	l.level = level
}

// Enabled reports whether messages at level are written.
func (l *DefaultLogger) Enabled(level Level) bool {
	return level <= l.level
}

var levelColors = map[Level]*color.Color{
	LevelError: color.New(color.FgRed, color.Bold),
	LevelWarn:  color.New(color.FgYellow),
	LevelInfo:  color.New(color.FgCyan),
	LevelDebug: color.New(color.FgHiBlack),
}

// Log logs a message at the given level.
func (l *DefaultLogger) Log(level Level, msg string, fields Fields) {
	if level == LevelSilent || level > l.level {
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if l.mask && k == "args" {
			parts = append(parts, k+"=[MASKED]")
		} else {
			parts = append(parts, k+"="+formatValue(fields[k]))
		}
	}

	fieldStr := ""
	if len(parts) > 0 {
		fieldStr = " " + strings.Join(parts, " ")
	}

	tag := "[" + level.String() + "]"
	if c, ok := levelColors[level]; ok {
		tag = c.Sprint(tag)
	}
	l.logger.Printf("%s %s%s", tag, msg, fieldStr)
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return `"` + val + `"`
	case time.Duration:
		return val.String()
	case error:
		return `"` + val.Error() + `"`
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Log(Level, string, Fields) {}

// Memory records log entries; used by tests and the inspection server.
type Memory struct {
	mu      sync.Mutex
	Entries []Entry
}

// Entry is one recorded log line.
type Entry struct {
	Level   Level
	Message string
	Fields  Fields
}

func (m *Memory) Log(level Level, msg string, fields Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, Entry{Level: level, Message: msg, Fields: fields})
}

// Find returns the entries at level whose message contains substr.
func (m *Memory) Find(level Level, substr string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.Entries {
		if e.Level == level && strings.Contains(e.Message, substr) {
			out = append(out, e)
		}
	}
	return out
}
