package observe

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel parses a string log level. Unknown levels mean info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// structuredLogger writes one JSON object per entry.
type structuredLogger struct {
	level  LogLevel
	out    *lockedWriter
	fields map[string]any
}

// lockedWriter serializes writes from loggers derived from one another.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLogger creates a new structured logger with the given level, writing
// to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &structuredLogger{
		level:  ParseLogLevel(level),
		out:    &lockedWriter{w: w},
		fields: map[string]any{},
	}
}

// With returns a logger that adds fields to every entry.
func (l *structuredLogger) With(fields ...Field) Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = redact(f)
	}
	return &structuredLogger{level: l.level, out: l.out, fields: merged}
}

// WithTool returns a logger with tool context attached.
func (l *structuredLogger) WithTool(meta ToolMeta) Logger {
	fields := []Field{
		{Key: "tool.id", Value: meta.ToolID()},
		{Key: "tool.name", Value: meta.Name},
	}
	if meta.Namespace != "" {
		fields = append(fields, Field{Key: "tool.namespace", Value: meta.Namespace})
	}
	if meta.Version != "" {
		fields = append(fields, Field{Key: "tool.version", Value: meta.Version})
	}
	return l.With(fields...)
}

func (l *structuredLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelInfo, msg, fields)
}

func (l *structuredLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelWarn, msg, fields)
}

func (l *structuredLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelError, msg, fields)
}

func (l *structuredLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *structuredLogger) log(_ context.Context, level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	entry := make(map[string]any, len(l.fields)+len(fields)+3)
	for k, v := range l.fields {
		entry[k] = v
	}
	for _, f := range fields {
		entry[f.Key] = redact(f)
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		return // Silently drop entries that cannot be encoded
	}
	data = append(data, '\n')

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	_, _ = l.out.w.Write(data)
}

func redact(f Field) any {
	if IsRedactedField(f.Key) {
		return "[REDACTED]"
	}
	return f.Value
}

// IsRedactedField reports whether values logged under key are replaced by
// "[REDACTED]".
func IsRedactedField(key string) bool {
	key = strings.ToLower(key)
	for _, fragment := range RedactedFields {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

// nopLogger discards every entry.
type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...Field)  {}
func (nopLogger) Warn(context.Context, string, ...Field)  {}
func (nopLogger) Error(context.Context, string, ...Field) {}
func (nopLogger) Debug(context.Context, string, ...Field) {}
func (l nopLogger) With(...Field) Logger                  { return l }
func (l nopLogger) WithTool(ToolMeta) Logger              { return l }

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

// LoggerOrNop returns l, or NopLogger when l is nil.
func LoggerOrNop(l Logger) Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}
