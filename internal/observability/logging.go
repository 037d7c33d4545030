// Package observability provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the generation engine.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger provides structured logging with request correlation and redaction
// of credentials that might leak through error messages.
//
// Built on Go's slog package:
//   - Configurable log levels (debug, info, warn, error)
//   - JSON output for production, text for development
//   - Automatic chat/user/request correlation from context
//   - Redaction of provider API keys
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"

	// ChatIDKey is the context key for chat IDs.
	ChatIDKey ContextKey = "chat_id"

	// UserIDKey is the context key for user IDs.
	UserIDKey ContextKey = "user_id"
)

// redactPatterns matches provider API keys so a key embedded in an upstream
// error never reaches the logs.
var redactPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9]{20,}`,
	`AIza[a-zA-Z0-9_-]{30,}`,
	`(?i)(api[_-]?key|token|secret)[\s:=]+["']?([a-zA-Z0-9_\-\.]{16,})["']?`,
}

// NewLogger creates a structured logger. An empty level defaults to "info"
// and an empty format to "text".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: LogLevelFromString(config.Level)}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(redactPatterns))
	for _, pattern := range redactPatterns {
		redacts = append(redacts, regexp.MustCompile(pattern))
	}

	return &Logger{logger: slog.New(handler), redacts: redacts}
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info-level message with optional key-value pairs.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error-level message with optional key-value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

// WithFields returns a logger with the given fields added to all records.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), redacts: l.redacts}
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	attrs := make([]any, 0, len(args)+6)

	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if id, ok := ctx.Value(ChatIDKey).(string); ok && id != "" {
		attrs = append(attrs, "chat_id", id)
	}
	if id, ok := ctx.Value(UserIDKey).(string); ok && id != "" {
		attrs = append(attrs, "user_id", id)
	}

	for _, arg := range args {
		attrs = append(attrs, l.redactValue(arg))
	}

	l.logger.Log(ctx, level, l.redactString(msg), attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	default:
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// WithRequestID adds a request ID to the context for log correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithChatID adds a chat ID to the context for log correlation.
func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, ChatIDKey, chatID)
}

// WithUserID adds a user ID to the context for log correlation.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// LogLevelFromString converts a string to a slog.Level, defaulting to info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
