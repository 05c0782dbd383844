package domain

import (
	"strings"
	"time"
)

// =============================================================================
// Log Entries
// =============================================================================

// LogSeverity classifies a log line.
type LogSeverity string

const (
	SeverityDebug LogSeverity = "debug"
	SeverityInfo  LogSeverity = "info"
	SeverityWarn  LogSeverity = "warn"
	SeverityError LogSeverity = "error"
)

// LogOrigin names the stream a log line was read from.
type LogOrigin string

const (
	OriginStdout LogOrigin = "stdout"
	OriginStderr LogOrigin = "stderr"
)

// LogEntry is one line of deployment output.
type LogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Severity  LogSeverity `json:"severity"`
	Origin    LogOrigin   `json:"origin"`
	Message   string      `json:"message"`
}

// NewLogEntry builds a log entry for a line read from the given stream,
// stamping the current time and inferring the severity from the content.
func NewLogEntry(origin LogOrigin, message string) LogEntry {
	return LogEntry{
		Timestamp: time.Now().UTC(),
		Severity:  InferSeverity(message),
		Origin:    origin,
		Message:   message,
	}
}

// InferSeverity guesses a severity for a free-form log line. Container output
// carries no structured level, so this is a best-effort keyword scan; info is
// the default.
//
// Example:
//
//	InferSeverity("ERROR: connection refused")  // returns SeverityError
//	InferSeverity("listening on :3000")         // returns SeverityInfo
func InferSeverity(message string) LogSeverity {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "fatal") || strings.Contains(lower, "panic"):
		return SeverityError
	case strings.Contains(lower, "warn"):
		return SeverityWarn
	case strings.Contains(lower, "debug") || strings.Contains(lower, "trace"):
		return SeverityDebug
	default:
		return SeverityInfo
	}
}
