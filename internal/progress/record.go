// Package progress persists generation runs, their log stream and the
// pointer to the live run.
package progress

import (
	"log/slog"
	"strings"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusLocked    Status = "locked"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// terminalSQL is the SQL list of terminal statuses.
const terminalSQL = "('completed', 'cancelled', 'error')"

// Record is the durable state of one run.
type Record struct {
	RunID             string
	Status            Status
	CurrentItem       int
	TotalItems        int
	CurrentDocumentID int64
	CurrentTitle      string
	StartedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       time.Time
	Errors            int
	Warnings          int
	MemoryPeak        uint64
}

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// ParseLevel accepts level names case-insensitively; "warn" is accepted.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarning, true
	case "ERROR":
		return LevelError, true
	}
	return "", false
}

// LevelFromSlog maps an slog level onto the stored levels.
func LevelFromSlog(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarning
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// LogEntry is one append-only log record.
type LogEntry struct {
	ID            int64          `json:"id"`
	RunID         string         `json:"run_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Level         Level          `json:"level"`
	Message       string         `json:"message"`
	Context       map[string]any `json:"context,omitempty"`
	DocumentID    int64          `json:"document_id,omitempty"`
	MemoryUsage   uint64         `json:"memory_usage,omitempty"`
	ExecutionTime float64        `json:"execution_time,omitempty"` // milliseconds
}

// LogQuery selects log entries for polling.
type LogQuery struct {
	AfterID int64 // only entries with id > AfterID
	Level   Level // "" selects every level
	RunID   string
	Limit   int
}

// LogPage is one page of log entries.
type LogPage struct {
	Logs    []LogEntry `json:"logs"`
	HasMore bool       `json:"has_more"`
}
