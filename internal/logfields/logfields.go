package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyRunStatus  = "run_status"
	KeyDocumentID = "document_id"
	KeyDocType    = "doc_type"
	KeySection    = "section"
	KeyFile       = "file"
	KeyBatchSize  = "batch_size"
	KeyOffset     = "offset"
	KeyTotal      = "total_items"
	KeyMemory     = "memory_bytes"
	KeyDurationMS = "duration_ms"
	KeyTrigger    = "trigger"
	KeyJobName    = "job_name"
	KeySubject    = "subject"
	KeyPath       = "path"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr         { return slog.String(KeyRunID, id) }
func RunStatus(s string) slog.Attr      { return slog.String(KeyRunStatus, s) }
func DocumentID(id int64) slog.Attr     { return slog.Int64(KeyDocumentID, id) }
func DocType(t string) slog.Attr        { return slog.String(KeyDocType, t) }
func Section(s string) slog.Attr        { return slog.String(KeySection, s) }
func File(path string) slog.Attr        { return slog.String(KeyFile, path) }
func BatchSize(n int) slog.Attr         { return slog.Int(KeyBatchSize, n) }
func Offset(n int) slog.Attr            { return slog.Int(KeyOffset, n) }
func Total(n int) slog.Attr             { return slog.Int(KeyTotal, n) }
func Memory(bytes uint64) slog.Attr     { return slog.Uint64(KeyMemory, bytes) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func Trigger(t string) slog.Attr        { return slog.String(KeyTrigger, t) }
func JobName(n string) slog.Attr        { return slog.String(KeyJobName, n) }
func Subject(s string) slog.Attr        { return slog.String(KeySubject, s) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
