package progress

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/database"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS llms_txt_progress (
	run_id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'pending',
	current_item INTEGER NOT NULL DEFAULT 0,
	total_items INTEGER NOT NULL DEFAULT 0,
	current_document_id INTEGER,
	current_title TEXT,
	started_at INTEGER,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER,
	errors INTEGER NOT NULL DEFAULT 0,
	warnings INTEGER NOT NULL DEFAULT 0,
	memory_peak INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_llms_txt_progress_status ON llms_txt_progress(status, updated_at);
CREATE TABLE IF NOT EXISTS llms_txt_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT,
	timestamp INTEGER NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	context TEXT,
	document_id INTEGER,
	memory_usage INTEGER,
	execution_time REAL
);
CREATE INDEX IF NOT EXISTS idx_llms_txt_logs_timestamp ON llms_txt_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_llms_txt_logs_level ON llms_txt_logs(level, id);
CREATE TABLE IF NOT EXISTS llms_txt_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const recordColumns = `run_id, status, current_item, total_items, current_document_id, current_title,
	started_at, updated_at, completed_at, errors, warnings, memory_peak`

// Tracker persists run records and log entries.
type Tracker struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the tracker clock.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// NewTracker returns a Tracker over db. Call EnsureSchema before first use.
func NewTracker(db *sql.DB, opts ...Option) *Tracker {
	t := &Tracker{db: db, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DB returns the underlying database, shared with the generation lock.
func (t *Tracker) DB() *sql.DB { return t.db }

// Now returns the tracker clock's current time.
func (t *Tracker) Now() time.Time { return t.now() }

// EnsureSchema creates the progress, log and state tables.
func (t *Tracker) EnsureSchema(ctx context.Context) error {
	if _, err := database.Exec(ctx, t.db, schema); err != nil {
		return storageErr(err, "failed to ensure progress schema")
	}
	return nil
}

// Create inserts a pending record for runID.
func (t *Tracker) Create(ctx context.Context, runID string) error {
	_, err := database.Exec(ctx, t.db,
		"INSERT INTO llms_txt_progress (run_id, status, updated_at) VALUES (?, ?, ?)",
		runID, StatusPending, t.now().Unix())
	if err != nil {
		if isConstraint(err) {
			return errors.NewError(errors.CategoryAlreadyExists, "run already exists").WithContext("run_id", runID).Build()
		}
		return storageErr(err, "failed to create run").WithContext("run_id", runID)
	}
	return nil
}

// Start (re)initialises runID as running with zeroed counters. A run that
// currently holds the lock stays locked. Finished runs cannot be restarted.
func (t *Tracker) Start(ctx context.Context, runID string, total int) error {
	now := t.now().Unix()
	res, err := database.Exec(ctx, t.db, `INSERT INTO llms_txt_progress
			(run_id, status, current_item, total_items, started_at, updated_at)
		VALUES (?, 'running', 0, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = CASE WHEN status = 'locked' THEN 'locked' ELSE 'running' END,
			current_item = 0,
			total_items = excluded.total_items,
			current_document_id = NULL,
			current_title = NULL,
			started_at = excluded.started_at,
			updated_at = excluded.updated_at,
			completed_at = NULL,
			errors = 0,
			warnings = 0,
			memory_peak = 0
		WHERE status NOT IN `+terminalSQL,
		runID, total, now, now)
	if err != nil {
		return storageErr(err, "failed to start run").WithContext("run_id", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ValidationError("run already finished").WithContext("run_id", runID).Build()
	}
	return nil
}

// SetTotal updates total_items of a live run.
func (t *Tracker) SetTotal(ctx context.Context, runID string, total int) error {
	_, err := database.Exec(ctx, t.db,
		"UPDATE llms_txt_progress SET total_items = ?, updated_at = ? WHERE run_id = ? AND status NOT IN "+terminalSQL,
		total, t.now().Unix(), runID)
	if err != nil {
		return storageErr(err, "failed to set run total").WithContext("run_id", runID)
	}
	return nil
}

// Advance moves the run forward; current_item never decreases. It also
// refreshes updated_at, which is the lease heartbeat of a held lock.
func (t *Tracker) Advance(ctx context.Context, runID string, item int, documentID int64, title string) error {
	_, err := database.Exec(ctx, t.db, `UPDATE llms_txt_progress SET
			current_item = MAX(current_item, ?),
			current_document_id = ?,
			current_title = ?,
			updated_at = ?
		WHERE run_id = ? AND status NOT IN `+terminalSQL,
		item, nullInt(documentID), nullString(title), t.now().Unix(), runID)
	if err != nil {
		return storageErr(err, "failed to advance run").WithContext("run_id", runID)
	}
	return nil
}

// Heartbeat refreshes updated_at of a live run, extending the lease of a
// held lock, and returns the run's current status.
func (t *Tracker) Heartbeat(ctx context.Context, runID string) (Status, error) {
	_, err := database.Exec(ctx, t.db,
		"UPDATE llms_txt_progress SET updated_at = ? WHERE run_id = ? AND status NOT IN "+terminalSQL,
		t.now().Unix(), runID)
	if err != nil {
		return "", storageErr(err, "failed to refresh run lease").WithContext("run_id", runID)
	}
	rec, err := t.Get(ctx, runID)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// Complete moves a live run into a terminal status. A run that already
// finished (for example cancelled) keeps its status.
func (t *Tracker) Complete(ctx context.Context, runID string, status Status) error {
	if !status.Terminal() {
		return errors.ValidationError("completion status must be terminal").WithContext("status", string(status)).Build()
	}
	now := t.now().Unix()
	_, err := database.Exec(ctx, t.db,
		"UPDATE llms_txt_progress SET status = ?, completed_at = ?, updated_at = ? WHERE run_id = ? AND status NOT IN "+terminalSQL,
		status, now, now, runID)
	if err != nil {
		return storageErr(err, "failed to complete run").WithContext("run_id", runID)
	}
	return nil
}

// Cancel requests cancellation of a live run. It reports whether the run was
// live; unknown runs yield a not-found error.
func (t *Tracker) Cancel(ctx context.Context, runID string) (bool, error) {
	now := t.now().Unix()
	res, err := database.Exec(ctx, t.db,
		"UPDATE llms_txt_progress SET status = 'cancelled', completed_at = ?, updated_at = ? WHERE run_id = ? AND status NOT IN "+terminalSQL,
		now, now, runID)
	if err != nil {
		return false, storageErr(err, "failed to cancel run").WithContext("run_id", runID)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := t.Get(ctx, runID); err != nil {
		return false, err
	}
	return false, nil
}

// IsCancelled reports whether runID has been cancelled.
func (t *Tracker) IsCancelled(ctx context.Context, runID string) (bool, error) {
	rec, err := t.Get(ctx, runID)
	if err != nil {
		return false, err
	}
	return rec.Status == StatusCancelled, nil
}

// ObserveMemory raises memory_peak to bytes if it is higher.
func (t *Tracker) ObserveMemory(ctx context.Context, runID string, bytes uint64) error {
	_, err := database.Exec(ctx, t.db,
		"UPDATE llms_txt_progress SET memory_peak = MAX(memory_peak, ?) WHERE run_id = ?",
		int64(bytes), runID)
	if err != nil {
		return storageErr(err, "failed to record memory peak").WithContext("run_id", runID)
	}
	return nil
}

// Get returns the record of runID.
func (t *Tracker) Get(ctx context.Context, runID string) (*Record, error) {
	rec, err := scanRecord(t.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM llms_txt_progress WHERE run_id = ?", runID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError("run not found").WithContext("run_id", runID).Build()
	}
	if err != nil {
		return nil, storageErr(err, "failed to read run").WithContext("run_id", runID)
	}
	return rec, nil
}

// Runs returns the most recently updated runs.
func (t *Tracker) Runs(ctx context.Context, limit int) ([]Record, error) {
	rows, err := t.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM llms_txt_progress ORDER BY updated_at DESC, run_id LIMIT ?", limit)
	if err != nil {
		return nil, storageErr(err, "failed to list runs")
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr(err, "failed to scan run")
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "failed to iterate runs")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r                         Record
		status                    string
		docID, started, completed sql.NullInt64
		title                     sql.NullString
		updated, memPeak          int64
	)
	err := sc.Scan(&r.RunID, &status, &r.CurrentItem, &r.TotalItems, &docID, &title,
		&started, &updated, &completed, &r.Errors, &r.Warnings, &memPeak)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.CurrentDocumentID = docID.Int64
	r.CurrentTitle = title.String
	r.UpdatedAt = time.Unix(updated, 0).UTC()
	if started.Valid {
		r.StartedAt = time.Unix(started.Int64, 0).UTC()
	}
	if completed.Valid {
		r.CompletedAt = time.Unix(completed.Int64, 0).UTC()
	}
	if memPeak > 0 {
		r.MemoryPeak = uint64(memPeak)
	}
	return &r, nil
}

func storageErr(err error, msg string) *errors.ClassifiedError {
	return errors.WrapError(err, errors.CategoryStorage, msg).Build()
}

func isConstraint(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "SQLITE_CONSTRAINT"))
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// String renders a record for CLI output.
func (r Record) String() string {
	return fmt.Sprintf("%s %s %d/%d", r.RunID, r.Status, r.CurrentItem, r.TotalItems)
}
