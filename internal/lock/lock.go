// Package lock implements the generation lock: the 'locked' status of a run
// record plus a lease on its updated_at timestamp.
package lock

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/database"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
	"git.home.luguber.info/inful/llmstxt/internal/progress"
)

// DefaultTimeout is the lease duration of a held lock.
const DefaultTimeout = 300 * time.Second

// Lock coordinates generation runs through the progress table.
type Lock struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Lock.
type Option func(*Lock)

// WithTimeout sets the lease duration.
func WithTimeout(d time.Duration) Option {
	return func(l *Lock) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithClock overrides the lease clock.
func WithClock(now func() time.Time) Option { return func(l *Lock) { l.now = now } }

// WithLogger sets the lock logger.
func WithLogger(logger *slog.Logger) Option { return func(l *Lock) { l.logger = logger } }

// New returns a Lock over the progress database.
func New(db *sql.DB, opts ...Option) *Lock {
	l := &Lock{db: db, timeout: DefaultTimeout, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Timeout returns the lease duration.
func (l *Lock) Timeout() time.Duration { return l.timeout }

// Acquire marks runID locked with one conditional update. It succeeds only if
// the run is live and not locked, or its lease expired. Of concurrent callers
// exactly one sees true.
func (l *Lock) Acquire(ctx context.Context, runID string) (bool, error) {
	now := l.now()
	res, err := database.Exec(ctx, l.db, `UPDATE llms_txt_progress
		SET status = 'locked', updated_at = ?
		WHERE run_id = ?
			AND status NOT IN ('completed', 'cancelled', 'error')
			AND (status != 'locked' OR updated_at < ?)`,
		now.Unix(), runID, now.Add(-l.timeout).Unix())
	if err != nil {
		return false, errors.WrapError(err, errors.CategoryStorage, "failed to acquire generation lock").
			WithContext("run_id", runID).Build()
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.WrapError(err, errors.CategoryStorage, "failed to acquire generation lock").
			WithContext("run_id", runID).Build()
	}
	if n == 1 {
		l.logger.DebugContext(ctx, "Generation lock acquired", logfields.RunID(runID))
	}
	return n == 1, nil
}

// Release ends the lock by moving runID to final. Releasing into a
// non-terminal status (running) hands the run back to normal progress;
// a terminal status also stamps completed_at. Runs cancelled meanwhile
// stay cancelled.
func (l *Lock) Release(ctx context.Context, runID string, final progress.Status) error {
	now := l.now().Unix()
	var completed sql.NullInt64
	if final.Terminal() {
		completed = sql.NullInt64{Int64: now, Valid: true}
	}
	_, err := database.Exec(ctx, l.db, `UPDATE llms_txt_progress
		SET status = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)
		WHERE run_id = ? AND status NOT IN ('completed', 'cancelled', 'error')`,
		string(final), now, completed, runID)
	if err != nil {
		return errors.WrapError(err, errors.CategoryStorage, "failed to release generation lock").
			WithContext("run_id", runID).Build()
	}
	l.logger.DebugContext(ctx, "Generation lock released", logfields.RunID(runID), logfields.RunStatus(string(final)))
	return nil
}

// IsLocked reports whether runID holds a lock whose lease is still fresh.
func (l *Lock) IsLocked(ctx context.Context, runID string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM llms_txt_progress
		WHERE run_id = ? AND status = 'locked' AND updated_at >= ?`,
		runID, l.now().Add(-l.timeout).Unix()).Scan(&n)
	if err != nil {
		return false, errors.WrapError(err, errors.CategoryStorage, "failed to inspect generation lock").
			WithContext("run_id", runID).Build()
	}
	return n > 0, nil
}

// AnyLocked reports whether any run holds a fresh lock.
func (l *Lock) AnyLocked(ctx context.Context) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM llms_txt_progress WHERE status = 'locked' AND updated_at >= ?",
		l.now().Add(-l.timeout).Unix()).Scan(&n)
	if err != nil {
		return false, errors.WrapError(err, errors.CategoryStorage, "failed to inspect generation locks").Build()
	}
	return n > 0, nil
}

// CleanupStale cancels runs stuck in locked, running or starting past the
// lease and returns how many it cancelled.
func (l *Lock) CleanupStale(ctx context.Context) (int64, error) {
	now := l.now()
	res, err := database.Exec(ctx, l.db, `UPDATE llms_txt_progress
		SET status = 'cancelled', updated_at = ?, completed_at = ?
		WHERE status IN ('locked', 'running', 'starting') AND updated_at < ?`,
		now.Unix(), now.Unix(), now.Add(-l.timeout).Unix())
	if err != nil {
		return 0, errors.WrapError(err, errors.CategoryStorage, "failed to clean up stale runs").Build()
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		l.logger.InfoContext(ctx, "Cancelled stale generation runs", slog.Int64("count", n))
	}
	return n, nil
}
