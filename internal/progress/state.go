package progress

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/database"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
)

const keyCurrentRun = "current_run_id"

// SetCurrentRun points the current-run pointer at runID.
func (t *Tracker) SetCurrentRun(ctx context.Context, runID string) error {
	_, err := database.Exec(ctx, t.db, `INSERT INTO llms_txt_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		keyCurrentRun, runID, t.now().Unix())
	if err != nil {
		return storageErr(err, "failed to set current run").WithContext("run_id", runID)
	}
	return nil
}

// CurrentRun returns the current-run pointer, or "" when none is set.
func (t *Tracker) CurrentRun(ctx context.Context) (string, error) {
	var runID string
	err := t.db.QueryRowContext(ctx, "SELECT value FROM llms_txt_state WHERE key = ?", keyCurrentRun).Scan(&runID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageErr(err, "failed to read current run")
	}
	return runID, nil
}

// ClearCurrentRun clears the pointer if it still names runID, so a finishing
// run never clears the pointer of a newer one.
func (t *Tracker) ClearCurrentRun(ctx context.Context, runID string) error {
	_, err := database.Exec(ctx, t.db, "DELETE FROM llms_txt_state WHERE key = ? AND value = ?", keyCurrentRun, runID)
	if err != nil {
		return storageErr(err, "failed to clear current run").WithContext("run_id", runID)
	}
	return nil
}

// Claim creates a pending record for runID and points the current-run
// pointer at it, in one transaction. It refuses while the pointer names a
// live run updated within lease, returning that run's id as holder.
func (t *Tracker) Claim(ctx context.Context, runID string, lease time.Duration) (holder string, err error) {
	now := t.now()
	err = database.RunTx(ctx, t.db, func(tx *sql.Tx) error {
		holder = ""
		var current string
		err := tx.QueryRowContext(ctx, "SELECT value FROM llms_txt_state WHERE key = ?", keyCurrentRun).Scan(&current)
		if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
			return err
		}
		if current != "" {
			var live int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM llms_txt_progress
				WHERE run_id = ? AND status NOT IN `+terminalSQL+` AND updated_at >= ?`,
				current, now.Add(-lease).Unix()).Scan(&live)
			if err != nil {
				return err
			}
			if live > 0 {
				holder = current
				return nil
			}
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO llms_txt_progress (run_id, status, updated_at) VALUES (?, ?, ?)",
			runID, StatusPending, now.Unix()); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO llms_txt_state (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			keyCurrentRun, runID, now.Unix())
		return err
	})
	if err != nil {
		if isConstraint(err) {
			return "", errors.NewError(errors.CategoryAlreadyExists, "run already exists").WithContext("run_id", runID).Build()
		}
		return "", storageErr(err, "failed to claim current run").WithContext("run_id", runID)
	}
	return holder, nil
}
