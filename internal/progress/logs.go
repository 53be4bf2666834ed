package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/database"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// Log appends entry. ERROR and WARNING entries of a live run also bump that
// run's errors/warnings counters, in the same transaction.
func (t *Tracker) Log(ctx context.Context, entry LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.now()
	}
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	var contextJSON sql.NullString
	if len(entry.Context) > 0 {
		b, err := json.Marshal(entry.Context)
		if err != nil {
			return storageErr(err, "failed to encode log context")
		}
		contextJSON = sql.NullString{String: string(b), Valid: true}
	}

	err := database.RunTx(ctx, t.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO llms_txt_logs
			(run_id, timestamp, level, message, context, document_id, memory_usage, execution_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			nullString(entry.RunID), entry.Timestamp.Unix(), entry.Level, entry.Message, contextJSON,
			nullInt(entry.DocumentID), nullInt(int64(entry.MemoryUsage)),
			sql.NullFloat64{Float64: entry.ExecutionTime, Valid: entry.ExecutionTime != 0})
		if err != nil {
			return err
		}
		if entry.RunID == "" {
			return nil
		}
		var counter string
		switch entry.Level {
		case LevelError:
			counter = "errors"
		case LevelWarning:
			counter = "warnings"
		default:
			return nil
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE llms_txt_progress SET "+counter+" = "+counter+" + 1 WHERE run_id = ? AND status NOT IN "+terminalSQL,
			entry.RunID)
		return err
	})
	if err != nil {
		return storageErr(err, "failed to append log entry")
	}
	return nil
}

// Logs returns entries after q.AfterID in id order, plus whether more exist.
func (t *Tracker) Logs(ctx context.Context, q LogQuery) (LogPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	query := `SELECT id, COALESCE(run_id, ''), timestamp, level, message, context,
		COALESCE(document_id, 0), COALESCE(memory_usage, 0), COALESCE(execution_time, 0)
		FROM llms_txt_logs WHERE id > ?`
	args := []any{q.AfterID}
	if q.Level != "" {
		query += " AND level = ?"
		args = append(args, q.Level)
	}
	if q.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, q.RunID)
	}
	query += " ORDER BY id LIMIT ?"
	args = append(args, limit+1)

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return LogPage{}, storageErr(err, "failed to query logs")
	}
	defer func() { _ = rows.Close() }()

	page := LogPage{Logs: []LogEntry{}}
	for rows.Next() {
		var (
			e        LogEntry
			ts       int64
			level    string
			ctxJSON  sql.NullString
			memUsage int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &ts, &level, &e.Message, &ctxJSON,
			&e.DocumentID, &memUsage, &e.ExecutionTime); err != nil {
			return LogPage{}, storageErr(err, "failed to scan log entry")
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.Level = Level(level)
		if memUsage > 0 {
			e.MemoryUsage = uint64(memUsage)
		}
		if ctxJSON.Valid && ctxJSON.String != "" {
			// Undecodable context is dropped rather than failing the page.
			_ = json.Unmarshal([]byte(ctxJSON.String), &e.Context)
		}
		page.Logs = append(page.Logs, e)
	}
	if err := rows.Err(); err != nil {
		return LogPage{}, storageErr(err, "failed to iterate logs")
	}

	if len(page.Logs) > limit {
		page.Logs = page.Logs[:limit]
		page.HasMore = true
	}
	return page, nil
}

// PruneLogs deletes entries older than olderThan and returns how many went.
func (t *Tracker) PruneLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := t.now().Add(-olderThan).Unix()
	res, err := database.Exec(ctx, t.db, "DELETE FROM llms_txt_logs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, storageErr(err, "failed to prune logs")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
