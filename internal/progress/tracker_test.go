package progress

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/llmstxt/internal/database"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	tr := NewTracker(db, WithClock(clock.Now))
	require.NoError(t, tr.EnsureSchema(t.Context()))
	require.NoError(t, tr.EnsureSchema(t.Context()))
	return tr, clock
}

func TestRunLifecycle(t *testing.T) {
	tr, clock := newTracker(t)
	ctx := t.Context()

	require.NoError(t, tr.Create(ctx, "run-1"))
	err := tr.Create(ctx, "run-1")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryAlreadyExists))

	rec, err := tr.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)

	require.NoError(t, tr.Start(ctx, "run-1", 10))
	clock.Advance(4 * time.Second)
	require.NoError(t, tr.Advance(ctx, "run-1", 4, 77, "Fourth"))
	require.NoError(t, tr.Advance(ctx, "run-1", 2, 78, "Stale"))

	rec, err = tr.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, 4, rec.CurrentItem, "current_item never decreases")
	assert.Equal(t, 10, rec.TotalItems)
	assert.Equal(t, "Stale", rec.CurrentTitle)
	assert.Equal(t, clock.Now(), rec.UpdatedAt)

	v, err := tr.View(ctx, "run-1")
	require.NoError(t, err)
	assert.InDelta(t, 40.0, v.Percentage, 0.001)
	assert.InDelta(t, 4.0, v.ElapsedTime, 0.001)
	assert.InDelta(t, 6.0, v.EstimatedRemaining, 0.001)

	require.NoError(t, tr.Complete(ctx, "run-1", StatusCompleted))
	rec, err = tr.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.False(t, rec.CompletedAt.IsZero())

	// Terminal runs stay terminal.
	require.NoError(t, tr.Complete(ctx, "run-1", StatusError))
	cancelled, err := tr.Cancel(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, cancelled)
	err = tr.Start(ctx, "run-1", 3)
	require.Error(t, err)
	rec, err = tr.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)

	require.Error(t, tr.Complete(ctx, "run-1", StatusRunning))
}

func TestStartKeepsLockedStatus(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := t.Context()

	require.NoError(t, tr.Create(ctx, "run-l"))
	_, err := tr.DB().ExecContext(ctx, "UPDATE llms_txt_progress SET status = 'locked' WHERE run_id = ?", "run-l")
	require.NoError(t, err)

	require.NoError(t, tr.Start(ctx, "run-l", 6))
	rec, err := tr.Get(ctx, "run-l")
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, rec.Status)
	assert.Equal(t, 6, rec.TotalItems)
}

func TestCancel(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := t.Context()

	_, err := tr.Cancel(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))

	require.NoError(t, tr.Start(ctx, "run-c", 2))
	ok, err := tr.Cancel(ctx, "run-c")
	require.NoError(t, err)
	assert.True(t, ok)

	isCancelled, err := tr.IsCancelled(ctx, "run-c")
	require.NoError(t, err)
	assert.True(t, isCancelled)

	// The generator's final write does not resurrect a cancelled run.
	require.NoError(t, tr.Complete(ctx, "run-c", StatusCompleted))
	rec, err := tr.Get(ctx, "run-c")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)
}

func TestViewOfEmptyRun(t *testing.T) {
	v := NewView(&Record{RunID: "r", Status: StatusPending}, time.Now())
	assert.Zero(t, v.Percentage)
	assert.Zero(t, v.EstimatedRemaining)
	assert.Nil(t, v.StartedAt)
	assert.Equal(t, "0 B", v.MemoryPeakFormatted)

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"estimated_remaining":0`)
}

func TestObserveMemoryKeepsPeak(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := t.Context()

	require.NoError(t, tr.Start(ctx, "run-m", 1))
	require.NoError(t, tr.ObserveMemory(ctx, "run-m", 64<<20))
	require.NoError(t, tr.ObserveMemory(ctx, "run-m", 32<<20))

	v, err := tr.View(ctx, "run-m")
	require.NoError(t, err)
	assert.Equal(t, uint64(64<<20), v.MemoryPeak)
	assert.Equal(t, "64 MiB", v.MemoryPeakFormatted)
}

func TestLogCountsAndPaging(t *testing.T) {
	tr, clock := newTracker(t)
	ctx := t.Context()

	require.NoError(t, tr.Start(ctx, "run-log", 5))
	require.NoError(t, tr.Log(ctx, LogEntry{RunID: "run-log", Level: LevelInfo, Message: "started"}))
	require.NoError(t, tr.Log(ctx, LogEntry{RunID: "run-log", Level: LevelWarning, Message: "slow", Context: map[string]any{"batch": 2}}))
	require.NoError(t, tr.Log(ctx, LogEntry{RunID: "run-log", Level: LevelError, Message: "row failed", DocumentID: 12}))
	require.NoError(t, tr.Log(ctx, LogEntry{Level: LevelError, Message: "no run"}))

	rec, err := tr.Get(ctx, "run-log")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Errors)
	assert.Equal(t, 1, rec.Warnings)

	page, err := tr.Logs(ctx, LogQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Logs, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "started", page.Logs[0].Message)
	assert.InDelta(t, 2.0, page.Logs[1].Context["batch"], 0.001)

	page, err = tr.Logs(ctx, LogQuery{AfterID: page.Logs[1].ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Logs, 2)
	assert.False(t, page.HasMore)
	assert.Equal(t, int64(12), page.Logs[0].DocumentID)

	errorsOnly, err := tr.Logs(ctx, LogQuery{Level: LevelError})
	require.NoError(t, err)
	assert.Len(t, errorsOnly.Logs, 2)

	clock.Advance(25 * time.Hour)
	require.NoError(t, tr.Log(ctx, LogEntry{Message: "fresh"}))
	deleted, err := tr.PruneLogs(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	rest, err := tr.Logs(ctx, LogQuery{})
	require.NoError(t, err)
	require.Len(t, rest.Logs, 1)
	assert.Equal(t, "fresh", rest.Logs[0].Message)
}

func TestCurrentRunPointer(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := t.Context()

	id, err := tr.CurrentRun(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, tr.SetCurrentRun(ctx, "a"))
	require.NoError(t, tr.SetCurrentRun(ctx, "b"))
	require.NoError(t, tr.ClearCurrentRun(ctx, "a"))

	id, err = tr.CurrentRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	require.NoError(t, tr.ClearCurrentRun(ctx, "b"))
	id, err = tr.CurrentRun(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestLogHandlerMirrorsRunRecords(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := t.Context()
	require.NoError(t, tr.Start(ctx, "run-h", 1))

	var buf bytes.Buffer
	next := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewLogHandler(next, tr, slog.LevelInfo))

	logger.Info("no run attached")
	logger.Debug("below mirror level", logfields.RunID("run-h"))
	runLogger := logger.With(logfields.RunID("run-h"))
	runLogger.Warn("batch shrunk", logfields.BatchSize(25), logfields.Memory(1024))
	runLogger.WithGroup("doc").Error("upsert failed", slog.String("title", "Broken"))

	assert.Contains(t, buf.String(), "no run attached")
	assert.Contains(t, buf.String(), "below mirror level")

	page, err := tr.Logs(ctx, LogQuery{RunID: "run-h"})
	require.NoError(t, err)
	require.Len(t, page.Logs, 2)

	warn := page.Logs[0]
	assert.Equal(t, LevelWarning, warn.Level)
	assert.Equal(t, "batch shrunk", warn.Message)
	assert.Equal(t, uint64(1024), warn.MemoryUsage)
	assert.InDelta(t, 25.0, warn.Context[logfields.KeyBatchSize], 0.001)

	assert.Equal(t, LevelError, page.Logs[1].Level)
	assert.Equal(t, "Broken", page.Logs[1].Context["doc.title"])

	rec, err := tr.Get(ctx, "run-h")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Warnings)
	assert.Equal(t, 1, rec.Errors)
}

func TestParseLevel(t *testing.T) {
	l, ok := ParseLevel("warn")
	assert.True(t, ok)
	assert.Equal(t, LevelWarning, l)
	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}

func TestClaimRefusesWhileLiveRunHoldsPointer(t *testing.T) {
	tr, clock := newTracker(t)
	ctx := t.Context()
	lease := 5 * time.Minute

	holder, err := tr.Claim(ctx, "first", lease)
	require.NoError(t, err)
	assert.Empty(t, holder)

	holder, err = tr.Claim(ctx, "second", lease)
	require.NoError(t, err)
	assert.Equal(t, "first", holder)
	_, err = tr.Get(ctx, "second")
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound), "refused claims leave no record")

	clock.Advance(lease + time.Second)
	holder, err = tr.Claim(ctx, "third", lease)
	require.NoError(t, err)
	assert.Empty(t, holder, "a stale holder is superseded")

	require.NoError(t, tr.Complete(ctx, "third", StatusCompleted))
	holder, err = tr.Claim(ctx, "fourth", lease)
	require.NoError(t, err)
	assert.Empty(t, holder)

	id, err := tr.CurrentRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fourth", id)

	holder, err = tr.Claim(ctx, "fourth", lease)
	require.NoError(t, err)
	assert.Equal(t, "fourth", holder)
}
