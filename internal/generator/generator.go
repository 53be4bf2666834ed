// Package generator writes llms.txt and llms-full.txt from the cache table.
//
// A run moves through these steps:
//
//  1. look up the run record (absent runs fail fast)
//  2. take the generation lock unless the caller already holds it
//  3. mark the run running
//  4. heal or rebuild the cache when a table is missing or it is empty,
//     refreshing the lease before every source page
//  5. compute total_items and write the standard file
//  6. write the full file (overview pass, then detailed pass)
//  7. mark the run completed, release the lock, clear the current-run pointer
//
// Before writing and at every batch boundary the run refreshes its lease and
// stops if it was cancelled or another run took over the current-run
// pointer. Any failure or panic in steps 3 to 6 ends the run as error; the
// lock is released and the pointer cleared in every case.
package generator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/cache"
	"git.home.luguber.info/inful/llmstxt/internal/config"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/indexer"
	"git.home.luguber.info/inful/llmstxt/internal/lock"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
	"git.home.luguber.info/inful/llmstxt/internal/metrics"
	"git.home.luguber.info/inful/llmstxt/internal/progress"
)

var (
	// ErrLockHeld reports that another caller owns the run's lock. It is a
	// retry-later signal, not a failure.
	ErrLockHeld = stderrors.New("generation lock held by another caller")
	// ErrCancelled reports that the run stopped at a batch boundary after a
	// cancel request.
	ErrCancelled = stderrors.New("generation run cancelled")
	// ErrLeaseLost reports that another run took over generation while this
	// one was still working. It matches ErrLockHeld.
	ErrLeaseLost = fmt.Errorf("generation lease lost: %w", ErrLockHeld)
)

// Generator drives generation runs.
type Generator struct {
	cfg      *config.Config
	store    *cache.Store
	tracker  *progress.Tracker
	lock     *lock.Lock
	indexer  *indexer.Indexer
	recorder metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
	memory   func() uint64
}

// Option configures a Generator.
type Option func(*Generator)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(g *Generator) { g.recorder = r } }

// WithLogger sets the generator logger.
func WithLogger(l *slog.Logger) Option { return func(g *Generator) { g.logger = l } }

// WithClock overrides the clock used for file headers and durations.
func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

// WithMemoryReader replaces the heap sampler used by the batch throttle.
func WithMemoryReader(read func() uint64) Option { return func(g *Generator) { g.memory = read } }

// New returns a Generator. The indexer rebuilds the cache when it is empty.
func New(cfg *config.Config, store *cache.Store, tracker *progress.Tracker, lk *lock.Lock, ix *indexer.Indexer, opts ...Option) *Generator {
	g := &Generator{
		cfg:      cfg,
		store:    store,
		tracker:  tracker,
		lock:     lk,
		indexer:  ix,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// StandardPath returns the location of llms.txt.
func (g *Generator) StandardPath() string {
	return filepath.Join(g.cfg.Output.Directory, g.cfg.Output.StandardFile)
}

// FullPath returns the location of llms-full.txt.
func (g *Generator) FullPath() string {
	return filepath.Join(g.cfg.Output.Directory, g.cfg.Output.FullFile)
}

type runOptions struct {
	heldLock bool
}

// RunOption configures a single Run.
type RunOption func(*runOptions)

// WithHeldLock tells Run that the caller already acquired the lock for the
// run, as the trigger does before handing the run to a background worker.
func WithHeldLock() RunOption { return func(o *runOptions) { o.heldLock = true } }

// job is the state of one run.
type job struct {
	runID    string
	logger   *slog.Logger
	item     int
	throttle *throttle
}

// Run executes generation run runID.
func (g *Generator) Run(ctx context.Context, runID string, opts ...RunOption) (err error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := g.logger.With(logfields.RunID(runID))

	if _, err := g.tracker.Get(ctx, runID); err != nil {
		logger.ErrorContext(ctx, "Generation run not found", logfields.Error(err))
		return err
	}
	if !o.heldLock {
		ok, err := g.lock.Acquire(ctx, runID)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to acquire generation lock", logfields.Error(err))
			return err
		}
		if !ok {
			logger.InfoContext(ctx, "Generation lock held elsewhere; leaving run to its owner")
			g.recorder.IncRunOutcome(metrics.OutcomeContended)
			return ErrLockHeld
		}
	}

	limit, _ := g.cfg.Generation.MemoryLimitBytes()
	j := &job{
		runID:    runID,
		logger:   logger,
		throttle: newThrottle(g.cfg.Generation.BatchSize, g.cfg.Generation.MinBatchSize, limit, g.memory),
	}

	started := g.now()
	final := progress.StatusError
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.InternalError(fmt.Sprintf("generation panicked: %v", rec)).
				WithContext("run_id", runID).Build()
			final = progress.StatusError
		}
		g.finish(ctx, j, final, err, started)
	}()

	final, err = g.generate(ctx, j)
	return err
}

func (g *Generator) generate(ctx context.Context, j *job) (progress.Status, error) {
	if cancelled, err := g.tracker.IsCancelled(ctx, j.runID); err == nil && cancelled {
		return progress.StatusCancelled, ErrCancelled
	}
	if err := g.tracker.Start(ctx, j.runID, 0); err != nil {
		return progress.StatusError, err
	}
	j.logger.InfoContext(ctx, "Generation started")

	if err := g.ensureCache(ctx, j); err != nil {
		return statusFor(err), err
	}
	if err := g.hold(ctx, j); err != nil {
		return statusFor(err), err
	}
	total, err := g.TotalItems(ctx)
	if err != nil {
		return progress.StatusError, err
	}
	if err := g.tracker.SetTotal(ctx, j.runID, total); err != nil {
		return progress.StatusError, err
	}
	j.logger.InfoContext(ctx, "Generation scope computed", logfields.Total(total))

	if err := g.writeStandard(ctx, j); err != nil {
		return statusFor(err), err
	}
	if err := g.checkpoint(ctx, j); err != nil {
		return statusFor(err), err
	}
	if err := g.writeFull(ctx, j); err != nil {
		return statusFor(err), err
	}
	return progress.StatusCompleted, nil
}

// finish stamps the terminal state, releases the lock and clears the pointer.
// It runs on a context detached from cancellation so cleanup always lands.
func (g *Generator) finish(ctx context.Context, j *job, final progress.Status, runErr error, started time.Time) {
	ctx = context.WithoutCancel(ctx)
	logger := j.logger

	switch {
	case final == progress.StatusCancelled:
		logger.InfoContext(ctx, "Generation cancelled", slog.Int("items", j.item))
	case runErr != nil:
		logger.ErrorContext(ctx, "Generation failed", logfields.Error(runErr))
	default:
		logger.InfoContext(ctx, "Generation completed",
			slog.Int("items", j.item), logfields.DurationMS(float64(g.now().Sub(started).Milliseconds())))
	}

	if err := g.tracker.ObserveMemory(ctx, j.runID, j.throttle.Peak()); err != nil {
		logger.WarnContext(ctx, "Failed to record memory peak", logfields.Error(err))
	}
	if err := g.lock.Release(ctx, j.runID, final); err != nil {
		logger.ErrorContext(ctx, "Failed to release generation lock", logfields.Error(err))
	}
	if err := g.tracker.Complete(ctx, j.runID, final); err != nil {
		logger.ErrorContext(ctx, "Failed to complete run record", logfields.Error(err))
	}
	if err := g.tracker.ClearCurrentRun(ctx, j.runID); err != nil {
		logger.WarnContext(ctx, "Failed to clear current run", logfields.Error(err))
	}

	g.recorder.ObserveRunDuration(g.now().Sub(started))
	g.recorder.SetMemoryPeak(j.throttle.Peak())
	g.recorder.IncRunOutcome(outcomeFor(final))
}

// ensureCache recreates missing tables and rebuilds an empty cache from the
// document store.
func (g *Generator) ensureCache(ctx context.Context, j *job) error {
	exists, err := g.store.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		j.logger.WarnContext(ctx, "Cache tables missing; recreating")
		if err := g.store.EnsureSchema(ctx); err != nil {
			return err
		}
		j.logger.InfoContext(ctx, "Cache tables recreated")
	}

	n, err := g.store.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if g.indexer == nil {
		j.logger.WarnContext(ctx, "Cache is empty and no document source is configured")
		return nil
	}
	j.logger.InfoContext(ctx, "Cache is empty; rebuilding from the document store")
	st, err := g.indexer.Rebuild(ctx, true, indexer.WithPageHook(func(ctx context.Context) error {
		return g.hold(ctx, j)
	}))
	if err != nil {
		return err
	}
	j.logger.InfoContext(ctx, "Cache rebuilt before generation", slog.Int("indexed", st.Indexed), slog.Int("failed", st.Failed))
	return nil
}

// TotalItems returns 2 x the sum over configured types of visible cached
// rows, each type capped at max_items_per_type. Both files walk the same
// rows, hence the factor.
func (g *Generator) TotalItems(ctx context.Context) (int, error) {
	total := 0
	for _, docType := range g.cfg.Export.DocumentTypes {
		n, err := g.store.CountByType(ctx, docType, true)
		if err != nil {
			return 0, err
		}
		total += g.capped(n)
	}
	return 2 * total, nil
}

func (g *Generator) capped(n int) int {
	if limit := g.cfg.Export.MaxItemsPerType; limit > 0 && n > limit {
		return limit
	}
	return n
}

// hold refreshes the run's lease and confirms the run still owns
// generation: not cancelled, not finished by someone else and still named by
// the current-run pointer. Storage errors are logged and do not stop the run.
func (g *Generator) hold(ctx context.Context, j *job) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}
	status, err := g.tracker.Heartbeat(ctx, j.runID)
	if err != nil {
		j.logger.WarnContext(ctx, "Failed to refresh run lease", logfields.Error(err))
		return nil
	}
	switch {
	case status == progress.StatusCancelled:
		return ErrCancelled
	case status.Terminal():
		j.logger.WarnContext(ctx, "Run finished elsewhere; stopping", logfields.RunStatus(string(status)))
		return ErrLeaseLost
	}
	current, err := g.tracker.CurrentRun(ctx)
	if err != nil {
		j.logger.WarnContext(ctx, "Failed to read current run", logfields.Error(err))
		return nil
	}
	if current != "" && current != j.runID {
		j.logger.WarnContext(ctx, "Generation taken over by another run; stopping", slog.String("holder", current))
		return ErrLeaseLost
	}
	return nil
}

// checkpoint is the batch boundary: it holds the lease and adapts the batch
// size.
func (g *Generator) checkpoint(ctx context.Context, j *job) error {
	if err := g.hold(ctx, j); err != nil {
		return err
	}

	used, shrunk := j.throttle.Check()
	if shrunk {
		j.logger.WarnContext(ctx, "Memory pressure; reducing batch size",
			logfields.Memory(used), logfields.BatchSize(j.throttle.Size()))
	}
	g.recorder.SetBatchSize(j.throttle.Size())
	if err := g.tracker.ObserveMemory(ctx, j.runID, used); err != nil {
		j.logger.WarnContext(ctx, "Failed to record memory usage", logfields.Error(err))
	}
	return nil
}

// advance moves the progress counter past a batch of rows.
func (g *Generator) advance(ctx context.Context, j *job, rows []cache.Row) {
	if len(rows) == 0 {
		return
	}
	j.item += len(rows)
	last := rows[len(rows)-1]
	if err := g.tracker.Advance(ctx, j.runID, j.item, last.DocumentID, last.Title); err != nil {
		j.logger.WarnContext(ctx, "Failed to record progress", logfields.Error(err))
	}
}

func statusFor(err error) progress.Status {
	if stderrors.Is(err, ErrCancelled) {
		return progress.StatusCancelled
	}
	return progress.StatusError
}

func outcomeFor(s progress.Status) metrics.Outcome {
	switch s {
	case progress.StatusCompleted:
		return metrics.OutcomeCompleted
	case progress.StatusCancelled:
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeFailed
	}
}
