// Package runner starts generation runs for every trigger: the API, the
// scheduler, the change debouncer and the CLI.
//
// A trigger claims the current-run pointer and takes the generation lock
// before it returns, so a caller that gets a run id knows that run owns the
// lock. The run itself continues in a background goroutine.
package runner

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/generator"
	"git.home.luguber.info/inful/llmstxt/internal/lock"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
	"git.home.luguber.info/inful/llmstxt/internal/metrics"
	"git.home.luguber.info/inful/llmstxt/internal/progress"
)

// Trigger sources.
const (
	SourceAPI      = "api"
	SourceSchedule = "schedule"
	SourceChange   = "change"
	SourceCLI      = "cli"
)

// ErrBusy reports that another run holds the current-run pointer or lock.
var ErrBusy = stderrors.New("a generation run is already in progress")

// Generator is the part of generator.Generator the runner drives.
type Generator interface {
	Run(ctx context.Context, runID string, opts ...generator.RunOption) error
}

// Runner owns background generation runs.
type Runner struct {
	gen      Generator
	tracker  *progress.Tracker
	lock     *lock.Lock
	recorder metrics.Recorder
	logger   *slog.Logger
	newID    func() string

	base    context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Int32
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(rn *Runner) { rn.recorder = r } }

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option { return func(rn *Runner) { rn.logger = l } }

// WithIDs replaces the run id generator.
func WithIDs(next func() string) Option { return func(rn *Runner) { rn.newID = next } }

// New returns a Runner.
func New(gen Generator, tracker *progress.Tracker, lk *lock.Lock, opts ...Option) *Runner {
	base, stop := context.WithCancel(context.Background())
	r := &Runner{
		gen:      gen,
		tracker:  tracker,
		lock:     lk,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		newID:    uuid.NewString,
		base:     base,
		stop:     stop,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Trigger starts a run in the background and returns its id. When another
// run is live it returns that run's id with ErrBusy.
func (r *Runner) Trigger(ctx context.Context, source string) (string, error) {
	runID, err := r.claim(ctx, source)
	if err != nil {
		return runID, err
	}

	r.running.Add(1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Add(-1)
		if err := r.gen.Run(r.base, runID, generator.WithHeldLock()); err != nil {
			r.logger.Debug("Background run ended with error", logfields.RunID(runID), logfields.Error(err))
		}
	}()
	return runID, nil
}

// RunNow claims, locks and runs in the calling goroutine.
func (r *Runner) RunNow(ctx context.Context, source string) (string, error) {
	runID, err := r.claim(ctx, source)
	if err != nil {
		return runID, err
	}
	r.running.Add(1)
	defer r.running.Add(-1)
	return runID, r.gen.Run(ctx, runID, generator.WithHeldLock())
}

// claim creates the run record, points the current-run pointer at it and
// takes its lock.
func (r *Runner) claim(ctx context.Context, source string) (string, error) {
	logger := r.logger.With(logfields.Trigger(source))
	runID := r.newID()

	holder, err := r.tracker.Claim(ctx, runID, r.lock.Timeout())
	if err != nil {
		return "", err
	}
	if holder != "" {
		logger.InfoContext(ctx, "Generation already in progress", logfields.RunID(holder))
		r.recorder.IncRunOutcome(metrics.OutcomeContended)
		return holder, ErrBusy
	}

	ok, err := r.lock.Acquire(ctx, runID)
	if err == nil && !ok {
		err = errors.ContentionError("generation lock held elsewhere").WithContext("run_id", runID).Build()
	}
	if err != nil {
		logger.WarnContext(ctx, "Failed to take generation lock", logfields.RunID(runID), logfields.Error(err))
		detached := context.WithoutCancel(ctx)
		_ = r.tracker.Complete(detached, runID, progress.StatusError)
		_ = r.tracker.ClearCurrentRun(detached, runID)
		if errors.HasCategory(err, errors.CategoryContention) {
			r.recorder.IncRunOutcome(metrics.OutcomeContended)
			return "", ErrBusy
		}
		return "", err
	}

	r.recorder.IncTrigger(source)
	logger.InfoContext(ctx, "Generation run started", logfields.RunID(runID))
	return runID, nil
}

// Running reports whether a run started by this Runner is in flight.
func (r *Runner) Running() bool { return r.running.Load() > 0 }

// Wait blocks until every background run has finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Shutdown cancels background runs at their next batch boundary and waits
// for them, or for ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
