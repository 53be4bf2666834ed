// Package scheduler runs the periodic jobs of the daemon on gocron:
// scheduled regeneration in daily and weekly update modes, the stale-run
// sweep and log pruning.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/llmstxt/internal/config"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

// Job names.
const (
	JobRegenerate = "regenerate"
	JobSweep      = "stale-sweep"
	JobPruneLogs  = "prune-logs"
)

// pruneInterval is how often old log entries are deleted.
const pruneInterval = time.Hour

// sourceSchedule labels runs started by this package.
const sourceSchedule = "schedule"

// Triggerer starts a generation run. *runner.Runner implements it.
type Triggerer interface {
	Trigger(ctx context.Context, source string) (string, error)
}

// Sweeper cancels runs whose lease expired. *lock.Lock implements it.
type Sweeper interface {
	CleanupStale(ctx context.Context) (int64, error)
}

// Pruner deletes old log entries. *progress.Tracker implements it.
type Pruner interface {
	PruneLogs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	ctx       context.Context
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	location *time.Location
	gocron   []gocron.SchedulerOption
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithLocation sets the time zone of daily and weekly jobs.
func WithLocation(loc *time.Location) Option { return func(o *options) { o.location = loc } }

// WithGocronOptions passes options to the underlying gocron scheduler.
func WithGocronOptions(opts ...gocron.SchedulerOption) Option {
	return func(o *options) { o.gocron = append(o.gocron, opts...) }
}

// New creates a stopped scheduler. Jobs run with ctx.
func New(ctx context.Context, opts ...Option) (*Scheduler, error) {
	o := options{logger: slog.Default(), location: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	gopts := append([]gocron.SchedulerOption{gocron.WithLocation(o.location)}, o.gocron...)
	s, err := gocron.NewScheduler(gopts...)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryDaemon, "failed to create scheduler").Build()
	}
	return &Scheduler{scheduler: s, logger: o.logger, ctx: ctx}, nil
}

// Register adds the jobs selected by cfg.
func (s *Scheduler) Register(cfg *config.Config, trig Triggerer, sweep Sweeper, prune Pruner) error {
	if def, ok, err := regenerationDefinition(cfg); err != nil {
		return err
	} else if ok {
		if _, err := s.add(JobRegenerate, def, func() { s.regenerate(trig) }); err != nil {
			return err
		}
	}
	if _, err := s.add(JobSweep, gocron.DurationJob(cfg.Schedule.SweepInterval), func() { s.sweep(sweep) }); err != nil {
		return err
	}
	retention := cfg.Generation.LogRetention
	_, err := s.add(JobPruneLogs, gocron.DurationJob(pruneInterval), func() { s.prune(prune, retention) })
	return err
}

// regenerationDefinition returns the wall-clock job of the update mode.
// Immediate mode has none: changes drive regeneration.
func regenerationDefinition(cfg *config.Config) (gocron.JobDefinition, bool, error) {
	if cfg.Export.UpdateMode == config.UpdateImmediate {
		return nil, false, nil
	}
	hour, minute, err := config.ParseClock(cfg.Schedule.At)
	if err != nil {
		return nil, false, err
	}
	at := gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))
	switch cfg.Export.UpdateMode {
	case config.UpdateDaily:
		return gocron.DailyJob(1, at), true, nil
	case config.UpdateWeekly:
		day, err := config.ParseWeekday(cfg.Schedule.Weekday)
		if err != nil {
			return nil, false, err
		}
		return gocron.WeeklyJob(1, gocron.NewWeekdays(day), at), true, nil
	default:
		return nil, false, errors.ValidationError("invalid update_mode").
			WithContext("update_mode", string(cfg.Export.UpdateMode)).Build()
	}
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, fn func()) (string, error) {
	job, err := s.scheduler.NewJob(def, gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryDaemon, "failed to schedule job").WithContext("job", name).Build()
	}
	s.logger.Info("Scheduled job", logfields.JobName(name))
	return job.ID().String(), nil
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop waits for running jobs and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// NextRun returns when the named job runs next.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	for _, j := range s.scheduler.Jobs() {
		if j.Name() != name {
			continue
		}
		next, err := j.NextRun()
		return next, err == nil
	}
	return time.Time{}, false
}

// JobNames lists the registered jobs.
func (s *Scheduler) JobNames() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) regenerate(trig Triggerer) {
	runID, err := trig.Trigger(s.ctx, sourceSchedule)
	if err != nil {
		s.logger.Info("Scheduled regeneration skipped", logfields.JobName(JobRegenerate), logfields.RunID(runID), logfields.Error(err))
		return
	}
	s.logger.Info("Scheduled regeneration started", logfields.JobName(JobRegenerate), logfields.RunID(runID))
}

func (s *Scheduler) sweep(sw Sweeper) {
	n, err := sw.CleanupStale(s.ctx)
	if err != nil {
		s.logger.Error("Stale run sweep failed", logfields.JobName(JobSweep), logfields.Error(err))
		return
	}
	if n > 0 {
		s.logger.Warn("Cancelled stale generation runs", logfields.JobName(JobSweep), slog.Int64("runs", n))
	}
}

func (s *Scheduler) prune(p Pruner, retention time.Duration) {
	n, err := p.PruneLogs(s.ctx, retention)
	if err != nil {
		s.logger.Error("Log pruning failed", logfields.JobName(JobPruneLogs), logfields.Error(err))
		return
	}
	s.logger.Debug("Pruned generation logs", logfields.JobName(JobPruneLogs), slog.Int64("deleted", n))
}
