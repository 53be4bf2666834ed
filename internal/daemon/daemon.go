// Package daemon wires the exporter into a long-running service: change
// sources feed the cache, a debouncer and the scheduler trigger generation
// runs, and the operator API exposes progress.
package daemon

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/llmstxt/internal/api"
	"git.home.luguber.info/inful/llmstxt/internal/docsource"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/listener"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
	"git.home.luguber.info/inful/llmstxt/internal/runner"
	"git.home.luguber.info/inful/llmstxt/internal/scheduler"
	"git.home.luguber.info/inful/llmstxt/internal/version"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// shutdownTimeout bounds how long Run waits for components to stop.
const shutdownTimeout = 30 * time.Second

// Daemon represents the main daemon service
type Daemon struct {
	*Services

	status    atomic.Value // Status
	startTime time.Time

	changes   *listener.Cache
	debouncer *listener.Debouncer
	nats      *listener.NATSSubscriber
	watcher   *docsource.Watcher
	scheduler *scheduler.Scheduler
	api       *api.Server
}

// New builds a daemon over services.
func New(ctx context.Context, s *Services) (*Daemon, error) {
	cfg := s.Config
	d := &Daemon{Services: s}
	d.status.Store(StatusStopped)

	deb, err := listener.NewDebouncer(listener.DebouncerConfig{
		QuietWindow: cfg.Generation.DebounceQuiet,
		MaxDelay:    cfg.Generation.DebounceMax,
		IsRunning:   s.Runner.Running,
	}, d.regenerate)
	if err != nil {
		return nil, err
	}
	d.debouncer = deb
	d.changes = listener.NewCache(s.Indexer, cfg.Export.UpdateMode,
		listener.WithRequester(deb),
		listener.WithLogger(s.Logger),
	)

	if cfg.NATS.Enabled() {
		d.nats = listener.NewNATSSubscriber(cfg.NATS, d.changes, s.Source, s.Logger)
	}
	if cfg.Source.Watch && s.Markdown != nil {
		if d.watcher, err = docsource.NewWatcher(s.Markdown, d.changes, s.Logger); err != nil {
			return nil, err
		}
	}

	if d.scheduler, err = scheduler.New(ctx, scheduler.WithLogger(s.Logger)); err != nil {
		return nil, err
	}
	if err := d.scheduler.Register(cfg, s.Runner, s.Lock, s.Tracker); err != nil {
		return nil, err
	}

	if cfg.Server.Token == "" {
		s.Logger.Warn("Operator API token is empty; the API accepts unauthenticated requests")
	}
	d.api = api.NewServer(cfg.Server.Addr, api.Deps{
		Tracker:      s.Tracker,
		Runner:       s.Runner,
		Files:        s.Files,
		OutputFiles:  s.OutputFiles(),
		Registry:     s.Registry,
		Token:        cfg.Server.Token,
		LogRetention: cfg.Generation.LogRetention,
		Logger:       s.Logger,
	})
	return d, nil
}

// Listener returns the change listener feeding the cache.
func (d *Daemon) Listener() listener.ChangeListener { return d.changes }

// GetStatus returns the current daemon status
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// Run starts every component and blocks until ctx is done or one of them
// fails. Components are stopped before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.status.CompareAndSwap(StatusStopped, StatusStarting) {
		return errors.DaemonError("daemon is not in stopped state").WithContext("status", string(d.GetStatus())).Build()
	}
	d.startTime = time.Now()
	log := d.Logger
	log.Info("Starting llmstxt daemon",
		slog.String("version", version.Get().String()),
		slog.String("update_mode", string(d.Config.Export.UpdateMode)),
		slog.String("addr", d.Config.Server.Addr))

	if _, err := d.Warm(ctx, false); err != nil {
		d.status.Store(StatusError)
		return err
	}
	if swept, err := d.Lock.CleanupStale(ctx); err != nil {
		log.Warn("Initial stale run sweep failed", logfields.Error(err))
	} else if swept > 0 {
		log.Warn("Cancelled stale generation runs", slog.Int64("runs", swept))
	}

	if d.nats != nil {
		if err := d.nats.Start(ctx); err != nil {
			d.status.Store(StatusError)
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.debouncer.Run(gctx) })
	if d.watcher != nil {
		g.Go(func() error { return d.watcher.Run(gctx) })
	}
	d.scheduler.Start()
	g.Go(func() error {
		err := d.api.Start()
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WrapError(err, errors.CategoryDaemon, "API server failed").WithContext("addr", d.Config.Server.Addr).Build()
	})
	g.Go(func() error {
		<-gctx.Done()
		d.stop()
		return nil
	})

	d.status.Store(StatusRunning)
	log.Info("llmstxt daemon started")
	err := g.Wait()
	d.status.Store(StatusStopped)
	log.Info("llmstxt daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return err
}

// stop shuts components down in reverse start order.
func (d *Daemon) stop() {
	d.status.Store(StatusStopping)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := d.api.Shutdown(ctx); err != nil {
		d.Logger.Error("Failed to stop API server", logfields.Error(err))
	}
	if err := d.scheduler.Stop(); err != nil {
		d.Logger.Error("Failed to stop scheduler", logfields.Error(err))
	}
	if d.nats != nil {
		if err := d.nats.Close(); err != nil {
			d.Logger.Error("Failed to close NATS subscription", logfields.Error(err))
		}
	}
	if err := d.Runner.Shutdown(ctx); err != nil {
		d.Logger.Error("Generation run did not stop in time", logfields.Error(err))
	}
}

// regenerate is the debouncer's fire callback.
func (d *Daemon) regenerate(ctx context.Context, b listener.Burst) {
	runID, err := d.Runner.Trigger(ctx, runner.SourceChange)
	switch {
	case stderrors.Is(err, runner.ErrBusy):
		d.Logger.Info("Change-driven regeneration skipped; run in progress",
			logfields.RunID(runID), slog.Int("changes", b.Count))
	case err != nil:
		d.Logger.Error("Change-driven regeneration failed to start", logfields.Error(err))
	default:
		d.Logger.Info("Change-driven regeneration started",
			logfields.RunID(runID),
			slog.Int("changes", b.Count),
			slog.String("cause", b.Cause),
			slog.String("last_change", b.LastReason))
	}
}
