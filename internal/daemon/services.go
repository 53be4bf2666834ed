package daemon

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/llmstxt/internal/cache"
	"git.home.luguber.info/inful/llmstxt/internal/config"
	"git.home.luguber.info/inful/llmstxt/internal/database"
	"git.home.luguber.info/inful/llmstxt/internal/docsource"
	"git.home.luguber.info/inful/llmstxt/internal/document"
	"git.home.luguber.info/inful/llmstxt/internal/filecache"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/generator"
	"git.home.luguber.info/inful/llmstxt/internal/indexer"
	"git.home.luguber.info/inful/llmstxt/internal/lock"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
	"git.home.luguber.info/inful/llmstxt/internal/metrics"
	"git.home.luguber.info/inful/llmstxt/internal/progress"
	"git.home.luguber.info/inful/llmstxt/internal/runner"
	"git.home.luguber.info/inful/llmstxt/internal/version"
	"git.home.luguber.info/inful/llmstxt/internal/visibility"
)

// Services are the stores and pipeline shared by the daemon and the
// one-shot CLI commands.
type Services struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Store     *cache.Store
	Tracker   *progress.Tracker
	Lock      *lock.Lock
	Source    document.Source
	Markdown  *docsource.Markdown // nil when Source was injected
	Indexer   *indexer.Indexer
	Generator *generator.Generator
	Runner    *runner.Runner
	Files     *filecache.Cache
	Registry  *prom.Registry
	Recorder  metrics.Recorder
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	logger   *slog.Logger
	source   document.Source
	ids      func() string
	skipLoad bool
}

// WithLogger sets the base logger. Records that carry a run id are also
// written to the run log table.
func WithLogger(l *slog.Logger) Option { return func(o *openOptions) { o.logger = l } }

// WithSource replaces the Markdown content source.
func WithSource(src document.Source) Option { return func(o *openOptions) { o.source = src } }

// WithoutSourceLoad skips reading the content directory, for commands that
// only inspect stored state.
func WithoutSourceLoad() Option { return func(o *openOptions) { o.skipLoad = true } }

// WithRunIDs replaces the run id generator.
func WithRunIDs(next func() string) Option { return func(o *openOptions) { o.ids = next } }

// Open opens the database, ensures every table exists and builds the
// generation pipeline. The Markdown source is loaded from disk.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Services, error) {
	o := openOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := database.Open(cfg.Storage.Path, database.WithMkdirAll())
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStorage, "failed to open database").
			WithContext("path", cfg.Storage.Path).Build()
	}
	s := &Services{Config: cfg, DB: db, Files: filecache.New()}

	s.Tracker = progress.NewTracker(db)
	if err := s.Tracker.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.Logger = slog.New(progress.NewLogHandler(o.logger.Handler(), s.Tracker, slog.LevelInfo))

	s.Registry = metrics.NewRegistry(version.Get())
	s.Recorder = metrics.NewPrometheusRecorder(s.Registry)

	s.Store = cache.New(db, cache.WithLogger(s.Logger))
	if err := s.Store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.Lock = lock.New(db, lock.WithTimeout(cfg.Generation.LockTimeout), lock.WithLogger(s.Logger))

	s.Source = o.source
	if s.Source == nil {
		s.Markdown = docsource.NewMarkdown(cfg.Source.ContentDir, cfg.Source.BaseURL, docsource.WithLogger(s.Logger))
		s.Source = s.Markdown
		if !o.skipLoad {
			start := time.Now()
			n, err := s.Markdown.Load(ctx)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			s.Logger.Info("Loaded content source", logfields.Path(s.Markdown.Root()), logfields.Total(n),
				logfields.DurationMS(float64(time.Since(start).Milliseconds())))
		}
	}

	resolver := visibility.NewResolver(visibility.DefaultProviders(), visibility.WithLogger(s.Logger))
	s.Indexer = indexer.New(cfg.Export, s.Store, s.Source,
		indexer.WithResolver(resolver),
		indexer.WithRecorder(s.Recorder),
		indexer.WithLogger(s.Logger),
		indexer.WithBatchSize(cfg.Generation.BatchSize),
	)
	s.Generator = generator.New(cfg, s.Store, s.Tracker, s.Lock, s.Indexer,
		generator.WithRecorder(s.Recorder),
		generator.WithLogger(s.Logger),
	)

	ropts := []runner.Option{runner.WithRecorder(s.Recorder), runner.WithLogger(s.Logger)}
	if o.ids != nil {
		ropts = append(ropts, runner.WithIDs(o.ids))
	}
	s.Runner = runner.New(s.Generator, s.Tracker, s.Lock, ropts...)
	return s, nil
}

// Warm re-indexes every document of the source into the cache table.
func (s *Services) Warm(ctx context.Context, force bool) (indexer.Stats, error) {
	start := time.Now()
	st, err := s.Indexer.Rebuild(ctx, force)
	if err != nil {
		return st, err
	}
	s.Logger.Info("Cache warmed",
		slog.Int("indexed", st.Indexed),
		slog.Int("skipped", st.Skipped),
		slog.Int("removed", st.Removed),
		slog.Int("failed", st.Failed),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return st, nil
}

// OutputFiles returns the paths of both generated files.
func (s *Services) OutputFiles() []string {
	return []string{s.Generator.StandardPath(), s.Generator.FullPath()}
}

// StatusReport summarizes the exporter state.
type StatusReport struct {
	CurrentRun      *progress.View   `json:"current_run,omitempty"`
	RecentRuns      []progress.View  `json:"recent_runs"`
	CachedDocuments int              `json:"cached_documents"`
	Files           []filecache.Info `json:"files"`
}

// Status reads the current state from the database and the output files.
func (s *Services) Status(ctx context.Context, recent int) (*StatusReport, error) {
	rep := &StatusReport{RecentRuns: []progress.View{}}
	current, err := s.Tracker.CurrentRun(ctx)
	if err != nil {
		return nil, err
	}
	if current != "" {
		view, err := s.Tracker.View(ctx, current)
		if err != nil && !errors.HasCategory(err, errors.CategoryNotFound) {
			return nil, err
		}
		rep.CurrentRun = view
	}

	runs, err := s.Tracker.Runs(ctx, recent)
	if err != nil {
		return nil, err
	}
	now := s.Tracker.Now()
	for i := range runs {
		rep.RecentRuns = append(rep.RecentRuns, progress.NewView(&runs[i], now))
	}

	if rep.CachedDocuments, err = s.Store.Count(ctx); err != nil {
		return nil, err
	}
	for _, p := range s.OutputFiles() {
		info, err := s.Files.Stat(p)
		if err != nil {
			return nil, err
		}
		rep.Files = append(rep.Files, info)
	}
	return rep, nil
}

// Close waits for background runs and closes the database.
func (s *Services) Close(ctx context.Context) error {
	if err := s.Runner.Shutdown(ctx); err != nil {
		s.Logger.Warn("Background run did not stop in time", logfields.Error(err))
	}
	return s.DB.Close()
}
