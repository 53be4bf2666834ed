// Package commands implements the llmstxt command line.
package commands

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/llmstxt/internal/config"
	"git.home.luguber.info/inful/llmstxt/internal/daemon"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

// Global is shared by every command.
type Global struct {
	Logger *slog.Logger
	Out    io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve    ServeCmd    `cmd:"" help:"Run the exporter daemon with change listeners, scheduler and operator API"`
	Generate GenerateCmd `cmd:"" help:"Generate both files once and exit"`
	Warm     WarmCmd     `cmd:"" help:"Re-index every source document into the cache"`
	Status   StatusCmd   `cmd:"" help:"Show the current run, recent runs and output files"`
	Logs     LogsCmd     `cmd:"" help:"Print run log entries"`
	Cancel   CancelCmd   `cmd:"" help:"Request cancellation of a run"`
	Cleanup  CleanupCmd  `cmd:"" help:"Release stale locks and prune old log entries"`
	Init     InitCmd     `cmd:"" help:"Initialize a new configuration file"`
}

// logLevel is shared by the default handler so a configured level can be
// applied after the config file is read.
var logLevel = new(slog.LevelVar)

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	if c.Verbose {
		logLevel.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig reads the configuration file and applies its log level unless
// -v was given.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if !c.Verbose {
		var lvl slog.Level
		if lvl.UnmarshalText([]byte(cfg.Log.Level)) == nil {
			logLevel.Set(lvl)
		}
	}
	return cfg, nil
}

// open loads the configuration and opens the shared services.
func open(ctx context.Context, g *Global, root *CLI, opts ...daemon.Option) (*daemon.Services, error) {
	cfg, err := root.loadConfig()
	if err != nil {
		return nil, err
	}
	return daemon.Open(ctx, cfg, append([]daemon.Option{daemon.WithLogger(g.logger())}, opts...)...)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func (g *Global) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

func (g *Global) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// closeServices waits briefly for background runs and closes the database.
func closeServices(s *daemon.Services) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		s.Logger.Warn("Failed to close database", logfields.Error(err))
	}
}
