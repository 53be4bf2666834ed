package commands

import (
	"context"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/daemon"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Addr string `help:"Override the operator API listen address"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.Server.Addr = s.Addr
	}
	svc, err := daemon.Open(ctx, cfg, daemon.WithLogger(g.logger()))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer closeCancel()
		if err := svc.Close(closeCtx); err != nil {
			svc.Logger.Error("Failed to close database", logfields.Error(err))
		}
	}()

	d, err := daemon.New(ctx, svc)
	if err != nil {
		return err
	}
	svc.Logger.Info("Starting daemon, waiting for shutdown signal...")
	if err := d.Run(ctx); err != nil {
		return err
	}
	svc.Logger.Info("Daemon stopped successfully")
	return nil
}
