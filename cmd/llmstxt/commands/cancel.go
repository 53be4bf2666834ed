package commands

import (
	"fmt"

	"git.home.luguber.info/inful/llmstxt/internal/daemon"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
)

// CancelCmd implements the 'cancel' command.
type CancelCmd struct {
	RunID string `arg:"" optional:"" name:"run-id" help:"Run to cancel; defaults to the current run"`
}

func (c *CancelCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc, err := open(ctx, g, root, daemon.WithoutSourceLoad())
	if err != nil {
		return err
	}
	defer closeServices(svc)

	runID := c.RunID
	if runID == "" {
		if runID, err = svc.Tracker.CurrentRun(ctx); err != nil {
			return err
		}
		if runID == "" {
			return errors.NotFoundError("no generation run is in progress").Build()
		}
	}
	ok, err := svc.Tracker.Cancel(ctx, runID)
	if err != nil {
		return err
	}
	if !ok {
		_, _ = fmt.Fprintf(g.out(), "Run %s is not running\n", runID)
		return nil
	}
	_, _ = fmt.Fprintf(g.out(), "Cancellation requested for run %s\n", runID)
	return nil
}
