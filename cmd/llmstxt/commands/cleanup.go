package commands

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/daemon"
)

// CleanupCmd implements the 'cleanup' command.
type CleanupCmd struct {
	Retention  time.Duration `help:"Delete log entries older than this; defaults to generation.log_retention"`
	ClearCache bool          `name:"clear-cache" help:"Also empty the document cache"`
}

func (c *CleanupCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc, err := open(ctx, g, root, daemon.WithoutSourceLoad())
	if err != nil {
		return err
	}
	defer closeServices(svc)

	w := g.out()
	swept, err := svc.Lock.CleanupStale(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Released %d stale runs\n", swept)

	retention := c.Retention
	if retention <= 0 {
		retention = svc.Config.Generation.LogRetention
	}
	pruned, err := svc.Tracker.PruneLogs(ctx, retention)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Deleted %d log entries older than %s\n", pruned, retention)

	if c.ClearCache {
		if err := svc.Store.Clear(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, "Cleared document cache")
	}
	return nil
}
