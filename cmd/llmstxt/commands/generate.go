package commands

import (
	stderrors "errors"
	"fmt"
	"io"

	"git.home.luguber.info/inful/llmstxt/internal/daemon"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/progress"
	"git.home.luguber.info/inful/llmstxt/internal/runner"
)

// GenerateCmd implements the 'generate' command.
type GenerateCmd struct {
	Warm bool `help:"Re-index the cache from the source before generating"`
}

func (c *GenerateCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc, err := open(ctx, g, root)
	if err != nil {
		return err
	}
	defer closeServices(svc)

	if c.Warm {
		if _, err := svc.Warm(ctx, false); err != nil {
			return err
		}
	}

	runID, err := svc.Runner.RunNow(ctx, runner.SourceCLI)
	if stderrors.Is(err, runner.ErrBusy) {
		return errors.ContentionError("a generation run is already in progress").
			WithContext("run_id", runID).Build()
	}
	if err != nil {
		return err
	}

	view, err := svc.Tracker.View(ctx, runID)
	if err != nil {
		return err
	}
	printRun(g.out(), view)
	printFiles(g.out(), svc)
	if view.Status != progress.StatusCompleted {
		return errors.GenerationError("generation run did not complete").
			WithContext("run_id", runID).WithContext("status", string(view.Status)).Build()
	}
	return nil
}

func printRun(w io.Writer, v *progress.View) {
	_, _ = fmt.Fprintf(w, "Run %s %s: %d/%d items (%.0f%%) in %.1fs, peak memory %s\n",
		v.RunID, v.Status, v.CurrentItem, v.TotalItems, v.Percentage, v.ElapsedTime, v.MemoryPeakFormatted)
	if v.Errors > 0 || v.Warnings > 0 {
		_, _ = fmt.Fprintf(w, "  %d errors, %d warnings\n", v.Errors, v.Warnings)
	}
}

func printFiles(w io.Writer, svc *daemon.Services) {
	for _, p := range svc.OutputFiles() {
		info, err := svc.Files.Stat(p)
		switch {
		case err != nil:
			_, _ = fmt.Fprintf(w, "  %s: %v\n", p, err)
		case !info.Exists:
			_, _ = fmt.Fprintf(w, "  %s: missing\n", info.Path)
		default:
			_, _ = fmt.Fprintf(w, "  %s: %s, %d lines\n", info.Path, info.SizeFormatted, info.Lines)
		}
	}
}
