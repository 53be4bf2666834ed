package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/llmstxt/internal/daemon"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	JSON bool `name:"json" help:"Print the report as JSON"`
	Runs int  `help:"Number of recent runs to list" default:"5"`
}

func (c *StatusCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc, err := open(ctx, g, root, daemon.WithoutSourceLoad())
	if err != nil {
		return err
	}
	defer closeServices(svc)

	rep, err := svc.Status(ctx, c.Runs)
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(g.out())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printStatus(g.out(), rep, svc.Tracker.Now())
	return nil
}

func printStatus(w io.Writer, rep *daemon.StatusReport, now time.Time) {
	if rep.CurrentRun != nil {
		_, _ = fmt.Fprint(w, "Current run: ")
		printRun(w, rep.CurrentRun)
		if rep.CurrentRun.CurrentPostTitle != "" {
			_, _ = fmt.Fprintf(w, "  processing %q\n", rep.CurrentRun.CurrentPostTitle)
		}
	} else {
		_, _ = fmt.Fprintln(w, "Current run: none")
	}

	_, _ = fmt.Fprintf(w, "Cached documents: %s\n", humanize.Comma(int64(rep.CachedDocuments)))

	_, _ = fmt.Fprintln(w, "Recent runs:")
	if len(rep.RecentRuns) == 0 {
		_, _ = fmt.Fprintln(w, "  none")
	}
	for _, v := range rep.RecentRuns {
		_, _ = fmt.Fprintf(w, "  %-36s %-10s %d/%d", v.RunID, v.Status, v.CurrentItem, v.TotalItems)
		if v.StartedAt != nil {
			_, _ = fmt.Fprintf(w, "  started %s", humanize.RelTime(time.Unix(*v.StartedAt, 0), now, "ago", "from now"))
		}
		_, _ = fmt.Fprintln(w)
	}

	_, _ = fmt.Fprintln(w, "Files:")
	for _, f := range rep.Files {
		if !f.Exists {
			_, _ = fmt.Fprintf(w, "  %-14s missing\n", f.Name)
			continue
		}
		_, _ = fmt.Fprintf(w, "  %-14s %s, %s lines, modified %s\n", f.Name, f.SizeFormatted,
			humanize.Comma(int64(f.Lines)), humanize.RelTime(f.ModTime, now, "ago", "from now"))
	}
}
