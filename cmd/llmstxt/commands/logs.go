package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/daemon"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/progress"
)

// LogsCmd implements the 'logs' command.
type LogsCmd struct {
	RunID    string        `name:"run" help:"Only entries of this run"`
	Level    string        `help:"Only entries of this level (debug, info, warning, error)"`
	SinceID  int64         `name:"since-id" help:"Only entries with a greater id"`
	Limit    int           `help:"Entries per page" default:"100"`
	Follow   bool          `short:"f" help:"Keep polling for new entries"`
	Interval time.Duration `help:"Poll interval with --follow" default:"1s"`
}

func (c *LogsCmd) Run(g *Global, root *CLI) error {
	q, err := c.query()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	svc, err := open(ctx, g, root, daemon.WithoutSourceLoad())
	if err != nil {
		return err
	}
	defer closeServices(svc)

	return tailLogs(ctx, svc.Tracker, q, c.Follow, c.Interval, g.out())
}

func (c *LogsCmd) query() (progress.LogQuery, error) {
	q := progress.LogQuery{AfterID: c.SinceID, RunID: c.RunID, Limit: c.Limit}
	if c.Level != "" && !strings.EqualFold(c.Level, "all") {
		lvl, ok := progress.ParseLevel(c.Level)
		if !ok {
			return q, errors.ValidationError("unknown log level").WithContext("level", c.Level).Build()
		}
		q.Level = lvl
	}
	if c.Limit <= 0 {
		return q, errors.ValidationError("limit must be positive").WithContext("limit", c.Limit).Build()
	}
	return q, nil
}

// tailLogs prints every page after q.AfterID. With follow it keeps polling
// until ctx is done.
func tailLogs(ctx context.Context, t *progress.Tracker, q progress.LogQuery, follow bool, every time.Duration, w io.Writer) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		page, err := t.Logs(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, e := range page.Logs {
			printLogEntry(w, e)
			q.AfterID = e.ID
		}
		if page.HasMore {
			continue
		}
		if !follow {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printLogEntry(w io.Writer, e progress.LogEntry) {
	var b strings.Builder
	fmt.Fprintf(&b, "%6d %s %-7s", e.ID, e.Timestamp.Format(time.RFC3339), e.Level)
	if e.RunID != "" {
		fmt.Fprintf(&b, " [%s]", e.RunID)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	if e.DocumentID != 0 {
		fmt.Fprintf(&b, " document_id=%d", e.DocumentID)
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := json.Marshal(e.Context[k])
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	_, _ = fmt.Fprintln(w, b.String())
}
