package commands

import "fmt"

// WarmCmd implements the 'warm' command.
type WarmCmd struct {
	Force bool `help:"Re-index documents whose fingerprint is unchanged"`
}

func (c *WarmCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc, err := open(ctx, g, root)
	if err != nil {
		return err
	}
	defer closeServices(svc)

	st, err := svc.Warm(ctx, c.Force)
	if err != nil {
		return err
	}
	n, err := svc.Store.Count(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.out(), "Indexed %d, skipped %d, removed %d, failed %d; %d documents cached\n",
		st.Indexed, st.Skipped, st.Removed, st.Failed, n)
	return nil
}
