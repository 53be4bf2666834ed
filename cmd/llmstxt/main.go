package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/llmstxt/cmd/llmstxt/commands"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("llmstxt"),
		kong.Description("Exports published documents as llms.txt and llms-full.txt."),
		kong.UsageOnError(),
		kong.Vars{"version": version.Get().String()},
	)

	err := parser.Run(&commands.Global{Logger: slog.Default(), Out: os.Stdout})
	if err == nil {
		return
	}
	adapter := errors.NewCLIErrorAdapter(cli.Verbose, slog.Default())
	adapter.Log(err)
	_, _ = os.Stderr.WriteString(adapter.FormatError(err) + "\n")
	os.Exit(adapter.ExitCodeFor(err))
}
