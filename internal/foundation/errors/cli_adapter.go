package errors

import (
	"context"
	"fmt"
	"log/slog"
)

// CLIErrorAdapter reports command errors on the terminal and picks the
// process exit code.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter returns an adapter logging to logger, or to the default
// logger when nil. Verbose output includes causes and non-fatal errors.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger}
}

// ExitCodeFor returns 0 for nil, 1 for unclassified errors and the category
// exit code otherwise.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if c, ok := AsClassified(err); ok {
		return c.ExitCode()
	}
	return unclassified.exitCode
}

// FormatError renders err for stderr.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	c, ok := AsClassified(err)
	switch {
	case !ok:
		return fmt.Sprintf("Error: %v", err)
	case a.verbose:
		return c.Error()
	case c.category == CategoryInternal:
		return "Error: " + c.message + " (use -v for details)"
	default:
		return "Error: " + c.message
	}
}

// Log writes err to the logger. Non-fatal classified errors are only logged
// in verbose mode.
func (a *CLIErrorAdapter) Log(err error) {
	c, ok := AsClassified(err)
	if !ok {
		a.logger.Error("Unclassified error", slog.String("error", err.Error()))
		return
	}
	if !a.verbose && c.severity != SeverityFatal {
		return
	}
	attrs := make([]slog.Attr, 0, 3+len(c.context))
	attrs = append(attrs, slog.String("category", string(c.category)))
	if c.CanRetry() {
		attrs = append(attrs, slog.Bool("retryable", true))
	}
	if c.cause != nil {
		attrs = append(attrs, slog.String("cause", c.cause.Error()))
	}
	for k, v := range c.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	a.logger.LogAttrs(context.Background(), c.severity.level(), c.message, attrs...)
}

func (s ErrorSeverity) level() slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
