package config

import (
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/foundation/normalization"
)

var updateModeNormalizer = normalization.NewNormalizer(map[string]UpdateMode{
	"immediate": UpdateImmediate,
	"daily":     UpdateDaily,
	"weekly":    UpdateWeekly,
}, UpdateImmediate)

var weekdayNormalizer = normalization.NewNormalizer(map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}, time.Monday)

// Log levels, spelled the way slog.Level parses them.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var logLevelNormalizer = normalization.NewNormalizer(map[string]string{
	"debug":   LogLevelDebug,
	"info":    LogLevelInfo,
	"warn":    LogLevelWarn,
	"warning": LogLevelWarn,
	"error":   LogLevelError,
}, LogLevelInfo)
