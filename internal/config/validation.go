package config

import (
	"strings"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
)

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if _, err := updateModeNormalizer.NormalizeWithError(string(cfg.Export.UpdateMode)); err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "invalid update_mode").
			WithContext("update_mode", string(cfg.Export.UpdateMode)).
			WithContext("valid_values", "immediate, daily, weekly").Build()
	}
	if _, err := logLevelNormalizer.NormalizeWithError(cfg.Log.Level); err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "invalid log level").
			WithContext("level", cfg.Log.Level).Build()
	}

	for _, t := range cfg.Export.DocumentTypes {
		if strings.TrimSpace(t) == "" {
			return errors.ValidationError("document_types contains an empty entry").Build()
		}
	}

	limit, err := cfg.Generation.MemoryLimitBytes()
	if err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "invalid memory_limit").
			WithContext("memory_limit", cfg.Generation.MemoryLimit).Build()
	}
	if limit == 0 {
		return errors.ValidationError("memory_limit must be positive").Build()
	}

	if cfg.Generation.DebounceMax < cfg.Generation.DebounceQuiet {
		return errors.ValidationError("debounce_max must not be shorter than debounce_quiet").
			WithContext("debounce_quiet", cfg.Generation.DebounceQuiet.String()).
			WithContext("debounce_max", cfg.Generation.DebounceMax.String()).Build()
	}

	if _, _, err := ParseClock(cfg.Schedule.At); err != nil {
		return err
	}
	if _, err := ParseWeekday(cfg.Schedule.Weekday); err != nil {
		return err
	}

	if cfg.Output.StandardFile == cfg.Output.FullFile {
		return errors.ValidationError("standard_file and full_file must differ").
			WithContext("file", cfg.Output.StandardFile).Build()
	}
	return nil
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute uint, err error) {
	t, perr := time.Parse("15:04", strings.TrimSpace(s))
	if perr != nil {
		return 0, 0, errors.WrapError(perr, errors.CategoryValidation, "invalid schedule time, expected HH:MM").
			WithContext("at", s).Build()
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

// ParseWeekday parses an English weekday name, case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	d, err := weekdayNormalizer.NormalizeWithError(s)
	if err != nil {
		return 0, errors.WrapError(err, errors.CategoryValidation, "invalid schedule weekday").WithContext("weekday", s).Build()
	}
	return d, nil
}
