package config

import "time"

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config)
	Domain() string
}

var appliers = []DefaultApplier{
	exportDefaults{},
	generationDefaults{},
	locationDefaults{},
	serviceDefaults{},
}

// ApplyDefaults fills zero values left after decoding. Boolean export switches
// are seeded by seed() before decoding instead, since false is a valid choice.
func ApplyDefaults(cfg *Config) {
	for _, a := range appliers {
		a.ApplyDefaults(cfg)
	}
}

// seed returns the pre-decode configuration carrying defaults that cannot be
// inferred from zero values.
func seed() Config {
	return Config{
		Export: ExportConfig{
			IncludeMeta:              true,
			IncludeExcerpts:          true,
			IncludeTaxonomies:        true,
			ExcludePrivateTaxonomies: true,
		},
		Source: SourceConfig{Watch: true},
	}
}

type exportDefaults struct{}

func (exportDefaults) Domain() string { return "export" }

func (exportDefaults) ApplyDefaults(cfg *Config) {
	if len(cfg.Export.DocumentTypes) == 0 {
		cfg.Export.DocumentTypes = []string{"post", "page"}
	}
	if cfg.Export.MaxItemsPerType <= 0 {
		cfg.Export.MaxItemsPerType = 500
	}
	if cfg.Export.MaxWordsPerItem <= 0 {
		cfg.Export.MaxWordsPerItem = 250
	}
	if cfg.Export.UpdateMode == "" {
		cfg.Export.UpdateMode = UpdateImmediate
	} else if m, err := updateModeNormalizer.NormalizeWithError(string(cfg.Export.UpdateMode)); err == nil {
		cfg.Export.UpdateMode = m
	}
}

type generationDefaults struct{}

func (generationDefaults) Domain() string { return "generation" }

func (generationDefaults) ApplyDefaults(cfg *Config) {
	g := &cfg.Generation
	if g.BatchSize <= 0 {
		g.BatchSize = 50
	}
	if g.MinBatchSize <= 0 {
		g.MinBatchSize = 10
	}
	if g.MinBatchSize > g.BatchSize {
		g.MinBatchSize = g.BatchSize
	}
	if g.MemoryLimit == "" {
		g.MemoryLimit = "256MiB"
	}
	if g.LockTimeout <= 0 {
		g.LockTimeout = 300 * time.Second
	}
	if g.DebounceQuiet <= 0 {
		g.DebounceQuiet = 10 * time.Second
	}
	if g.DebounceMax <= 0 {
		g.DebounceMax = 2 * time.Minute
	}
	if g.LogRetention <= 0 {
		g.LogRetention = 24 * time.Hour
	}
}

type locationDefaults struct{}

func (locationDefaults) Domain() string { return "locations" }

func (locationDefaults) ApplyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/llmstxt.db"
	}
	if cfg.Output.Directory == "" {
		cfg.Output.Directory = "./public"
	}
	if cfg.Output.StandardFile == "" {
		cfg.Output.StandardFile = "llms.txt"
	}
	if cfg.Output.FullFile == "" {
		cfg.Output.FullFile = "llms-full.txt"
	}
	if cfg.Source.ContentDir == "" {
		cfg.Source.ContentDir = "./content"
	}
	if cfg.Source.BaseURL == "" {
		cfg.Source.BaseURL = cfg.Site.URL
	}
}

type serviceDefaults struct{}

func (serviceDefaults) Domain() string { return "service" }

func (serviceDefaults) ApplyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8089"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "documents.changed"
	}
	if cfg.NATS.Queue == "" {
		cfg.NATS.Queue = "llmstxt"
	}
	if cfg.Schedule.At == "" {
		cfg.Schedule.At = "03:00"
	}
	if cfg.Schedule.Weekday == "" {
		cfg.Schedule.Weekday = "monday"
	}
	if cfg.Schedule.SweepInterval <= 0 {
		cfg.Schedule.SweepInterval = time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = LogLevelInfo
	} else if l, err := logLevelNormalizer.NormalizeWithError(cfg.Log.Level); err == nil {
		cfg.Log.Level = l
	}
}
