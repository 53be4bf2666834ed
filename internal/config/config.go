// Package config loads the immutable llmstxt configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
)

// UpdateMode controls when regeneration follows a document change.
type UpdateMode string

const (
	UpdateImmediate UpdateMode = "immediate"
	UpdateDaily     UpdateMode = "daily"
	UpdateWeekly    UpdateMode = "weekly"
)

// Config is the root configuration. It is treated as immutable once Load returns;
// components receive it (or a sub-struct) at construction time.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Export     ExportConfig     `yaml:"export"`
	Generation GenerationConfig `yaml:"generation"`
	Storage    StorageConfig    `yaml:"storage"`
	Output     OutputConfig     `yaml:"output"`
	Source     SourceConfig     `yaml:"source"`
	Server     ServerConfig     `yaml:"server"`
	NATS       NATSConfig       `yaml:"nats"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Log        LogConfig        `yaml:"log"`
}

// SiteConfig describes the site identity written into both file headers.
type SiteConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	URL         string `yaml:"url"`
}

// ExportConfig selects and shapes the exported documents.
type ExportConfig struct {
	DocumentTypes            []string   `yaml:"document_types"`
	MaxItemsPerType          int        `yaml:"max_items_per_type"`
	MaxWordsPerItem          int        `yaml:"max_words_per_item"`
	IncludeMeta              bool       `yaml:"include_meta"`
	IncludeExcerpts          bool       `yaml:"include_excerpts"`
	IncludeTaxonomies        bool       `yaml:"include_taxonomies"`
	IncludeCustomFields      bool       `yaml:"include_custom_fields"`
	ExcludePrivateTaxonomies bool       `yaml:"exclude_private_taxonomies"`
	UpdateMode               UpdateMode `yaml:"update_mode"`
}

// IncludesType reports whether docType is part of the configured include-set.
func (e ExportConfig) IncludesType(docType string) bool {
	for _, t := range e.DocumentTypes {
		if t == docType {
			return true
		}
	}
	return false
}

// GenerationConfig tunes the batched generation pipeline.
type GenerationConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	MinBatchSize  int           `yaml:"min_batch_size"`
	MemoryLimit   string        `yaml:"memory_limit"`
	LockTimeout   time.Duration `yaml:"lock_timeout"`
	DebounceQuiet time.Duration `yaml:"debounce_quiet"`
	DebounceMax   time.Duration `yaml:"debounce_max"`
	LogRetention  time.Duration `yaml:"log_retention"`
}

// MemoryLimitBytes parses MemoryLimit ("256MiB", "512 MB", "1073741824").
func (g GenerationConfig) MemoryLimitBytes() (uint64, error) {
	return humanize.ParseBytes(g.MemoryLimit)
}

// StorageConfig locates the SQLite database holding cache, progress and logs.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// OutputConfig locates the generated files.
type OutputConfig struct {
	Directory    string `yaml:"directory"`
	StandardFile string `yaml:"standard_file"`
	FullFile     string `yaml:"full_file"`
}

// SourceConfig configures the Markdown content source.
type SourceConfig struct {
	ContentDir string `yaml:"content_dir"`
	BaseURL    string `yaml:"base_url"`
	Watch      bool   `yaml:"watch"`
}

// ServerConfig configures the operator API.
type ServerConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// NATSConfig configures the optional change-event subscription.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

// Enabled reports whether a NATS URL was configured.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// ScheduleConfig sets the wall-clock time for daily/weekly regeneration
// and the interval of the maintenance sweep.
type ScheduleConfig struct {
	At            string        `yaml:"at"`      // "HH:MM"
	Weekday       string        `yaml:"weekday"` // weekly mode only
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LogConfig configures process logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configPath, expands ${ENV} references, applies defaults and validates.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigError("configuration file not found").WithContext("path", configPath).Build()
		}
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").WithContext("path", configPath).Build()
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	cfg := seed()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").Build()
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := seed()
	ApplyDefaults(&cfg)
	return &cfg
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.NewError(errors.CategoryAlreadyExists, "configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).Build()
	}

	example := Default()
	example.Site = SiteConfig{
		Name:        "My Site",
		Description: "Published documents, prepared for language models",
		URL:         "https://example.com",
	}
	example.Source.BaseURL = "https://example.com"
	example.Server.Token = "${LLMSTXT_TOKEN}"

	out, err := yaml.Marshal(example)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to marshal example config").Build()
	}
	if err := os.WriteFile(configPath, out, 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write config file").WithContext("path", configPath).Build()
	}
	fmt.Fprintf(os.Stderr, "Wrote example configuration to %s\n", configPath)
	return nil
}
