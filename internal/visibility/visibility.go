// Package visibility decides whether a document is exported, based on
// noindex annotations from zero or more providers.
package visibility

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/llmstxt/internal/document"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

// Signal is a provider's opinion about one document.
type Signal int

const (
	// Absent means the provider has nothing to say.
	Absent Signal = iota
	// Index explicitly allows indexing.
	Index
	// NoIndex explicitly excludes the document.
	NoIndex
)

func (s Signal) String() string {
	switch s {
	case Index:
		return "index"
	case NoIndex:
		return "noindex"
	default:
		return "absent"
	}
}

// AnnotationProvider reports the noindex signal of one annotation source.
type AnnotationProvider interface {
	Name() string
	NoIndex(ctx context.Context, doc *document.Document) (Signal, error)
}

// OverrideFunc may change the decision after all providers ran.
type OverrideFunc func(doc *document.Document, visible bool) bool

// Resolver combines provider signals: any NoIndex excludes the document.
type Resolver struct {
	providers []AnnotationProvider
	override  OverrideFunc
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithOverride installs the final override hook.
func WithOverride(fn OverrideFunc) Option {
	return func(r *Resolver) { r.override = fn }
}

// WithLogger sets the logger used for provider failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver returns a Resolver consulting providers in order. An empty
// provider list is valid: every document is then visible unless overridden.
func NewResolver(providers []AnnotationProvider, opts ...Option) *Resolver {
	r := &Resolver{providers: providers, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns false iff some provider reports NoIndex, then applies the override.
// Provider errors count as Absent.
func (r *Resolver) Resolve(ctx context.Context, doc *document.Document) bool {
	visible := true
	for _, p := range r.providers {
		sig, err := p.NoIndex(ctx, doc)
		if err != nil {
			r.logger.WarnContext(ctx, "Visibility provider failed",
				slog.String("provider", p.Name()),
				logfields.DocumentID(doc.ID),
				logfields.Error(err))
			continue
		}
		if sig == NoIndex {
			visible = false
			break
		}
	}
	if r.override != nil {
		visible = r.override(doc, visible)
	}
	return visible
}
