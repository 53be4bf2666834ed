// Package indexer derives cache rows from documents and keeps the cache in
// step with the document store.
package indexer

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/cache"
	"git.home.luguber.info/inful/llmstxt/internal/cleaner"
	"git.home.luguber.info/inful/llmstxt/internal/config"
	"git.home.luguber.info/inful/llmstxt/internal/document"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
	"git.home.luguber.info/inful/llmstxt/internal/metrics"
	"git.home.luguber.info/inful/llmstxt/internal/visibility"
)

const (
	// ExcerptWords bounds excerpts derived from content.
	ExcerptWords = 55
	// OverviewWords bounds the description of an overview line.
	OverviewWords = 30
	// DefaultBatchSize is the page size used when walking the source.
	DefaultBatchSize = 100
)

// Indexer turns documents into cache rows.
type Indexer struct {
	export   config.ExportConfig
	store    *cache.Store
	source   document.Source
	cleaner  *cleaner.Cleaner
	resolver *visibility.Resolver
	recorder metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
	batch    int
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithCleaner replaces the default content cleaner.
func WithCleaner(c *cleaner.Cleaner) Option { return func(ix *Indexer) { ix.cleaner = c } }

// WithResolver replaces the default visibility resolver.
func WithResolver(r *visibility.Resolver) Option { return func(ix *Indexer) { ix.resolver = r } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(ix *Indexer) { ix.recorder = r } }

// WithLogger sets the indexer logger.
func WithLogger(l *slog.Logger) Option { return func(ix *Indexer) { ix.logger = l } }

// WithClock overrides the indexed_at clock.
func WithClock(now func() time.Time) Option { return func(ix *Indexer) { ix.now = now } }

// WithBatchSize sets the page size used by Rebuild.
func WithBatchSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batch = n
		}
	}
}

// New returns an Indexer writing rows for documents of src into store.
func New(export config.ExportConfig, store *cache.Store, src document.Source, opts ...Option) *Indexer {
	ix := &Indexer{
		export:   export,
		store:    store,
		source:   src,
		cleaner:  cleaner.New(),
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
		batch:    DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.resolver == nil {
		ix.resolver = visibility.NewResolver(visibility.DefaultProviders(), visibility.WithLogger(ix.logger))
	}
	return ix
}

// Eligible reports whether doc belongs in the cache: published and of an
// included type.
func (ix *Indexer) Eligible(doc *document.Document) bool {
	return doc != nil && doc.Published() && ix.export.IncludesType(doc.Type)
}

// Row derives the cache row of doc.
func (ix *Indexer) Row(ctx context.Context, doc *document.Document) cache.Row {
	content := ix.cleaner.Clean(doc.Content)
	excerpt := ix.cleaner.Clean(doc.Excerpt)
	if excerpt == "" {
		excerpt = cleaner.Truncate(content, ExcerptWords)
	}
	title := strings.TrimSpace(ix.cleaner.Clean(doc.Title))
	if title == "" {
		title = fmt.Sprintf("Untitled %s %d", doc.Type, doc.ID)
	}

	row := cache.Row{
		DocumentID:      doc.ID,
		Visible:         cache.Bool(ix.resolver.Resolve(ctx, doc)),
		Status:          doc.Status,
		DocType:         doc.Type,
		Title:           title,
		Link:            doc.Link,
		Excerpt:         excerpt,
		MetaDescription: ix.cleaner.Clean(doc.MetaDescription),
		Content:         content,
		PublishedAt:     doc.PublishedAt,
		ModifiedAt:      doc.ModifiedAt,
		CustomFields:    ix.publicFields(doc.CustomFields),
		Fingerprint:     doc.Fingerprint,
		IndexedAt:       ix.now(),
		Terms:           ix.terms(doc.Taxonomies),
	}
	if doc.Commerce != nil {
		c := *doc.Commerce
		row.Commerce = &c
	}
	row.Overview = ix.Overview(row)
	return row
}

// Overview renders the one-line Markdown summary of row.
func (ix *Indexer) Overview(row cache.Row) string {
	var desc string
	if ix.export.IncludeMeta && row.MetaDescription != "" {
		desc = row.MetaDescription
	} else if ix.export.IncludeExcerpts && row.Excerpt != "" {
		desc = row.Excerpt
	}
	line := fmt.Sprintf("- [%s](%s)", escapeLinkText(row.Title), row.Link)
	if desc = strings.Join(strings.Fields(desc), " "); desc != "" {
		line += ": " + cleaner.Truncate(desc, OverviewWords)
	}
	return line
}

// Index writes the row of doc, or removes it when doc is no longer eligible.
// Unchanged documents with a fingerprint are skipped unless force is set.
func (ix *Indexer) Index(ctx context.Context, doc *document.Document, force bool) error {
	if !ix.Eligible(doc) {
		if doc == nil {
			return nil
		}
		return ix.Remove(ctx, doc.ID)
	}
	if !force && doc.Fingerprint != "" {
		if cur, err := ix.store.Get(ctx, doc.ID); err == nil && cur.Fingerprint == doc.Fingerprint {
			ix.recorder.IncCacheOp(metrics.CacheSkip)
			return nil
		}
	}

	if err := ix.store.Upsert(ctx, ix.Row(ctx, doc)); err != nil {
		ix.recorder.IncCacheOp(metrics.CacheError)
		return err
	}
	ix.recorder.IncCacheOp(metrics.CacheUpsert)
	return nil
}

// Remove deletes the row of id.
func (ix *Indexer) Remove(ctx context.Context, id int64) error {
	if err := ix.store.Delete(ctx, id); err != nil {
		ix.recorder.IncCacheOp(metrics.CacheError)
		return err
	}
	ix.recorder.IncCacheOp(metrics.CacheDelete)
	return nil
}

// Refresh re-reads id from the source and re-indexes it. Documents gone from
// the source are removed.
func (ix *Indexer) Refresh(ctx context.Context, id int64) error {
	doc, err := ix.source.Get(ctx, id)
	if stderrors.Is(err, document.ErrNotFound) {
		return ix.Remove(ctx, id)
	}
	if err != nil {
		return errors.WrapError(err, errors.CategorySource, "failed to read document").
			WithContext("document_id", id).Build()
	}
	return ix.Index(ctx, doc, true)
}

// Stats summarizes a Rebuild.
type Stats struct {
	Indexed int
	Skipped int
	Removed int
	Failed  int
}

// RebuildOption configures a single Rebuild.
type RebuildOption func(*rebuildOptions)

type rebuildOptions struct {
	beforePage func(context.Context) error
}

// WithPageHook calls hook before each source page is read. An error from
// hook stops the walk and is returned as is; nothing is pruned.
func WithPageHook(hook func(context.Context) error) RebuildOption {
	return func(o *rebuildOptions) { o.beforePage = hook }
}

// Rebuild walks every included type of the source and indexes each document.
// Row failures are logged and counted; the walk continues. When every page
// was read, rows of documents no longer in the source are pruned.
func (ix *Indexer) Rebuild(ctx context.Context, force bool, opts ...RebuildOption) (Stats, error) {
	var o rebuildOptions
	for _, opt := range opts {
		opt(&o)
	}
	var st Stats
	seen := make(map[int64]struct{})
	complete := true

	for _, docType := range ix.export.DocumentTypes {
		for offset := 0; ; offset += ix.batch {
			if err := ctx.Err(); err != nil {
				return st, err
			}
			if o.beforePage != nil {
				if err := o.beforePage(ctx); err != nil {
					return st, err
				}
			}
			docs, err := ix.source.List(ctx, docType, offset, ix.batch)
			if err != nil {
				complete = false
				ix.logger.WarnContext(ctx, "Failed to list documents",
					logfields.DocType(docType), logfields.Offset(offset), logfields.Error(err))
				break
			}
			for _, doc := range docs {
				if !ix.Eligible(doc) {
					st.Skipped++
					continue
				}
				seen[doc.ID] = struct{}{}
				if err := ix.Index(ctx, doc, force); err != nil {
					st.Failed++
					ix.logger.ErrorContext(ctx, "Failed to index document",
						logfields.DocumentID(doc.ID), logfields.DocType(docType), logfields.Error(err))
					continue
				}
				st.Indexed++
			}
			if len(docs) < ix.batch {
				break
			}
		}
	}

	if complete {
		removed, err := ix.prune(ctx, seen)
		st.Removed = removed
		if err != nil {
			return st, err
		}
	}
	ix.logger.InfoContext(ctx, "Cache rebuilt",
		slog.Int("indexed", st.Indexed), slog.Int("skipped", st.Skipped),
		slog.Int("removed", st.Removed), slog.Int("failed", st.Failed))
	return st, nil
}

func (ix *Indexer) prune(ctx context.Context, seen map[int64]struct{}) (int, error) {
	ids, err := ix.store.IDs(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := ix.Remove(ctx, id); err != nil {
			ix.logger.WarnContext(ctx, "Failed to prune cache row", logfields.DocumentID(id), logfields.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func (ix *Indexer) publicFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if v = ix.cleaner.Clean(v); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (ix *Indexer) terms(taxonomies []document.Taxonomy) []cache.Term {
	var out []cache.Term
	for _, tax := range taxonomies {
		if !tax.Public && ix.export.ExcludePrivateTaxonomies {
			continue
		}
		label := tax.Label
		if label == "" {
			label = tax.Name
		}
		for _, t := range tax.Terms {
			slug := t.Slug
			if slug == "" {
				slug = strings.ToLower(strings.Join(strings.Fields(t.Name), "-"))
			}
			out = append(out, cache.Term{
				Taxonomy:      tax.Name,
				TaxonomyLabel: label,
				Public:        tax.Public,
				Name:          t.Name,
				Slug:          slug,
				Link:          t.Link,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Taxonomy != out[j].Taxonomy {
			return out[i].Taxonomy < out[j].Taxonomy
		}
		return out[i].Name < out[j].Name
	})
	return out
}

var linkTextEscaper = strings.NewReplacer("[", `\[`, "]", `\]`)

func escapeLinkText(s string) string { return linkTextEscaper.Replace(s) }
