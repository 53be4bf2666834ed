package generator

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"git.home.luguber.info/inful/llmstxt/internal/cache"
	"git.home.luguber.info/inful/llmstxt/internal/cleaner"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

const (
	passOverview = "overview"
	passDetailed = "detailed"
	sectionSite  = "site_information"
)

// writeFull rewrites llms-full.txt: site information, an overview line per
// document, then a detailed block per document. Each batch of rows is one
// appended section.
func (g *Generator) writeFull(ctx context.Context, j *job) error {
	path := g.FullPath()
	j.logger.InfoContext(ctx, "Writing full file", logfields.File(path))

	counts := make(map[string]int, len(g.cfg.Export.DocumentTypes))
	documents := 0
	for _, docType := range g.cfg.Export.DocumentTypes {
		n, err := g.store.CountByType(ctx, docType, true)
		if err != nil {
			return err
		}
		counts[docType] = g.capped(n)
		documents += counts[docType]
	}

	w, err := createOutput(path)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	file := g.cfg.Output.FullFile

	if err := g.section(ctx, w, file, sectionHeader, g.renderHeader); err != nil {
		return err
	}
	if err := g.section(ctx, w, file, sectionSite, g.renderSiteInfo(documents)); err != nil {
		return err
	}

	if err := g.section(ctx, w, file, passOverview, heading("## Overview")); err != nil {
		return err
	}
	for _, docType := range g.cfg.Export.DocumentTypes {
		if counts[docType] == 0 {
			continue
		}
		if err := g.section(ctx, w, file, passOverview, heading("### "+typeHeading(docType))); err != nil {
			return err
		}
		err := g.walk(ctx, j, docType, counts[docType], func(rows []cache.Row) error {
			return g.section(ctx, w, file, passOverview, func(b *bytes.Buffer) error {
				for i := range rows {
					b.WriteString(overviewLine(&rows[i]))
					b.WriteByte('\n')
				}
				b.WriteByte('\n')
				return nil
			})
		})
		if err != nil {
			return err
		}
		g.recorder.AddItemsWritten(passOverview, counts[docType])
	}

	if err := g.section(ctx, w, file, passDetailed, heading("## Detailed Content")); err != nil {
		return err
	}
	for _, docType := range g.cfg.Export.DocumentTypes {
		if counts[docType] == 0 {
			continue
		}
		err := g.walk(ctx, j, docType, counts[docType], func(rows []cache.Row) error {
			ids := make([]int64, len(rows))
			for i := range rows {
				ids[i] = rows[i].DocumentID
			}
			terms, err := g.store.Terms(ctx, ids)
			if err != nil {
				j.logger.WarnContext(ctx, "Writing batch without taxonomy terms",
					logfields.DocType(docType), logfields.Error(err))
				terms = nil
			}
			return g.section(ctx, w, file, passDetailed, func(b *bytes.Buffer) error {
				for i := range rows {
					rows[i].Terms = terms[rows[i].DocumentID]
					g.renderDetail(b, &rows[i])
				}
				return nil
			})
		})
		if err != nil {
			return err
		}
		g.recorder.AddItemsWritten(passDetailed, counts[docType])
	}
	return w.Close()
}

// walk pages through the visible rows of docType, at most limit of them, in
// cache order. Every batch starts at a checkpoint. A failed page read is
// logged and ends the walk of this type; the run goes on.
func (g *Generator) walk(ctx context.Context, j *job, docType string, limit int, fn func([]cache.Row) error) error {
	for offset := 0; offset < limit; {
		if err := g.checkpoint(ctx, j); err != nil {
			return err
		}
		size := min(j.throttle.Size(), limit-offset)
		rows, err := g.store.Page(ctx, docType, true, offset, size)
		if err != nil {
			j.logger.ErrorContext(ctx, "Failed to read cache batch",
				logfields.DocType(docType), logfields.Offset(offset), logfields.BatchSize(size), logfields.Error(err))
			return nil
		}
		if len(rows) == 0 {
			return nil
		}
		if err := fn(rows); err != nil {
			return err
		}
		g.advance(ctx, j, rows)
		offset += len(rows)
	}
	return nil
}

func (g *Generator) renderSiteInfo(documents int) func(*bytes.Buffer) error {
	return func(b *bytes.Buffer) error {
		b.WriteString("## Site Information\n\n")
		if g.cfg.Site.URL != "" {
			fmt.Fprintf(b, "- URL: %s\n", g.cfg.Site.URL)
		}
		fmt.Fprintf(b, "- Generated: %s\n", g.now().UTC().Format(time.RFC3339))
		fmt.Fprintf(b, "- Document types: %s\n", strings.Join(g.cfg.Export.DocumentTypes, ", "))
		fmt.Fprintf(b, "- Documents: %d\n\n", documents)
		return nil
	}
}

// renderDetail writes the detailed block of one row.
func (g *Generator) renderDetail(b *bytes.Buffer, r *cache.Row) {
	export := g.cfg.Export
	fmt.Fprintf(b, "### %s\n\n", r.Title)
	if r.Link != "" {
		fmt.Fprintf(b, "- URL: %s\n", r.Link)
	}
	fmt.Fprintf(b, "- Type: %s\n", r.DocType)
	if d := formatDate(r.PublishedAt); d != "" {
		fmt.Fprintf(b, "- Published: %s\n", d)
	}
	if d := formatDate(r.ModifiedAt); d != "" && d != formatDate(r.PublishedAt) {
		fmt.Fprintf(b, "- Updated: %s\n", d)
	}

	if c := r.Commerce; c != nil {
		if c.SKU != "" {
			fmt.Fprintf(b, "- SKU: %s\n", c.SKU)
		}
		if c.Price != "" {
			fmt.Fprintf(b, "- Price: %s\n", c.Price)
		}
		if c.StockStatus != "" {
			if c.StockQuantity != nil {
				fmt.Fprintf(b, "- Stock: %s (%d)\n", c.StockStatus, *c.StockQuantity)
			} else {
				fmt.Fprintf(b, "- Stock: %s\n", c.StockStatus)
			}
		}
		if c.ProductType != "" {
			fmt.Fprintf(b, "- Product type: %s\n", c.ProductType)
		}
	}

	if export.IncludeTaxonomies {
		for _, group := range groupTerms(r.Terms, export.ExcludePrivateTaxonomies) {
			fmt.Fprintf(b, "- %s: %s\n", group.label, strings.Join(group.names, ", "))
		}
	}

	if export.IncludeCustomFields && len(r.CustomFields) > 0 {
		keys := make([]string, 0, len(r.CustomFields))
		for k := range r.CustomFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "- %s: %s\n", k, oneLine(r.CustomFields[k]))
		}
	}
	b.WriteByte('\n')

	switch {
	case export.IncludeMeta && r.MetaDescription != "":
		fmt.Fprintf(b, "> %s\n\n", oneLine(r.MetaDescription))
	case export.IncludeExcerpts && r.Excerpt != "" && !strings.HasPrefix(r.Content, strings.TrimSuffix(r.Excerpt, "...")):
		fmt.Fprintf(b, "> %s\n\n", oneLine(r.Excerpt))
	}

	if content := cleaner.Truncate(r.Content, export.MaxWordsPerItem); content != "" {
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	b.WriteString("---\n\n")
}

type termGroup struct {
	label string
	names []string
}

func groupTerms(terms []cache.Term, excludePrivate bool) []termGroup {
	var groups []termGroup
	index := make(map[string]int)
	for _, t := range terms {
		if excludePrivate && !t.Public {
			continue
		}
		label := t.TaxonomyLabel
		if label == "" {
			label = typeHeading(t.Taxonomy)
		}
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, termGroup{label: label})
		}
		groups[i].names = append(groups[i].names, t.Name)
	}
	return groups
}

func heading(text string) func(*bytes.Buffer) error {
	return func(b *bytes.Buffer) error {
		b.WriteString(text)
		b.WriteString("\n\n")
		return nil
	}
}

// typeHeading turns a machine name such as "product_cat" into "Product Cat".
func typeHeading(name string) string {
	return cases.Title(language.English).String(strings.NewReplacer("_", " ", "-", " ").Replace(name))
}
