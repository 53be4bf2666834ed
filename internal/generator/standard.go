package generator

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/llmstxt/internal/cache"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

// Caps of the standard file's sections.
const (
	KeyPagesLimit     = 10
	RecentLimit       = 20
	TopTermsLimit     = 10
	keyPagesType      = "page"
	categoryTaxonomy  = "category"
	sectionHeader     = "header"
	sectionKeyPages   = "key_pages"
	sectionRecent     = "recent"
	sectionCategories = "top_categories"
	sectionPointer    = "full_pointer"
)

// writeStandard rewrites llms.txt: header, key pages, recent content, top
// categories and a pointer to the full file.
func (g *Generator) writeStandard(ctx context.Context, j *job) error {
	path := g.StandardPath()
	j.logger.InfoContext(ctx, "Writing standard file", logfields.File(path))

	w, err := createOutput(path)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	file := g.cfg.Output.StandardFile

	if err := g.section(ctx, w, file, sectionHeader, g.renderHeader); err != nil {
		return err
	}

	pages, err := g.store.Page(ctx, keyPagesType, true, 0, KeyPagesLimit)
	if err != nil {
		j.logger.WarnContext(ctx, "Skipping key pages", logfields.Section(sectionKeyPages), logfields.Error(err))
	}
	if err := g.section(ctx, w, file, sectionKeyPages, overviewSection("Key Pages", pages)); err != nil {
		return err
	}

	recent, err := g.store.Recent(ctx, g.cfg.Export.DocumentTypes, RecentLimit)
	if err != nil {
		j.logger.WarnContext(ctx, "Skipping recent content", logfields.Section(sectionRecent), logfields.Error(err))
	}
	if err := g.section(ctx, w, file, sectionRecent, overviewSection("Recent Content", recent)); err != nil {
		return err
	}

	if g.cfg.Export.IncludeTaxonomies {
		terms, err := g.store.TopTerms(ctx, categoryTaxonomy, TopTermsLimit)
		if err != nil {
			j.logger.WarnContext(ctx, "Skipping top categories", logfields.Section(sectionCategories), logfields.Error(err))
		}
		if err := g.section(ctx, w, file, sectionCategories, termSection("Top Categories", terms)); err != nil {
			return err
		}
	}

	if err := g.section(ctx, w, file, sectionPointer, g.renderPointer); err != nil {
		return err
	}
	return w.Close()
}

// section appends one section and records how long it took.
func (g *Generator) section(ctx context.Context, w *sectionWriter, file, name string, render func(*bytes.Buffer) error) error {
	started := g.now()
	if err := w.Section(render); err != nil {
		return err
	}
	g.recorder.ObserveSectionDuration(file, name, g.now().Sub(started))
	g.logger.DebugContext(ctx, "Section written", logfields.File(file), logfields.Section(name))
	return nil
}

func (g *Generator) renderHeader(b *bytes.Buffer) error {
	name := g.cfg.Site.Name
	if name == "" {
		name = g.cfg.Site.URL
	}
	fmt.Fprintf(b, "# %s\n\n", name)
	if d := strings.TrimSpace(g.cfg.Site.Description); d != "" {
		fmt.Fprintf(b, "> %s\n\n", oneLine(d))
	}
	return nil
}

func (g *Generator) renderPointer(b *bytes.Buffer) error {
	b.WriteString("## Full Content\n\n")
	fmt.Fprintf(b, "- [%s](%s): Complete content of every exported document\n", g.cfg.Output.FullFile, g.fullURL())
	return nil
}

func (g *Generator) fullURL() string {
	base := strings.TrimRight(g.cfg.Site.URL, "/")
	if base == "" {
		return g.cfg.Output.FullFile
	}
	return base + "/" + g.cfg.Output.FullFile
}

func overviewSection(title string, rows []cache.Row) func(*bytes.Buffer) error {
	return func(b *bytes.Buffer) error {
		if len(rows) == 0 {
			return nil
		}
		fmt.Fprintf(b, "## %s\n\n", title)
		for i := range rows {
			b.WriteString(overviewLine(&rows[i]))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
		return nil
	}
}

func termSection(title string, terms []cache.TermCount) func(*bytes.Buffer) error {
	return func(b *bytes.Buffer) error {
		if len(terms) == 0 {
			return nil
		}
		fmt.Fprintf(b, "## %s\n\n", title)
		for _, t := range terms {
			noun := "items"
			if t.Count == 1 {
				noun = "item"
			}
			if t.Link != "" {
				fmt.Fprintf(b, "- [%s](%s): %d %s\n", t.Name, t.Link, t.Count, noun)
			} else {
				fmt.Fprintf(b, "- %s: %d %s\n", t.Name, t.Count, noun)
			}
		}
		b.WriteByte('\n')
		return nil
	}
}

// overviewLine returns the cached overview of r, rendering a bare link for
// rows written without one.
func overviewLine(r *cache.Row) string {
	if r.Overview != "" {
		return r.Overview
	}
	return fmt.Sprintf("- [%s](%s)", r.Title, r.Link)
}

func oneLine(s string) string { return strings.Join(strings.Fields(s), " ") }
