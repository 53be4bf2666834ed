// Package cache stores one pre-cleaned row per exportable document in SQLite.
package cache

import (
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/document"
)

// Row is the cached, derived view of one document. Every write replaces the
// whole row including its terms.
type Row struct {
	DocumentID int64
	// Visible is nil when no decision was recorded; nil counts as visible.
	Visible *bool
	Status  string
	DocType string
	Title   string
	Link    string

	// Commerce is nil for non-commerce documents; its columns are then NULL.
	Commerce *document.Commerce

	Excerpt         string
	Overview        string
	MetaDescription string
	Content         string
	PublishedAt     time.Time
	ModifiedAt      time.Time

	CustomFields map[string]string
	Fingerprint  string
	IndexedAt    time.Time

	Terms []Term
}

// IsVisible reports whether the row is exported.
func (r *Row) IsVisible() bool {
	return r.Visible == nil || *r.Visible
}

// Term is a taxonomy term attached to a cached row.
type Term struct {
	Taxonomy      string
	TaxonomyLabel string
	Public        bool
	Name          string
	Slug          string
	Link          string
}

// TermCount is a term with the number of visible rows carrying it.
type TermCount struct {
	Name  string
	Slug  string
	Link  string
	Count int
}

// Bool returns a pointer to b, for Row.Visible.
func Bool(b bool) *bool { return &b }
