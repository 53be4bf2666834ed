// Package document defines the read model of the external document store.
package document

import (
	"context"
	stderrors "errors"
	"time"
)

// StatusPublished marks a document as publicly visible in its store.
const StatusPublished = "publish"

// ErrNotFound is returned by Source.Get for unknown ids.
var ErrNotFound = stderrors.New("document not found")

// Document is one record of the document store as seen by the exporter.
type Document struct {
	ID              int64
	Type            string
	Status          string
	Title           string
	Link            string
	Content         string
	Excerpt         string
	MetaDescription string
	PublishedAt     time.Time
	ModifiedAt      time.Time

	// Meta holds store-level annotations such as SEO plugin fields.
	Meta map[string]string
	// Frontmatter holds structured header fields of file-backed documents.
	Frontmatter map[string]any
	// CustomFields are author-defined fields; keys starting with "_" are private.
	CustomFields map[string]string

	Taxonomies []Taxonomy
	Commerce   *Commerce

	// Fingerprint identifies the source revision, when the store provides one.
	Fingerprint string
}

// Published reports whether the document is publicly published.
func (d *Document) Published() bool {
	return d.Status == StatusPublished
}

// Taxonomy groups the terms a document is assigned to.
type Taxonomy struct {
	Name   string // machine name, e.g. "category"
	Label  string // display label, e.g. "Categories"
	Public bool
	Terms  []Term
}

// Term is a single taxonomy term.
type Term struct {
	Name string
	Slug string
	Link string
}

// Commerce carries product fields for commerce documents.
type Commerce struct {
	SKU           string
	Price         string // pre-formatted, currency included
	StockStatus   string
	StockQuantity *int64
	ProductType   string
}

// Source is the read-only view of the document store.
type Source interface {
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id int64) (*Document, error)
	// List pages through documents of docType ordered by id.
	List(ctx context.Context, docType string, offset, limit int) ([]*Document, error)
	// Types lists the document types known to the store.
	Types(ctx context.Context) ([]string, error)
}
