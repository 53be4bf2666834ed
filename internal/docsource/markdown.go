// Package docsource reads documents from a directory of Markdown files with
// YAML frontmatter and keeps them current with a filesystem watcher.
package docsource

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/inful/mdfp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/llmstxt/internal/document"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

// Status values derived from frontmatter.
const (
	StatusDraft  = "draft"
	StatusFuture = "future"
)

// rootType is the document type of files directly under the content root.
const rootType = "page"

// Markdown is a document.Source backed by a content directory. Documents
// are parsed once by Load or LoadFile and served from memory.
//
// A document's id is its frontmatter "id" when present, otherwise a stable
// hash of its path relative to the root. Its type is the frontmatter "type",
// otherwise the singular of its top-level directory ("posts" -> "post").
type Markdown struct {
	root    string
	baseURL string
	md      goldmark.Markdown
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	byPath map[string]int64
	docs   *document.MemorySource
}

// Option configures a Markdown source.
type Option func(*Markdown)

// WithLogger sets the source logger.
func WithLogger(l *slog.Logger) Option { return func(m *Markdown) { m.logger = l } }

// WithClock overrides the clock deciding whether a dated document is future.
func WithClock(now func() time.Time) Option { return func(m *Markdown) { m.now = now } }

// NewMarkdown returns an empty source for root. Links are built on baseURL.
func NewMarkdown(root, baseURL string, opts ...Option) *Markdown {
	m := &Markdown{
		root:    filepath.Clean(root),
		baseURL: strings.TrimRight(baseURL, "/"),
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:  slog.Default(),
		now:     time.Now,
		byPath:  make(map[string]int64),
		docs:    document.NewMemorySource(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ document.Source = (*Markdown)(nil)

// Root returns the content directory.
func (m *Markdown) Root() string { return m.root }

// Get implements document.Source.
func (m *Markdown) Get(ctx context.Context, id int64) (*document.Document, error) {
	return m.docs.Get(ctx, id)
}

// List implements document.Source.
func (m *Markdown) List(ctx context.Context, docType string, offset, limit int) ([]*document.Document, error) {
	return m.docs.List(ctx, docType, offset, limit)
}

// Types implements document.Source.
func (m *Markdown) Types(ctx context.Context) ([]string, error) {
	return m.docs.Types(ctx)
}

// Load parses every Markdown file under the root. Files that fail to parse
// are logged and skipped. It returns the number of documents loaded.
func (m *Markdown) Load(ctx context.Context) (int, error) {
	var paths []string
	err := filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != m.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsMarkdown(p) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return 0, errors.WrapError(err, errors.CategorySource, "failed to walk content directory").
			WithContext("root", m.root).Build()
	}
	sort.Strings(paths)

	loaded := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		if _, err := m.LoadFile(p); err != nil {
			m.logger.WarnContext(ctx, "Skipping unreadable document", logfields.Path(p), logfields.Error(err))
			continue
		}
		loaded++
	}
	m.logger.InfoContext(ctx, "Content directory loaded", slog.String("root", m.root), slog.Int("documents", loaded))
	return loaded, nil
}

// LoadFile parses p and stores the result, replacing any earlier version.
func (m *Markdown) LoadFile(p string) (*document.Document, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategorySource, "failed to read document").WithContext("path", p).Build()
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategorySource, "failed to stat document").WithContext("path", p).Build()
	}
	rel, err := m.rel(p)
	if err != nil {
		return nil, err
	}
	doc, err := m.parse(rel, raw, info.ModTime())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for other, id := range m.byPath {
		if id == doc.ID && other != rel {
			return nil, errors.NewError(errors.CategoryAlreadyExists, "document id used by another file").
				WithContext("path", rel).WithContext("other", other).WithContext("document_id", doc.ID).Build()
		}
	}
	if old, ok := m.byPath[rel]; ok && old != doc.ID {
		m.docs.Remove(old)
	}
	m.byPath[rel] = doc.ID
	m.docs.Put(doc)
	return doc, nil
}

// Forget drops the document parsed from p and returns its id.
func (m *Markdown) Forget(p string) (int64, bool) {
	rel, err := m.rel(p)
	if err != nil {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPath[rel]
	if !ok {
		return 0, false
	}
	delete(m.byPath, rel)
	m.docs.Remove(id)
	return id, true
}

// ForgetDir drops every document below directory p and returns their ids.
func (m *Markdown) ForgetDir(p string) []int64 {
	rel, err := m.rel(p)
	if err != nil {
		return nil
	}
	prefix := strings.TrimSuffix(rel, "/") + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for file, id := range m.byPath {
		if rel == "." || strings.HasPrefix(file, prefix) {
			delete(m.byPath, file)
			m.docs.Remove(id)
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Markdown) rel(p string) (string, error) {
	rel, err := filepath.Rel(m.root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.ValidationError("path outside content directory").WithContext("path", p).Build()
	}
	return filepath.ToSlash(rel), nil
}

// parse builds the document of the file at rel.
func (m *Markdown) parse(rel string, raw []byte, modTime time.Time) (*document.Document, error) {
	header, body, err := splitFrontmatter(raw)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "invalid frontmatter").WithContext("path", rel).Build()
	}
	fields, err := parseFields(header)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "invalid frontmatter YAML").WithContext("path", rel).Build()
	}

	var html bytes.Buffer
	if err := m.md.Convert(body, &html); err != nil {
		return nil, errors.WrapError(err, errors.CategorySource, "failed to render Markdown").WithContext("path", rel).Build()
	}

	id, ok := intField(fields, "id")
	if !ok || id <= 0 {
		id = pathID(rel)
	}
	doc := &document.Document{
		ID:              id,
		Type:            docType(rel, fields),
		Status:          m.status(fields),
		Title:           stringField(fields, "title"),
		Link:            m.link(rel, fields),
		Content:         html.String(),
		Excerpt:         stringField(fields, "summary", "excerpt"),
		MetaDescription: stringField(fields, "description"),
		PublishedAt:     timeField(fields, "date", "publishDate"),
		ModifiedAt:      timeField(fields, "lastmod"),
		Frontmatter:     fields,
		CustomFields:    customFields(mapField(fields, "params")),
		Taxonomies:      taxonomies(fields),
		Commerce:        commerce(mapField(fields, "product")),
		Fingerprint:     fingerprint(fields, header, body),
	}
	if doc.ModifiedAt.IsZero() {
		doc.ModifiedAt = modTime
	}
	if doc.PublishedAt.IsZero() {
		doc.PublishedAt = doc.ModifiedAt
	}
	if doc.Title == "" {
		doc.Title = titleFromPath(rel)
	}
	return doc, nil
}

func (m *Markdown) status(fields map[string]any) string {
	if s := stringField(fields, "status"); s != "" {
		return s
	}
	if boolField(fields, "draft") {
		return StatusDraft
	}
	if published := timeField(fields, "publishDate", "date"); !published.IsZero() && published.After(m.now()) {
		return StatusFuture
	}
	return document.StatusPublished
}

// link returns the frontmatter "url" or the pretty URL of rel.
func (m *Markdown) link(rel string, fields map[string]any) string {
	if u := stringField(fields, "url"); u != "" {
		if strings.Contains(u, "://") {
			return u
		}
		return m.baseURL + "/" + strings.TrimLeft(u, "/")
	}
	dir, file := path.Split(strings.TrimSuffix(rel, path.Ext(rel)))
	switch {
	case file == "index" || file == "_index":
		file = ""
	case stringField(fields, "slug") != "":
		file = stringField(fields, "slug")
	}
	p := strings.Trim(dir+file, "/")
	if p == "" {
		return m.baseURL + "/"
	}
	return m.baseURL + "/" + p + "/"
}

// IsMarkdown reports whether p names a Markdown file.
func IsMarkdown(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".md", ".markdown":
		return !strings.HasPrefix(filepath.Base(p), ".")
	}
	return false
}

func pathID(rel string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rel))
	id := int64(h.Sum64() & 0x7fffffffffffffff)
	if id == 0 {
		id = 1
	}
	return id
}

func docType(rel string, fields map[string]any) string {
	if t := stringField(fields, "type"); t != "" {
		return t
	}
	top, _, nested := strings.Cut(rel, "/")
	if !nested {
		return rootType
	}
	if len(top) > 1 && strings.HasSuffix(top, "s") && !strings.HasSuffix(top, "ss") {
		return strings.TrimSuffix(top, "s")
	}
	return top
}

func titleFromPath(rel string) string {
	base := strings.TrimSuffix(path.Base(rel), path.Ext(rel))
	if base == "index" || base == "_index" {
		base = path.Base(path.Dir(rel))
	}
	return strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(base))
}

// fingerprint hashes the header and body. A stored fingerprint field is left
// out of the hash.
func fingerprint(fields map[string]any, header, body []byte) string {
	if _, ok := fields[mdfp.FingerprintField]; ok {
		rest := make(map[string]any, len(fields))
		for k, v := range fields {
			if k != mdfp.FingerprintField {
				rest[k] = v
			}
		}
		header = nil
		if len(rest) > 0 {
			if out, err := yaml.Marshal(rest); err == nil {
				header = out
			}
		}
	}
	return mdfp.CalculateFingerprintFromParts(strings.TrimSuffix(string(header), "\n"), string(body))
}

func customFields(params map[string]any) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch v.(type) {
		case map[string]any, []any, nil:
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// taxonomyFields maps frontmatter lists to taxonomies.
var taxonomyFields = []struct{ field, name, label string }{
	{"categories", "category", "Categories"},
	{"tags", "tag", "Tags"},
}

func taxonomies(fields map[string]any) []document.Taxonomy {
	var out []document.Taxonomy
	for _, tf := range taxonomyFields {
		names := stringList(fields, tf.field)
		if len(names) == 0 {
			continue
		}
		tax := document.Taxonomy{Name: tf.name, Label: tf.label, Public: true}
		for _, n := range names {
			tax.Terms = append(tax.Terms, document.Term{Name: n})
		}
		out = append(out, tax)
	}
	return out
}

func commerce(product map[string]any) *document.Commerce {
	if len(product) == 0 {
		return nil
	}
	c := &document.Commerce{
		SKU:         stringField(product, "sku"),
		Price:       stringField(product, "price"),
		StockStatus: stringField(product, "stock_status"),
		ProductType: stringField(product, "type"),
	}
	if q, ok := intField(product, "stock_quantity"); ok {
		c.StockQuantity = &q
	}
	return c
}
