package docsource

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/llmstxt/internal/document"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func write(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func newSource(t *testing.T) (*Markdown, string) {
	t.Helper()
	root := t.TempDir()
	return NewMarkdown(root, "https://example.com/", WithClock(func() time.Time { return now })), root
}

func TestLoadParsesFrontmatterAndBody(t *testing.T) {
	src, root := newSource(t)
	write(t, root, "posts/hello-world.md", `---
id: 42
title: Hello World
date: 2024-05-01
lastmod: 2024-05-03T10:00:00Z
description: A greeting.
summary: Short summary.
categories: [News, Releases]
tags: go, llms
params:
  author: Ada
  nested: {skip: true}
---
# Heading

Some **bold** text.
`)
	write(t, root, "about.md", "Just a page without frontmatter.\n")
	write(t, root, ".drafts/hidden.md", "---\ntitle: Hidden\n---\nnope\n")
	write(t, root, "posts/notes.txt", "not markdown")

	n, err := src.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc, err := src.Get(t.Context(), 42)
	require.NoError(t, err)
	assert.Equal(t, "post", doc.Type)
	assert.Equal(t, document.StatusPublished, doc.Status)
	assert.Equal(t, "Hello World", doc.Title)
	assert.Equal(t, "https://example.com/posts/hello-world/", doc.Link)
	assert.Contains(t, doc.Content, "<strong>bold</strong>")
	assert.Equal(t, "Short summary.", doc.Excerpt)
	assert.Equal(t, "A greeting.", doc.MetaDescription)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), doc.PublishedAt)
	assert.Equal(t, time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC), doc.ModifiedAt)
	assert.Equal(t, map[string]string{"author": "Ada"}, doc.CustomFields)
	require.Len(t, doc.Taxonomies, 2)
	assert.Equal(t, "category", doc.Taxonomies[0].Name)
	assert.Equal(t, []document.Term{{Name: "News"}, {Name: "Releases"}}, doc.Taxonomies[0].Terms)
	assert.Equal(t, []document.Term{{Name: "go"}, {Name: "llms"}}, doc.Taxonomies[1].Terms)
	assert.NotEmpty(t, doc.Fingerprint)

	pages, err := src.List(t.Context(), "page", 0, 10)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "about", pages[0].Title)
	assert.Equal(t, "https://example.com/about/", pages[0].Link)
	assert.Nil(t, pages[0].Frontmatter["title"])
}

func TestStatusFromFrontmatter(t *testing.T) {
	src, root := newSource(t)
	cases := map[string]string{
		"draft.md":   "---\ndraft: true\n---\nx\n",
		"future.md":  "---\ndate: 2030-01-01\n---\nx\n",
		"private.md": "---\nstatus: private\n---\nx\n",
		"publish.md": "---\ndate: 2020-01-01\n---\nx\n",
		"undated.md": "x\n",
	}
	want := map[string]string{
		"draft.md":   StatusDraft,
		"future.md":  StatusFuture,
		"private.md": "private",
		"publish.md": document.StatusPublished,
		"undated.md": document.StatusPublished,
	}
	for name, content := range cases {
		doc, err := src.LoadFile(write(t, root, name, content))
		require.NoError(t, err, name)
		assert.Equal(t, want[name], doc.Status, name)
	}
}

func TestLinksAndTypes(t *testing.T) {
	src, root := newSource(t)
	for rel, want := range map[string][2]string{
		"docs/guide/index.md":     {"doc", "https://example.com/docs/guide/"},
		"_index.md":               {"page", "https://example.com/"},
		"press/kit.md":            {"press", "https://example.com/press/kit/"},
		"products/mug.md":         {"product", "https://example.com/shop/mug"},
		"articles/renamed.md":     {"article", "https://example.com/articles/better-name/"},
		"articles/typed.markdown": {"tutorial", "https://elsewhere.org/x"},
	} {
		content := "body\n"
		switch rel {
		case "products/mug.md":
			content = "---\nurl: /shop/mug\n---\nbody\n"
		case "articles/renamed.md":
			content = "---\nslug: better-name\n---\nbody\n"
		case "articles/typed.markdown":
			content = "---\ntype: tutorial\nurl: https://elsewhere.org/x\n---\nbody\n"
		}
		doc, err := src.LoadFile(write(t, root, rel, content))
		require.NoError(t, err, rel)
		assert.Equal(t, want[0], doc.Type, rel)
		assert.Equal(t, want[1], doc.Link, rel)
	}
}

func TestCommerceFields(t *testing.T) {
	src, root := newSource(t)
	doc, err := src.LoadFile(write(t, root, "products/mug.md", `---
title: Mug
product:
  sku: M-1
  price: "$9.00"
  stock_status: instock
  stock_quantity: 5
---
Clay mug.
`))
	require.NoError(t, err)
	require.NotNil(t, doc.Commerce)
	assert.Equal(t, "M-1", doc.Commerce.SKU)
	assert.Equal(t, "$9.00", doc.Commerce.Price)
	require.NotNil(t, doc.Commerce.StockQuantity)
	assert.Equal(t, int64(5), *doc.Commerce.StockQuantity)
}

func TestFingerprintIgnoresStoredFingerprint(t *testing.T) {
	src, root := newSource(t)
	plain, err := src.LoadFile(write(t, root, "a.md", "---\ntitle: A\n---\nbody\n"))
	require.NoError(t, err)
	stamped, err := src.LoadFile(write(t, root, "a.md", "---\ntitle: A\nfingerprint: stale\n---\nbody\n"))
	require.NoError(t, err)
	assert.Equal(t, plain.Fingerprint, stamped.Fingerprint)

	edited, err := src.LoadFile(write(t, root, "a.md", "---\ntitle: A\n---\nnew body\n"))
	require.NoError(t, err)
	assert.NotEqual(t, plain.Fingerprint, edited.Fingerprint)
}

func TestDuplicateIDIsRejected(t *testing.T) {
	src, root := newSource(t)
	_, err := src.LoadFile(write(t, root, "one.md", "---\nid: 7\n---\nx\n"))
	require.NoError(t, err)
	_, err = src.LoadFile(write(t, root, "two.md", "---\nid: 7\n---\ny\n"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryAlreadyExists))
}

func TestInvalidFrontmatter(t *testing.T) {
	src, root := newSource(t)
	_, err := src.LoadFile(write(t, root, "broken.md", "---\ntitle: [unclosed\n---\nx\n"))
	require.Error(t, err)
	_, err = src.LoadFile(write(t, root, "open.md", "---\ntitle: x\nbody without close\n"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestForget(t *testing.T) {
	src, root := newSource(t)
	p := write(t, root, "posts/a.md", "---\nid: 1\n---\nx\n")
	write(t, root, "posts/deep/b.md", "---\nid: 2\n---\nx\n")
	write(t, root, "c.md", "---\nid: 3\n---\nx\n")
	_, err := src.Load(t.Context())
	require.NoError(t, err)

	id, ok := src.Forget(p)
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)
	_, ok = src.Forget(p)
	assert.False(t, ok)

	assert.Equal(t, []int64{2}, src.ForgetDir(filepath.Join(root, "posts")))
	_, err = src.Get(t.Context(), 3)
	assert.NoError(t, err)
}

func TestSplitFrontmatterCRLF(t *testing.T) {
	header, body, err := splitFrontmatter([]byte("---\r\ntitle: x\r\n---\r\nbody\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "title: x\r\n", string(header))
	assert.Equal(t, "body\r\n", string(body))

	header, body, err = splitFrontmatter([]byte("---\ntitle: x\n---"))
	require.NoError(t, err)
	assert.Equal(t, "title: x\n", string(header))
	assert.Empty(t, body)
}
