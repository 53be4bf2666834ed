package indexer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/llmstxt/internal/cache"
	"git.home.luguber.info/inful/llmstxt/internal/config"
	"git.home.luguber.info/inful/llmstxt/internal/database"
	"git.home.luguber.info/inful/llmstxt/internal/document"
	"git.home.luguber.info/inful/llmstxt/internal/visibility"
)

var published = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func newIndexer(t *testing.T, src document.Source, opts ...Option) (*Indexer, *cache.Store) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := cache.New(db)
	require.NoError(t, store.EnsureSchema(t.Context()))
	return New(config.Default().Export, store, src, opts...), store
}

func post(id int64, title string) *document.Document {
	return &document.Document{
		ID: id, Type: "post", Status: document.StatusPublished, Title: title,
		Link: "https://example.com/p/" + title, Content: "<p>Body of " + title + "</p>",
		PublishedAt: published.Add(time.Duration(id) * time.Hour),
	}
}

func TestRowDerivesCleanFields(t *testing.T) {
	ix, _ := newIndexer(t, document.NewMemorySource())
	doc := &document.Document{
		ID: 7, Type: "post", Status: document.StatusPublished,
		Title:           "Tips &amp; Tricks",
		Link:            "https://example.com/tips",
		Content:         `<div>Hello [caption]World[/caption]&nbsp;there</div>`,
		MetaDescription: "<b>Meta</b> text",
		CustomFields:    map[string]string{"_edit_lock": "1", "color": "<i>blue</i>"},
		Taxonomies: []document.Taxonomy{
			{Name: "category", Label: "Categories", Public: true, Terms: []document.Term{{Name: "News Items"}}},
			{Name: "internal", Public: false, Terms: []document.Term{{Name: "Hidden", Slug: "hidden"}}},
		},
	}

	row := ix.Row(t.Context(), doc)
	assert.Equal(t, "Hello World there", row.Content)
	assert.Equal(t, "Hello World there", row.Excerpt)
	assert.Equal(t, "Meta text", row.MetaDescription)
	assert.Equal(t, map[string]string{"color": "blue"}, row.CustomFields)
	require.Len(t, row.Terms, 1)
	assert.Equal(t, "news-items", row.Terms[0].Slug)
	assert.True(t, row.IsVisible())
	assert.Equal(t, "- [Tips & Tricks](https://example.com/tips): Meta text", row.Overview)
}

func TestOverviewFallsBackToExcerpt(t *testing.T) {
	ix, _ := newIndexer(t, document.NewMemorySource())
	line := ix.Overview(cache.Row{Title: "A", Link: "/a", Excerpt: "short  summary"})
	assert.Equal(t, "- [A](/a): short summary", line)
	assert.Equal(t, "- [B](/b)", ix.Overview(cache.Row{Title: "B", Link: "/b"}))
	assert.Equal(t, `- [\[draft\] C](/c)`, ix.Overview(cache.Row{Title: "[draft] C", Link: "/c"}))
}

func TestIndexHonoursEligibility(t *testing.T) {
	ix, store := newIndexer(t, document.NewMemorySource())
	ctx := t.Context()

	doc := post(1, "first")
	require.NoError(t, ix.Index(ctx, doc, false))
	_, err := store.Get(ctx, 1)
	require.NoError(t, err)

	draft := *doc
	draft.Status = "draft"
	require.NoError(t, ix.Index(ctx, &draft, false))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "unpublished documents leave the cache")

	product := post(2, "mug")
	product.Type = "product"
	require.NoError(t, ix.Index(ctx, product, false))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "types outside the include-set are never stored")
}

func TestIndexSkipsUnchangedFingerprint(t *testing.T) {
	clock := published
	ix, store := newIndexer(t, document.NewMemorySource(), WithClock(func() time.Time { return clock }))
	ctx := t.Context()

	doc := post(3, "third")
	doc.Fingerprint = "abc"
	require.NoError(t, ix.Index(ctx, doc, false))

	clock = clock.Add(time.Hour)
	require.NoError(t, ix.Index(ctx, doc, false))
	row, err := store.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, published, row.IndexedAt)

	require.NoError(t, ix.Index(ctx, doc, true))
	row, err = store.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, clock, row.IndexedAt)
}

func TestVisibilityRecorded(t *testing.T) {
	resolver := visibility.NewResolver(visibility.DefaultProviders())
	ix, store := newIndexer(t, document.NewMemorySource(), WithResolver(resolver))
	ctx := t.Context()

	doc := post(4, "hidden")
	doc.Meta = map[string]string{"_yoast_wpseo_meta-robots-noindex": "1"}
	require.NoError(t, ix.Index(ctx, doc, false))

	row, err := store.Get(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, row.Visible)
	assert.False(t, *row.Visible)
}

func TestRefreshRemovesVanishedDocuments(t *testing.T) {
	src := document.NewMemorySource(post(5, "fifth"))
	ix, store := newIndexer(t, src)
	ctx := t.Context()

	require.NoError(t, ix.Refresh(ctx, 5))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	src.Remove(5)
	require.NoError(t, ix.Refresh(ctx, 5))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRebuildWalksAndPrunes(t *testing.T) {
	src := document.NewMemorySource()
	for i := int64(1); i <= 7; i++ {
		src.Put(post(i, "p"+string(rune('a'+i))))
	}
	page := &document.Document{ID: 100, Type: "page", Status: document.StatusPublished, Title: "About", Link: "/about"}
	draft := &document.Document{ID: 101, Type: "page", Status: "draft", Title: "Draft"}
	src.Put(page)
	src.Put(draft)

	ix, store := newIndexer(t, src, WithBatchSize(3))
	ctx := t.Context()

	require.NoError(t, store.Upsert(ctx, cache.Row{DocumentID: 999, DocType: "post", Title: "gone"}))

	st, err := ix.Rebuild(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, Stats{Indexed: 8, Skipped: 1, Removed: 1}, st)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

type failingSource struct{ document.Source }

func (failingSource) List(context.Context, string, int, int) ([]*document.Document, error) {
	return nil, assert.AnError
}

func TestRebuildKeepsRowsWhenSourceFails(t *testing.T) {
	ix, store := newIndexer(t, failingSource{document.NewMemorySource()})
	ctx := t.Context()
	require.NoError(t, store.Upsert(ctx, cache.Row{DocumentID: 1, DocType: "post", Title: "kept"}))

	st, err := ix.Rebuild(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, st.Removed)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRebuildPageHookRunsBeforeEveryPage(t *testing.T) {
	src := document.NewMemorySource()
	for i := int64(1); i <= 4; i++ {
		src.Put(post(i, "p"+string(rune('a'+i))))
	}
	ix, store := newIndexer(t, src, WithBatchSize(2))
	ctx := t.Context()
	require.NoError(t, store.Upsert(ctx, cache.Row{DocumentID: 999, DocType: "post", Title: "stale"}))

	pages := 0
	_, err := ix.Rebuild(ctx, false, WithPageHook(func(context.Context) error {
		pages++
		if pages == 2 {
			return assert.AnError
		}
		return nil
	}))
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 2, pages)

	_, err = store.Get(ctx, 999)
	assert.NoError(t, err, "an interrupted walk prunes nothing")
	_, err = store.Get(ctx, 3)
	assert.Error(t, err, "the second page was never read")
}
