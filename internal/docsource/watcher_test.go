package docsource

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/llmstxt/internal/document"
)

type changes struct {
	mu       sync.Mutex
	upserted []string
	deleted  []int64
}

func (c *changes) OnDocumentUpserted(_ context.Context, doc *document.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserted = append(c.upserted, doc.Title)
	return nil
}

func (c *changes) OnDocumentDeleted(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *changes) OnTaxonomyChanged(context.Context, int64) error { return nil }

func (c *changes) titles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.upserted...)
}

func newWatcher(t *testing.T) (*Watcher, *Markdown, *changes, string) {
	t.Helper()
	src, root := newSource(t)
	ch := &changes{}
	w, err := NewWatcher(src, ch, nil)
	require.NoError(t, err)
	return w, src, ch, root
}

func TestWatcherHandlesWriteAndRemove(t *testing.T) {
	w, src, ch, root := newWatcher(t)
	t.Cleanup(func() { _ = w.fs.Close() })
	ctx := t.Context()

	p := write(t, root, "posts/a.md", "---\nid: 5\ntitle: First\n---\nx\n")
	w.handle(ctx, fsnotify.Event{Name: p, Op: fsnotify.Create})
	write(t, root, "posts/a.md", "---\nid: 5\ntitle: Second\n---\nx\n")
	w.handle(ctx, fsnotify.Event{Name: p, Op: fsnotify.Write})
	w.handle(ctx, fsnotify.Event{Name: write(t, root, "posts/notes.txt", "skip"), Op: fsnotify.Create})

	doc, err := src.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "Second", doc.Title)
	assert.Equal(t, []string{"First", "Second"}, ch.titles())

	require.NoError(t, os.Remove(p))
	w.handle(ctx, fsnotify.Event{Name: p, Op: fsnotify.Remove})
	assert.Equal(t, []int64{5}, ch.deleted)
	_, err = src.Get(ctx, 5)
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestWatcherRenamedDirectoryDropsDocuments(t *testing.T) {
	w, src, ch, root := newWatcher(t)
	t.Cleanup(func() { _ = w.fs.Close() })
	write(t, root, "guides/a.md", "---\nid: 1\n---\nx\n")
	write(t, root, "guides/b.md", "---\nid: 2\n---\nx\n")
	_, err := src.Load(t.Context())
	require.NoError(t, err)

	w.handle(t.Context(), fsnotify.Event{Name: filepath.Join(root, "guides"), Op: fsnotify.Rename})
	assert.Equal(t, []int64{1, 2}, ch.deleted)
}

func TestWatcherPicksUpNewDirectory(t *testing.T) {
	w, _, ch, root := newWatcher(t)
	t.Cleanup(func() { _ = w.fs.Close() })
	write(t, root, "fresh/one.md", "---\ntitle: One\n---\nx\n")

	w.handle(t.Context(), fsnotify.Event{Name: filepath.Join(root, "fresh"), Op: fsnotify.Create})
	assert.Equal(t, []string{"One"}, ch.titles())
	assert.Contains(t, w.fs.WatchList(), filepath.Join(root, "fresh"))
}

func TestWatcherRunReportsFileChanges(t *testing.T) {
	w, _, ch, root := newWatcher(t)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(w.fs.WatchList()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	write(t, root, "live.md", "---\ntitle: Live\n---\nx\n")
	require.Eventually(t, func() bool {
		for _, title := range ch.titles() {
			if title == "Live" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
