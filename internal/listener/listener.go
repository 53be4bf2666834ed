// Package listener keeps the cache in step with the document store.
//
// The store reports changes through ChangeListener. Cache is the standard
// implementation: it re-indexes the affected row and, in immediate update
// mode, asks for a debounced regeneration. NATSSubscriber turns change events
// published on a NATS subject into ChangeListener calls.
package listener

import (
	"context"
	"log/slog"
	"strconv"

	"git.home.luguber.info/inful/llmstxt/internal/config"
	"git.home.luguber.info/inful/llmstxt/internal/document"
	"git.home.luguber.info/inful/llmstxt/internal/indexer"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

// ChangeListener receives document store change notifications.
type ChangeListener interface {
	OnDocumentUpserted(ctx context.Context, doc *document.Document) error
	OnDocumentDeleted(ctx context.Context, id int64) error
	OnTaxonomyChanged(ctx context.Context, documentID int64) error
}

// Requester accepts regeneration requests. *Debouncer implements it.
type Requester interface {
	Request(reason string)
}

// Cache is the ChangeListener that updates cache rows.
type Cache struct {
	indexer   *indexer.Indexer
	mode      config.UpdateMode
	requester Requester
	logger    *slog.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithRequester sets where regeneration requests go in immediate mode.
func WithRequester(r Requester) CacheOption { return func(c *Cache) { c.requester = r } }

// WithLogger sets the listener logger.
func WithLogger(l *slog.Logger) CacheOption { return func(c *Cache) { c.logger = l } }

// NewCache returns a Cache writing through ix.
func NewCache(ix *indexer.Indexer, mode config.UpdateMode, opts ...CacheOption) *Cache {
	c := &Cache{indexer: ix, mode: mode, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ChangeListener = (*Cache)(nil)

// OnDocumentUpserted re-indexes doc. Documents that stopped being eligible
// lose their row.
func (c *Cache) OnDocumentUpserted(ctx context.Context, doc *document.Document) error {
	if doc == nil {
		return nil
	}
	if err := c.indexer.Index(ctx, doc, false); err != nil {
		c.logger.ErrorContext(ctx, "Failed to update cache row",
			logfields.DocumentID(doc.ID), logfields.DocType(doc.Type), logfields.Error(err))
		return err
	}
	c.logger.DebugContext(ctx, "Cache row updated", logfields.DocumentID(doc.ID), logfields.DocType(doc.Type))
	c.request("upsert " + strconv.FormatInt(doc.ID, 10))
	return nil
}

// OnDocumentDeleted removes the row of id.
func (c *Cache) OnDocumentDeleted(ctx context.Context, id int64) error {
	if err := c.indexer.Remove(ctx, id); err != nil {
		c.logger.ErrorContext(ctx, "Failed to delete cache row", logfields.DocumentID(id), logfields.Error(err))
		return err
	}
	c.logger.DebugContext(ctx, "Cache row deleted", logfields.DocumentID(id))
	c.request("delete " + strconv.FormatInt(id, 10))
	return nil
}

// OnTaxonomyChanged re-reads documentID so its terms are current.
func (c *Cache) OnTaxonomyChanged(ctx context.Context, documentID int64) error {
	if err := c.indexer.Refresh(ctx, documentID); err != nil {
		c.logger.ErrorContext(ctx, "Failed to refresh cache row terms", logfields.DocumentID(documentID), logfields.Error(err))
		return err
	}
	c.request("terms " + strconv.FormatInt(documentID, 10))
	return nil
}

func (c *Cache) request(reason string) {
	if c.mode != config.UpdateImmediate || c.requester == nil {
		return
	}
	c.requester.Request(reason)
}
