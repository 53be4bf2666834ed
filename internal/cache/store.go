package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/database"
	"git.home.luguber.info/inful/llmstxt/internal/document"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

const rowColumns = `document_id, is_visible, status, doc_type, title, link,
	sku, price, stock_status, stock_quantity, product_type,
	excerpt, overview, meta_description, content, published_at, modified_at,
	custom_fields, fingerprint, indexed_at`

const visibleClause = "(is_visible IS NULL OR is_visible = 1)"

// Store is the SQLite-backed cache table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
	keys   keyLocks
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithClock overrides the clock used for indexed_at.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns a Store over db. Call EnsureSchema before first use.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert fully replaces the row and terms of row.DocumentID in one transaction.
// Writes for the same document are serialized; last write wins.
func (s *Store) Upsert(ctx context.Context, row Row) error {
	unlock := s.keys.lock(row.DocumentID)
	defer unlock()

	if row.IndexedAt.IsZero() {
		row.IndexedAt = s.now()
	}
	customFields, err := encodeFields(row.CustomFields)
	if err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "failed to encode custom fields").
			WithContext("document_id", row.DocumentID).Build()
	}

	var sku, price, stockStatus, productType sql.NullString
	var stockQty sql.NullInt64
	if c := row.Commerce; c != nil {
		sku = sql.NullString{String: c.SKU, Valid: true}
		price = sql.NullString{String: c.Price, Valid: true}
		stockStatus = sql.NullString{String: c.StockStatus, Valid: true}
		productType = sql.NullString{String: c.ProductType, Valid: true}
		if c.StockQuantity != nil {
			stockQty = sql.NullInt64{Int64: *c.StockQuantity, Valid: true}
		}
	}
	var visible sql.NullInt64
	if row.Visible != nil {
		visible = sql.NullInt64{Int64: boolInt(*row.Visible), Valid: true}
	}

	err = database.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO llms_txt_cache (`+rowColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(document_id) DO UPDATE SET
				is_visible = excluded.is_visible,
				status = excluded.status,
				doc_type = excluded.doc_type,
				title = excluded.title,
				link = excluded.link,
				sku = excluded.sku,
				price = excluded.price,
				stock_status = excluded.stock_status,
				stock_quantity = excluded.stock_quantity,
				product_type = excluded.product_type,
				excerpt = excluded.excerpt,
				overview = excluded.overview,
				meta_description = excluded.meta_description,
				content = excluded.content,
				published_at = excluded.published_at,
				modified_at = excluded.modified_at,
				custom_fields = excluded.custom_fields,
				fingerprint = excluded.fingerprint,
				indexed_at = excluded.indexed_at`,
			row.DocumentID, visible, row.Status, row.DocType, row.Title, row.Link,
			sku, price, stockStatus, stockQty, productType,
			row.Excerpt, row.Overview, row.MetaDescription, row.Content,
			unix(row.PublishedAt), unix(row.ModifiedAt),
			customFields, nullString(row.Fingerprint), unix(row.IndexedAt))
		if err != nil {
			return fmt.Errorf("upsert row: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM llms_txt_cache_terms WHERE document_id = ?", row.DocumentID); err != nil {
			return fmt.Errorf("clear terms: %w", err)
		}
		for _, t := range row.Terms {
			_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO llms_txt_cache_terms
				(document_id, taxonomy, taxonomy_label, public, name, slug, link) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				row.DocumentID, t.Taxonomy, t.TaxonomyLabel, boolInt(t.Public), t.Name, t.Slug, t.Link)
			if err != nil {
				return fmt.Errorf("insert term %s/%s: %w", t.Taxonomy, t.Slug, err)
			}
		}
		return nil
	})
	if err != nil {
		return storageErr(err, "failed to upsert cache row").WithContext("document_id", row.DocumentID)
	}
	s.logger.DebugContext(ctx, "Cache row upserted", logfields.DocumentID(row.DocumentID), logfields.DocType(row.DocType))
	return nil
}

// Delete removes a row and its terms. Unknown ids are a no-op.
func (s *Store) Delete(ctx context.Context, id int64) error {
	unlock := s.keys.lock(id)
	defer unlock()

	err := database.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM llms_txt_cache_terms WHERE document_id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM llms_txt_cache WHERE document_id = ?", id)
		return err
	})
	if err != nil {
		return storageErr(err, "failed to delete cache row").WithContext("document_id", id)
	}
	return nil
}

// Get returns the row for id including its terms.
func (s *Store) Get(ctx context.Context, id int64) (*Row, error) {
	row, err := scanRow(s.db.QueryRowContext(ctx, "SELECT "+rowColumns+" FROM llms_txt_cache WHERE document_id = ?", id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError("cache row not found").WithContext("document_id", id).Build()
	}
	if err != nil {
		return nil, storageErr(err, "failed to read cache row").WithContext("document_id", id)
	}
	terms, err := s.Terms(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	row.Terms = terms[id]
	return row, nil
}

// Count returns the number of cached rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM llms_txt_cache").Scan(&n); err != nil {
		return 0, storageErr(err, "failed to count cache rows")
	}
	return n, nil
}

// CountByType returns the number of rows of docType, optionally visible ones only.
func (s *Store) CountByType(ctx context.Context, docType string, visibleOnly bool) (int, error) {
	q := "SELECT COUNT(*) FROM llms_txt_cache WHERE doc_type = ?"
	if visibleOnly {
		q += " AND " + visibleClause
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, docType).Scan(&n); err != nil {
		return 0, storageErr(err, "failed to count cache rows").WithContext("doc_type", docType)
	}
	return n, nil
}

// Page returns rows of docType ordered by published_at DESC, document_id DESC.
// Terms are not loaded; use Terms for the ids of a page.
func (s *Store) Page(ctx context.Context, docType string, visibleOnly bool, offset, limit int) ([]Row, error) {
	q := "SELECT " + rowColumns + " FROM llms_txt_cache WHERE doc_type = ?"
	if visibleOnly {
		q += " AND " + visibleClause
	}
	q += " ORDER BY published_at DESC, document_id DESC LIMIT ? OFFSET ?"

	rows, err := s.query(ctx, q, docType, limit, offset)
	if err != nil {
		return nil, storageErr(err, "failed to page cache rows").
			WithContext("doc_type", docType).WithContext("offset", offset)
	}
	return rows, nil
}

// Recent returns the newest visible rows across types.
func (s *Store) Recent(ctx context.Context, types []string, limit int) ([]Row, error) {
	if len(types) == 0 || limit <= 0 {
		return nil, nil
	}
	args := make([]any, 0, len(types)+1)
	for _, t := range types {
		args = append(args, t)
	}
	args = append(args, limit)
	q := "SELECT " + rowColumns + " FROM llms_txt_cache WHERE doc_type IN (" + placeholders(len(types)) + ") AND " +
		visibleClause + " ORDER BY published_at DESC, document_id DESC LIMIT ?"

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, storageErr(err, "failed to read recent cache rows")
	}
	return rows, nil
}

// TopTerms returns the public terms of taxonomy used by the most visible rows.
func (s *Store) TopTerms(ctx context.Context, taxonomy string, limit int) ([]TermCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT t.name, t.slug, COALESCE(MAX(t.link), ''), COUNT(*) AS n
		FROM llms_txt_cache_terms t
		JOIN llms_txt_cache c ON c.document_id = t.document_id
		WHERE t.taxonomy = ? AND t.public = 1 AND (c.is_visible IS NULL OR c.is_visible = 1)
		GROUP BY t.slug, t.name
		ORDER BY n DESC, t.name ASC
		LIMIT ?`, taxonomy, limit)
	if err != nil {
		return nil, storageErr(err, "failed to read top terms").WithContext("taxonomy", taxonomy)
	}
	defer func() { _ = rows.Close() }()

	var out []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Name, &tc.Slug, &tc.Link, &tc.Count); err != nil {
			return nil, storageErr(err, "failed to scan top term")
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "failed to iterate top terms")
	}
	return out, nil
}

// Terms returns the terms of ids, keyed by document id, ordered by taxonomy and name.
func (s *Store) Terms(ctx context.Context, ids []int64) (map[int64][]Term, error) {
	out := make(map[int64][]Term, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT document_id, taxonomy, COALESCE(taxonomy_label, ''), public, name, slug, COALESCE(link, '')
		FROM llms_txt_cache_terms WHERE document_id IN (`+placeholders(len(ids))+`)
		ORDER BY document_id, taxonomy, name`, args...)
	if err != nil {
		return nil, storageErr(err, "failed to read cache terms")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		var t Term
		var public int64
		if err := rows.Scan(&id, &t.Taxonomy, &t.TaxonomyLabel, &public, &t.Name, &t.Slug, &t.Link); err != nil {
			return nil, storageErr(err, "failed to scan cache term")
		}
		t.Public = public != 0
		out[id] = append(out[id], t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "failed to iterate cache terms")
	}
	return out, nil
}

// IDs returns the ids of every cached row.
func (s *Store) IDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT document_id FROM llms_txt_cache ORDER BY document_id")
	if err != nil {
		return nil, storageErr(err, "failed to list cache ids")
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr(err, "failed to scan cache id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "failed to iterate cache ids")
	}
	return ids, nil
}

// Clear removes every row and term.
func (s *Store) Clear(ctx context.Context) error {
	err := database.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM llms_txt_cache_terms"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM llms_txt_cache")
		return err
	})
	if err != nil {
		return storageErr(err, "failed to clear cache")
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (*Row, error) {
	var (
		r                                                   Row
		visible, stockQty, indexedAt                        sql.NullInt64
		sku, price, stockStatus, productType                sql.NullString
		excerpt, overview, metaDesc, content, fields, fprnt sql.NullString
		published, modified                                 int64
	)
	err := sc.Scan(&r.DocumentID, &visible, &r.Status, &r.DocType, &r.Title, &r.Link,
		&sku, &price, &stockStatus, &stockQty, &productType,
		&excerpt, &overview, &metaDesc, &content, &published, &modified,
		&fields, &fprnt, &indexedAt)
	if err != nil {
		return nil, err
	}

	if visible.Valid {
		r.Visible = Bool(visible.Int64 != 0)
	}
	if sku.Valid || price.Valid || stockStatus.Valid || productType.Valid || stockQty.Valid {
		r.Commerce = &document.Commerce{
			SKU:         sku.String,
			Price:       price.String,
			StockStatus: stockStatus.String,
			ProductType: productType.String,
		}
		if stockQty.Valid {
			q := stockQty.Int64
			r.Commerce.StockQuantity = &q
		}
	}
	r.Excerpt = excerpt.String
	r.Overview = overview.String
	r.MetaDescription = metaDesc.String
	r.Content = content.String
	r.PublishedAt = fromUnix(published)
	r.ModifiedAt = fromUnix(modified)
	r.Fingerprint = fprnt.String
	if indexedAt.Valid {
		r.IndexedAt = fromUnix(indexedAt.Int64)
	}
	if fields.Valid && fields.String != "" {
		if err := json.Unmarshal([]byte(fields.String), &r.CustomFields); err != nil {
			return nil, fmt.Errorf("decode custom fields of %d: %w", r.DocumentID, err)
		}
	}
	return &r, nil
}

// IsMissingTable reports whether err stems from an absent cache table.
func IsMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func storageErr(err error, msg string) *errors.ClassifiedError {
	return errors.WrapError(err, errors.CategoryStorage, msg).Build()
}

func encodeFields(fields map[string]string) (sql.NullString, error) {
	if len(fields) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

// keyLocks serializes work per document id.
type keyLocks struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(id int64) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*keyLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &keyLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
