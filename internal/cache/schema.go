package cache

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"git.home.luguber.info/inful/llmstxt/internal/database"
)

const (
	tableRows  = "llms_txt_cache"
	tableTerms = "llms_txt_cache_terms"
)

const createRows = `
CREATE TABLE IF NOT EXISTS llms_txt_cache (
	document_id INTEGER PRIMARY KEY,
	is_visible INTEGER,
	status TEXT NOT NULL DEFAULT '',
	doc_type TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL DEFAULT '',
	sku TEXT,
	price TEXT,
	stock_status TEXT,
	stock_quantity INTEGER,
	product_type TEXT,
	excerpt TEXT,
	overview TEXT,
	meta_description TEXT,
	content TEXT,
	published_at INTEGER NOT NULL DEFAULT 0,
	modified_at INTEGER NOT NULL DEFAULT 0,
	custom_fields TEXT,
	fingerprint TEXT,
	indexed_at INTEGER
)`

const createTerms = `
CREATE TABLE IF NOT EXISTS llms_txt_cache_terms (
	document_id INTEGER NOT NULL,
	taxonomy TEXT NOT NULL,
	taxonomy_label TEXT,
	public INTEGER NOT NULL DEFAULT 1,
	name TEXT NOT NULL,
	slug TEXT NOT NULL,
	link TEXT,
	PRIMARY KEY (document_id, taxonomy, slug)
)`

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_llms_txt_cache_type_date ON llms_txt_cache(doc_type, published_at DESC, document_id DESC)",
	"CREATE INDEX IF NOT EXISTS idx_llms_txt_cache_terms_taxonomy ON llms_txt_cache_terms(taxonomy, slug)",
}

// legacyColumns maps column names of older cache tables to their current names.
var legacyColumns = []struct{ from, to string }{
	{"post_id", "document_id"},
	{"post_type", "doc_type"},
	{"post_title", "title"},
	{"post_date", "published_at"},
	{"post_modified", "modified_at"},
}

// additiveColumns are columns added after the first schema; they are created
// nullable on tables that predate them.
var additiveColumns = []struct{ name, decl string }{
	{"is_visible", "INTEGER"},
	{"status", "TEXT NOT NULL DEFAULT ''"},
	{"doc_type", "TEXT NOT NULL DEFAULT ''"},
	{"title", "TEXT NOT NULL DEFAULT ''"},
	{"link", "TEXT NOT NULL DEFAULT ''"},
	{"sku", "TEXT"},
	{"price", "TEXT"},
	{"stock_status", "TEXT"},
	{"stock_quantity", "INTEGER"},
	{"product_type", "TEXT"},
	{"excerpt", "TEXT"},
	{"overview", "TEXT"},
	{"meta_description", "TEXT"},
	{"content", "TEXT"},
	{"published_at", "INTEGER NOT NULL DEFAULT 0"},
	{"modified_at", "INTEGER NOT NULL DEFAULT 0"},
	{"custom_fields", "TEXT"},
	{"fingerprint", "TEXT"},
	{"indexed_at", "INTEGER"},
}

// EnsureSchema creates missing tables, renames legacy columns in place and
// adds missing columns. It is safe to call repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	err := database.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, createRows); err != nil {
			return fmt.Errorf("create %s: %w", tableRows, err)
		}
		if _, err := tx.ExecContext(ctx, createTerms); err != nil {
			return fmt.Errorf("create %s: %w", tableTerms, err)
		}
		if err := migrateColumns(ctx, tx); err != nil {
			return err
		}
		for _, stmt := range indexes {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create index: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return storageErr(err, "failed to ensure cache schema")
	}
	return nil
}

func migrateColumns(ctx context.Context, tx *sql.Tx) error {
	cols, err := database.Columns(ctx, tx, tableRows)
	if err != nil {
		return err
	}

	renamedDates := false
	for _, lc := range legacyColumns {
		if !slices.Contains(cols, lc.from) || slices.Contains(cols, lc.to) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", tableRows, lc.from, lc.to)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rename column %s: %w", lc.from, err)
		}
		cols = append(cols, lc.to)
		if lc.to == "published_at" || lc.to == "modified_at" {
			renamedDates = true
		}
	}

	for _, ac := range additiveColumns {
		if slices.Contains(cols, ac.name) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tableRows, ac.name, ac.decl)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", ac.name, err)
		}
		cols = append(cols, ac.name)
	}

	if renamedDates {
		// Legacy tables stored dates as "YYYY-MM-DD HH:MM:SS" text.
		for _, col := range []string{"published_at", "modified_at"} {
			if !slices.Contains(cols, col) {
				continue
			}
			stmt := fmt.Sprintf(
				"UPDATE %[1]s SET %[2]s = COALESCE(CAST(strftime('%%s', %[2]s) AS INTEGER), 0) WHERE typeof(%[2]s) = 'text'",
				tableRows, col)
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("convert legacy %s values: %w", col, err)
			}
		}
	}
	return nil
}

// Exists reports whether both cache tables are present.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	for _, table := range []string{tableRows, tableTerms} {
		ok, err := database.TableExists(ctx, s.db, table)
		if err != nil {
			return false, storageErr(err, "failed to inspect cache schema")
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
