package database

import (
	"database/sql"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"), WithMkdirAll())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAppliesPragmas(t *testing.T) {
	db := openTemp(t)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 10_000, timeout)
}

func TestRunTxCommitsAndRollsBack(t *testing.T) {
	db := openTemp(t)
	ctx := t.Context()

	_, err := Exec(ctx, db, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	require.NoError(t, RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (1)")
		return err
	}))

	boom := stderrors.New("boom")
	err = RunTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (2)"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSchemaInspection(t *testing.T) {
	db := openTemp(t)
	ctx := t.Context()

	ok, err := TableExists(ctx, db, "things")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Exec(ctx, db, "CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	ok, err = TableExists(ctx, db, "things")
	require.NoError(t, err)
	assert.True(t, ok)

	cols, err := Columns(ctx, db, "things")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(stderrors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsBusy(stderrors.New("no such table")))
	assert.False(t, IsBusy(nil))
}

func TestOpenMemorySingleConnection(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec("CREATE TABLE m (v INTEGER)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO m VALUES (1)")
	require.NoError(t, err)
}
