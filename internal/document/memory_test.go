package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySourceListPagesByID(t *testing.T) {
	src := NewMemorySource(
		&Document{ID: 3, Type: "post"},
		&Document{ID: 1, Type: "post"},
		&Document{ID: 2, Type: "page"},
		&Document{ID: 5, Type: "post"},
	)
	ctx := t.Context()

	first, err := src.List(ctx, "post", 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(1), first[0].ID)
	assert.Equal(t, int64(3), first[1].ID)

	rest, err := src.List(ctx, "post", 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(5), rest[0].ID)

	none, err := src.List(ctx, "post", 3, 2)
	require.NoError(t, err)
	assert.Empty(t, none)

	types, err := src.Types(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"page", "post"}, types)
}

func TestMemorySourceGetPutRemove(t *testing.T) {
	src := NewMemorySource()
	ctx := t.Context()

	_, err := src.Get(ctx, 7)
	require.ErrorIs(t, err, ErrNotFound)

	src.Put(&Document{ID: 7, Title: "Seven", Status: StatusPublished})
	d, err := src.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Seven", d.Title)
	assert.True(t, d.Published())

	src.Remove(7)
	src.Remove(7)
	_, err = src.Get(ctx, 7)
	require.ErrorIs(t, err, ErrNotFound)
}
