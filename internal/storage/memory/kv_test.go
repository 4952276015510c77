package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clientkit/syncstore/internal/storage"
)

func TestStorage_SetGetDelete(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "state:orders:main", []byte("snapshot")))

	value, err := store.Get(ctx, "state:orders:main")
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot"), value)

	require.NoError(t, store.Delete(ctx, "state:orders:main"))
	_, err = store.Get(ctx, "state:orders:main")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestStorage_GetReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("abc")))

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	value[0] = 'x' // мутация копии не трогает хранилище

	again, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestStorage_Closed(t *testing.T) {
	store := New()
	require.NoError(t, store.Close())

	ctx := context.Background()
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, store.Set(ctx, "k", nil), storage.ErrStorageClosed)
	assert.ErrorIs(t, store.Delete(ctx, "k"), storage.ErrStorageClosed)
}
