package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clientkit/syncstore/internal/storage"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	store, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestStorage_SetGet(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "state:orders:main", []byte(`{"version":1}`)))

	value, err := store.Get(ctx, "state:orders:main")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"version":1}`), value)

	// Upsert перезаписывает значение
	require.NoError(t, store.Set(ctx, "state:orders:main", []byte(`{"version":2}`)))
	value, err = store.Get(ctx, "state:orders:main")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"version":2}`), value)
}

func TestStorage_GetMissing(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.Get(context.Background(), "state:missing:main")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestStorage_Delete(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "queue:offline", []byte("payload")))
	require.NoError(t, store.Delete(ctx, "queue:offline"))

	_, err := store.Get(ctx, "queue:offline")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	assert.NoError(t, store.Delete(ctx, "queue:offline"))
}

func TestStorage_MigrationsApplied(t *testing.T) {
	store := newTestStorage(t)

	var count int
	err := store.DB().QueryRow(`SELECT COUNT(*) FROM kv_state`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}
