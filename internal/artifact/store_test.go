package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, compatKey string) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), compatKey)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorePutGet(t *testing.T) {
	store := setupTestStore(t, "key-a")

	t.Run("missing digest", func(t *testing.T) {
		_, ok, err := store.Get("deadbeef")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("round-trip", func(t *testing.T) {
		blob := []byte("precompiled artifact bytes")
		require.NoError(t, store.Put("digest1", blob))

		got, ok, err := store.Get("digest1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, blob, got)
	})
}

func TestStoreInvalidateStale(t *testing.T) {
	dir := t.TempDir()

	old, err := Open(dir, "old-key")
	require.NoError(t, err)
	require.NoError(t, old.Put("digest1", []byte("stale")))
	require.NoError(t, old.Put("digest2", []byte("stale too")))
	require.NoError(t, old.Close())

	current, err := Open(dir, "new-key")
	require.NoError(t, err)
	defer current.Close()
	require.NoError(t, current.Put("digest1", []byte("fresh")))

	removed, err := current.InvalidateStale()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// The current-key entry survives.
	got, ok, err := current.Get("digest1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), got)

	// Re-running is a no-op.
	removed, err = current.InvalidateStale()
	require.NoError(t, err)
	assert.Zero(t, removed)
}
