package wrap

import (
	"path/filepath"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageCommon(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store Storage
	}{
		{
			name:  "mem",
			store: NewMemStorage(),
		},
		{
			name:  "prefix",
			store: KeyPrefixStorage(NewMemStorage(), "prefix"),
		},
	}

	if !testing.Short() {
		dir := filepath.Join(t.TempDir(), "badger")
		badgerStorage, err := NewBadgerStorage(dir, 64, false)
		require.NoError(t, err)
		t.Cleanup(func() { badgerStorage.Close() })

		tests = append(tests, struct {
			name  string
			store Storage
		}{
			name:  "badger",
			store: badgerStorage,
		})
	}

	for _, tc := range tests {
		t.Run(tc.name+"_put_clear", func(t *testing.T) {
			require.NoError(t, tc.store.Put("t1", []byte{1, 2, 3}))
			require.NoError(t, tc.store.Clear())

			keys, err := tc.store.Keys("")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})

		t.Run(tc.name+"_put_get_delete", func(t *testing.T) {
			data := []byte{1, 2, 3}
			require.NoError(t, tc.store.Put("t2", data))

			got, ok, err := tc.store.Get("t2")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, data, got)

			require.NoError(t, tc.store.Delete("t2"))
			_, ok, err = tc.store.Get("t2")
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run(tc.name+"_get_missing", func(t *testing.T) {
			got, ok, err := tc.store.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, got)
		})

		t.Run(tc.name+"_overwrite", func(t *testing.T) {
			require.NoError(t, tc.store.Put("t3", []byte("first")))
			require.NoError(t, tc.store.Put("t3", []byte("second")))

			got, ok, err := tc.store.Get("t3")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("second"), got)
		})

		t.Run(tc.name+"_keys_prefix", func(t *testing.T) {
			require.NoError(t, tc.store.Clear())
			for i := 0; i < 3; i++ {
				require.NoError(t, tc.store.Put("a:"+strconv.Itoa(i), []byte{byte(i)}))
			}
			require.NoError(t, tc.store.Put("b:0", []byte{9}))

			keys, err := tc.store.Keys("a:")
			require.NoError(t, err)
			slices.Sort(keys)
			assert.Equal(t, []string{"a:0", "a:1", "a:2"}, keys)

			all, err := tc.store.Keys("")
			require.NoError(t, err)
			assert.Len(t, all, 4)
		})
	}
}

func TestMemStorageCopiesBlobs(t *testing.T) {
	t.Parallel()

	store := NewMemStorage()
	data := []byte("abc")
	require.NoError(t, store.Put("k", data))
	data[0] = 'x'

	got, ok, err := store.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'y'
	again, _, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestKeyPrefixStorage(t *testing.T) {
	t.Parallel()

	t.Run("isolates_prefixes", func(t *testing.T) {
		base := NewMemStorage()
		first := KeyPrefixStorage(base, "one")
		second := KeyPrefixStorage(base, "two")

		require.NoError(t, first.Put("k", []byte{1}))
		require.NoError(t, second.Put("k", []byte{2}))

		got, ok, err := first.Get("k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte{1}, got)

		raw, ok, err := base.Get("two;k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte{2}, raw)
	})

	t.Run("clear_keeps_other_prefixes", func(t *testing.T) {
		base := NewMemStorage()
		first := KeyPrefixStorage(base, "one")
		second := KeyPrefixStorage(base, "two")
		require.NoError(t, first.Put("k", []byte{1}))
		require.NoError(t, second.Put("k", []byte{2}))

		require.NoError(t, first.Clear())

		keys, err := first.Keys("")
		require.NoError(t, err)
		assert.Empty(t, keys)
		keys, err = second.Keys("")
		require.NoError(t, err)
		assert.Equal(t, []string{"k"}, keys)
	})

	t.Run("empty_prefix", func(t *testing.T) {
		base := NewMemStorage()
		assert.Same(t, base, KeyPrefixStorage(base, ""))
	})
}

func TestBadgerStoragePersist(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping badger test in short mode")
	}

	t.Run("persisted", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "cache")
		store, err := NewBadgerStorage(dir, 16, true)
		require.NoError(t, err)
		require.NoError(t, store.Put("k", []byte("v")))
		store.Close()

		store, err = NewBadgerStorage(dir, 16, true)
		require.NoError(t, err)
		defer store.Close()
		got, ok, err := store.Get("k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("removed_on_close", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "cache")
		store, err := NewBadgerStorage(dir, 16, false)
		require.NoError(t, err)
		require.NoError(t, store.Put("k", []byte("v")))
		store.Close()

		assert.False(t, FileExists(dir))
	})
}
