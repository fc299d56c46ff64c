package index

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex(path string, size, modified int64) NameIndex {
	return NameIndex{
		"a.txt": {
			Object:   &FileObject{Path: path, Name: "a.txt", Size: &size, ModTime: modified},
			Modified: modified,
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()

	store, err := NewFileStore(fs, "/data/.replisync/index.json.gz", StoreConfig{})
	require.NoError(t, err)

	ni := testIndex("/a.txt", 4, 100)
	require.NoError(t, store.Save("/", ni))
	require.NoError(t, store.Close())

	// Reopen and verify persisted state survived compression and rename.
	reopened, err := NewFileStore(fs, "/data/.replisync/index.json.gz", StoreConfig{})
	require.NoError(t, err)
	loaded, err := reopened.Load("/")
	require.NoError(t, err)
	require.Contains(t, loaded, "a.txt")
	assert.Equal(t, int64(100), loaded["a.txt"].Modified)
	assert.Equal(t, int64(4), *loaded["a.txt"].Object.Size)

	missing, err := reopened.Load("/nowhere")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFileStoreLoadReturnsCopy(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFileStore(fs, "/idx.json.gz", StoreConfig{})
	require.NoError(t, err)

	require.NoError(t, store.Save("/", testIndex("/a.txt", 4, 100)))
	first, err := store.Load("/")
	require.NoError(t, err)
	first["a.txt"].Modified = 999

	second, err := store.Load("/")
	require.NoError(t, err)
	assert.Equal(t, int64(100), second["a.txt"].Modified)
}

func TestFileStoreThrottleDefersWrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockwork.NewFakeClock()
	store, err := NewFileStore(fs, "/idx.json.gz", StoreConfig{
		WriteThrottle: time.Minute,
		Clock:         clock,
	})
	require.NoError(t, err)

	// First save inside a fresh store writes through (lastWrite is zero).
	require.NoError(t, store.Save("/", testIndex("/a.txt", 4, 100)))
	exists, err := afero.Exists(fs, "/idx.json.gz")
	require.NoError(t, err)
	require.True(t, exists)

	// A save inside the throttle window must not rewrite the file: a fresh
	// store reading the same file still sees the first state.
	require.NoError(t, store.Save("/", testIndex("/a.txt", 8, 200)))
	stale, err := NewFileStore(fs, "/idx.json.gz", StoreConfig{})
	require.NoError(t, err)
	staleIdx, err := stale.Load("/")
	require.NoError(t, err)
	assert.Equal(t, int64(100), staleIdx["a.txt"].Modified)

	// After the window elapses, the next save writes through again.
	clock.Advance(2 * time.Minute)
	require.NoError(t, store.Save("/", testIndex("/a.txt", 8, 300)))

	reopened, err := NewFileStore(fs, "/idx.json.gz", StoreConfig{})
	require.NoError(t, err)
	loaded, err := reopened.Load("/")
	require.NoError(t, err)
	assert.Equal(t, int64(300), loaded["a.txt"].Modified)
}

func TestFileStoreFlushWritesDeferredState(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockwork.NewFakeClock()
	store, err := NewFileStore(fs, "/idx.json.gz", StoreConfig{
		WriteThrottle: time.Hour,
		Clock:         clock,
	})
	require.NoError(t, err)

	require.NoError(t, store.Save("/", testIndex("/a.txt", 4, 100)))
	require.NoError(t, store.Save("/", testIndex("/a.txt", 4, 500))) // deferred
	require.NoError(t, store.Flush())

	reopened, err := NewFileStore(fs, "/idx.json.gz", StoreConfig{})
	require.NoError(t, err)
	loaded, err := reopened.Load("/")
	require.NoError(t, err)
	assert.Equal(t, int64(500), loaded["a.txt"].Modified)
}

func TestFileStoreDeleteTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFileStore(fs, "/idx.json.gz", StoreConfig{})
	require.NoError(t, err)

	require.NoError(t, store.Save("/folder", testIndex("/folder/a.txt", 4, 100)))
	require.NoError(t, store.Save("/folder/nested", testIndex("/folder/nested/b.txt", 2, 100)))
	require.NoError(t, store.Save("/other", testIndex("/other/c.txt", 1, 100)))

	require.NoError(t, store.DeleteTree("/folder"))
	require.NoError(t, store.Flush())

	gone, err := store.Load("/folder")
	require.NoError(t, err)
	assert.Nil(t, gone)
	goneNested, err := store.Load("/folder/nested")
	require.NoError(t, err)
	assert.Nil(t, goneNested)
	kept, err := store.Load("/other")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
