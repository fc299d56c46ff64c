package snapshot

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replisync/replisync/pkg/localfs"
)

func newReplica(t *testing.T) (*localfs.Accessor, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	acc, err := localfs.New(localfs.Config{
		Root:  "/replica",
		Fs:    fs,
		Clock: clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { acc.Close() })
	return acc, fs
}

func write(t *testing.T, fs afero.Fs, path, content string, modTime time.Time) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	require.NoError(t, fs.Chtimes(path, modTime, modTime))
}

func TestExportImportRoundTrip(t *testing.T) {
	src, srcFs := newReplica(t)
	ctx := context.Background()
	mtime := time.UnixMilli(1_699_000_000_000)

	write(t, srcFs, "/replica/doc.txt", "hello", mtime)
	require.NoError(t, srcFs.MkdirAll("/replica/photos", 0o755))
	require.NoError(t, srcFs.Chtimes("/replica/photos", mtime, mtime))
	write(t, srcFs, "/replica/photos/cat.jpg", "meow", mtime)
	require.NoError(t, srcFs.MkdirAll("/replica/empty", 0o755))
	require.NoError(t, srcFs.Chtimes("/replica/empty", mtime, mtime))

	var buf bytes.Buffer
	exported, err := Export(ctx, src, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, exported.Files)
	assert.Equal(t, 2, exported.Dirs)
	assert.Equal(t, int64(9), exported.Bytes)
	require.Greater(t, buf.Len(), 0)

	dst, dstFs := newReplica(t)
	imported, err := Import(ctx, bytes.NewReader(buf.Bytes()), dst)
	require.NoError(t, err)
	assert.Equal(t, exported, imported)

	data, err := afero.ReadFile(dstFs, "/replica/doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	data, err = afero.ReadFile(dstFs, "/replica/photos/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))

	info, err := dstFs.Stat("/replica/doc.txt")
	require.NoError(t, err)
	assert.Equal(t, mtime.UnixMilli(), info.ModTime().UnixMilli())

	empty, err := dstFs.Stat("/replica/empty")
	require.NoError(t, err)
	assert.True(t, empty.IsDir())
}

func TestExportSkipsTombstones(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	acc, err := localfs.New(localfs.Config{Root: "/replica", Fs: fs, Clock: clock})
	require.NoError(t, err)
	defer acc.Close()
	ctx := context.Background()

	write(t, fs, "/replica/keep.txt", "hoge", time.UnixMilli(5000))
	write(t, fs, "/replica/gone.txt", "fuga", time.UnixMilli(5000))
	_, err = acc.ListIndex(ctx, "/")
	require.NoError(t, err)

	// gone.txt now has a tombstone record but no content.
	require.NoError(t, fs.Remove("/replica/gone.txt"))
	clock.Advance(time.Minute)

	var buf bytes.Buffer
	sum, err := Export(ctx, acc, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Files)

	dst, dstFs := newReplica(t)
	_, err = Import(ctx, &buf, dst)
	require.NoError(t, err)
	exists, err := afero.Exists(dstFs, "/replica/gone.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestImportRejectsGarbage(t *testing.T) {
	dst, _ := newReplica(t)
	_, err := Import(context.Background(), bytes.NewReader([]byte("not an archive")), dst)
	require.Error(t, err)
}
