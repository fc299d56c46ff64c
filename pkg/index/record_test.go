package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileObject(path string, size int64, modTime int64) *FileObject {
	return &FileObject{Path: path, Name: path[len(path)-1:], Size: &size, ModTime: modTime}
}

func TestFileObjectKind(t *testing.T) {
	size := int64(4)
	file := &FileObject{Path: "/a.txt", Name: "a.txt", Size: &size}
	dir := &FileObject{Path: "/folder", Name: "folder"}

	assert.True(t, file.IsFile())
	assert.False(t, file.IsDir())
	assert.True(t, dir.IsDir())
	assert.False(t, dir.IsFile())
	assert.Equal(t, int64(4), file.SizeValue())
	assert.Equal(t, int64(0), dir.SizeValue())

	var nilObj *FileObject
	assert.False(t, nilObj.IsFile())
	assert.False(t, nilObj.IsDir())
}

func TestRecordCloneIsStructural(t *testing.T) {
	rec := &Record{Object: fileObject("/a.txt", 4, 100), Modified: 100, Deleted: 0}
	cp := rec.Clone()

	require.NotSame(t, rec, cp)
	require.NotSame(t, rec.Object, cp.Object)
	require.NotSame(t, rec.Object.Size, cp.Object.Size)
	assert.Equal(t, rec, cp)

	// Mutating the clone must not leak into the original.
	*cp.Object.Size = 99
	cp.Modified = 1
	assert.Equal(t, int64(4), *rec.Object.Size)
	assert.Equal(t, int64(100), rec.Modified)
}

func TestSyntheticClearsStateButKeepsIdentity(t *testing.T) {
	rec := &Record{Object: fileObject("/a.txt", 4, 100), Modified: 100, Deleted: 200}
	synth := rec.Synthetic()

	assert.Equal(t, NeverModified, synth.Modified)
	assert.False(t, synth.IsTombstone())
	assert.Equal(t, "/a.txt", synth.Object.Path)
	// The source tombstone is untouched.
	assert.True(t, rec.IsTombstone())
}

func TestNameIndexClone(t *testing.T) {
	ni := NameIndex{
		"a.txt": {Object: fileObject("/a.txt", 4, 100), Modified: 100},
	}
	cp := ni.Clone()
	cp["a.txt"].Modified = 7
	assert.Equal(t, int64(100), ni["a.txt"].Modified)

	var nilIdx NameIndex
	assert.Nil(t, nilIdx.Clone())
}
