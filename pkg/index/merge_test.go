package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileObj(name string, size, modTime int64) *FileObject {
	return &FileObject{Path: "/" + name, Name: name, Size: &size, ModTime: modTime}
}

func TestMergeObservedStampsNewAndChangedEntries(t *testing.T) {
	persisted := NameIndex{
		"same.txt":  {Object: fileObj("same.txt", 4, 100), Modified: 100},
		"grown.txt": {Object: fileObj("grown.txt", 4, 100), Modified: 100},
	}
	observed := []*FileObject{
		fileObj("same.txt", 4, 100),
		fileObj("grown.txt", 9, 250),
		fileObj("new.txt", 2, 300),
	}

	ni := MergeObserved(persisted, observed, 1000)
	require.Len(t, ni, 3)
	assert.Equal(t, int64(100), ni["same.txt"].Modified, "unchanged file keeps its stamp")
	assert.Equal(t, int64(250), ni["grown.txt"].Modified, "changed file is restamped")
	assert.Equal(t, int64(300), ni["new.txt"].Modified)
}

func TestMergeObservedTombstonesMissingLiveEntries(t *testing.T) {
	persisted := NameIndex{
		"gone.txt": {Object: fileObj("gone.txt", 4, 100), Modified: 100},
	}

	ni := MergeObserved(persisted, nil, 1000)
	require.Contains(t, ni, "gone.txt")
	assert.Equal(t, int64(1000), ni["gone.txt"].Deleted)
	assert.True(t, ni["gone.txt"].IsTombstone())
}

func TestMergeObservedKeepsExistingTombstoneStamp(t *testing.T) {
	persisted := NameIndex{
		"dead.txt": {Object: fileObj("dead.txt", 4, 100), Modified: 100, Deleted: 500},
	}

	ni := MergeObserved(persisted, nil, 1000)
	require.Contains(t, ni, "dead.txt")
	assert.Equal(t, int64(500), ni["dead.txt"].Deleted, "a known deletion is not restamped")
}

func TestMergeObservedDropsNeverModifiedAbsentEntries(t *testing.T) {
	// A never-modified record describes an object that was never created on
	// this replica. Treating its absence as a deletion would manufacture a
	// tombstone newer than the real object's Modified and delete it on the
	// other side.
	persisted := NameIndex{
		"pending.txt": {Object: fileObj("pending.txt", 4, 100), Modified: NeverModified},
	}

	ni := MergeObserved(persisted, nil, 1000)
	assert.NotContains(t, ni, "pending.txt")
}

func TestMergeObservedDirectoriesIgnoreModTimeDrift(t *testing.T) {
	dir := &FileObject{Path: "/sub", Name: "sub", ModTime: 100}
	persisted := NameIndex{
		"sub": {Object: dir, Modified: 100},
	}
	drifted := &FileObject{Path: "/sub", Name: "sub", ModTime: 900}

	ni := MergeObserved(persisted, []*FileObject{drifted}, 1000)
	require.Contains(t, ni, "sub")
	assert.Equal(t, int64(100), ni["sub"].Modified, "child churn must not restamp the directory")
}
