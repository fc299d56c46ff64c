// Package index defines the per-directory name index each replica persists:
// the record and index types the reconciliation engine operates on, plus the
// Store implementations that put them on durable storage.
package index

// NeverModified is the sentinel Modified value marking a record as
// synthetic: the owning replica has never materialized the entry.
const NeverModified int64 = 0

// FileObject identifies a filesystem entry within one replica.
type FileObject struct {
	// Path is the full path key of the entry, unique within the replica.
	Path string `json:"path"`
	// Name is the display name, the last segment of Path.
	Name string `json:"name"`
	// Size is the byte size for files and nil for directories.
	Size *int64 `json:"size,omitempty"`
	// ModTime is the backend's last-modified timestamp in epoch milliseconds.
	ModTime int64 `json:"modTime"`
}

// IsFile reports whether the object is a file (non-nil size).
func (o *FileObject) IsFile() bool {
	return o != nil && o.Size != nil
}

// IsDir reports whether the object is a directory (nil size).
func (o *FileObject) IsDir() bool {
	return o != nil && o.Size == nil
}

// SizeValue returns the file size, or 0 for directories.
func (o *FileObject) SizeValue() int64 {
	if o == nil || o.Size == nil {
		return 0
	}
	return *o.Size
}

// Clone returns a structural copy of the object.
func (o *FileObject) Clone() *FileObject {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Size != nil {
		size := *o.Size
		cp.Size = &size
	}
	return &cp
}

// Record is one entry in a directory's name index: the observed object plus
// the two synchronization timestamps.
//
// A Record with Deleted set is a tombstone, not a live entry; the wrapped
// FileObject is retained for path and name purposes only.
type Record struct {
	Object *FileObject `json:"object"`
	// Modified is the epoch-millisecond time the entry was last known good
	// on this replica. NeverModified marks a synthetic record.
	Modified int64 `json:"modified"`
	// Deleted, when non-zero, is the epoch-millisecond time this replica
	// learned the entry was removed.
	Deleted int64 `json:"deleted,omitempty"`
}

// IsTombstone reports whether the record marks a known deletion.
func (r *Record) IsTombstone() bool {
	return r != nil && r.Deleted != 0
}

// Clone returns a structural copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Object:   r.Object.Clone(),
		Modified: r.Modified,
		Deleted:  r.Deleted,
	}
}

// Synthetic derives the record the opposite replica uses when it has no
// matching entry of its own: a copy with the tombstone cleared and Modified
// forced to NeverModified, signaling "this side never had this object".
func (r *Record) Synthetic() *Record {
	cp := r.Clone()
	cp.Deleted = 0
	cp.Modified = NeverModified
	return cp
}

// NameIndex maps entry names to records for a single directory on a single
// replica. Keys are unique; iteration order is irrelevant.
type NameIndex map[string]*Record

// Clone returns a deep copy of the index.
func (ni NameIndex) Clone() NameIndex {
	if ni == nil {
		return nil
	}
	cp := make(NameIndex, len(ni))
	for name, rec := range ni {
		cp[name] = rec.Clone()
	}
	return cp
}

// Names returns the index's keys in unspecified order.
func (ni NameIndex) Names() []string {
	names := make([]string, 0, len(ni))
	for name := range ni {
		names = append(names, name)
	}
	return names
}

// Equal reports whether two objects describe the same entry state.
func (o *FileObject) Equal(other *FileObject) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.Path == other.Path &&
		o.Name == other.Name &&
		o.ModTime == other.ModTime &&
		o.IsFile() == other.IsFile() &&
		o.SizeValue() == other.SizeValue()
}

// Equal reports whether two records carry the same object and timestamps.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Modified == other.Modified &&
		r.Deleted == other.Deleted &&
		r.Object.Equal(other.Object)
}

// Equal reports whether two indexes hold equal records under the same names.
func (ni NameIndex) Equal(other NameIndex) bool {
	if len(ni) != len(other) {
		return false
	}
	for name, rec := range ni {
		if !rec.Equal(other[name]) {
			return false
		}
	}
	return true
}
