package index

// unchanged reports whether a listed object still matches what the persisted
// record observed, so its Modified stamp can be carried over.
func unchanged(prev *Record, obj *FileObject) bool {
	if prev == nil || prev.Object == nil || prev.IsTombstone() {
		return false
	}
	if prev.Object.IsFile() != obj.IsFile() {
		return false
	}
	if obj.IsDir() {
		// Directory mtimes drift whenever children change; content changes
		// inside are discovered by recursion, not by the stamp.
		return true
	}
	return prev.Object.SizeValue() == obj.SizeValue() && prev.Object.ModTime == obj.ModTime
}

// MergeObserved folds a fresh backend listing into the persisted index of
// the same directory.
//
// New and changed entries are stamped with the backend modification time;
// unchanged entries carry their persisted record. Entries that are live in
// the persisted index but absent from the listing were removed out-of-band;
// they become tombstones stamped with now (epoch milliseconds) so the
// deletion can propagate to the other replica. A never-modified record with
// no object in the listing is dropped instead of tombstoned, since the
// object never existed on this replica.
func MergeObserved(persisted NameIndex, observed []*FileObject, now int64) NameIndex {
	ni := make(NameIndex, len(observed))
	seen := make(map[string]struct{}, len(observed))
	for _, obj := range observed {
		seen[obj.Name] = struct{}{}
		rec := &Record{Object: obj, Modified: obj.ModTime}
		if prev := persisted[obj.Name]; unchanged(prev, obj) {
			rec = prev.Clone()
		}
		ni[obj.Name] = rec
	}

	for name, prev := range persisted {
		if _, ok := seen[name]; ok {
			continue
		}
		if prev.Modified == NeverModified && !prev.IsTombstone() {
			// Never materialized on this replica; its absence holds no
			// deletion to learn.
			continue
		}
		rec := prev.Clone()
		if !rec.IsTombstone() {
			rec.Deleted = now
		}
		ni[name] = rec
	}
	return ni
}
