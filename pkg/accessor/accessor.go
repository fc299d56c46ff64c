// Package accessor defines the storage-backend contract the synchronizer
// drives each replica through. Implementations live in pkg/localfs and
// pkg/s3fs.
package accessor

import (
	"context"
	"errors"

	"github.com/replisync/replisync/pkg/index"
)

// ErrNotFound reports that an entry vanished between listing and operating
// on it. Callers treat it as "already gone, not fatal": during deletes it is
// swallowed, during content reads it converts into an implicit-deletion
// record update.
var ErrNotFound = errors.New("entry not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Accessor is one replica's storage backend.
//
// ListIndex is where a replica observes out-of-band mutation: it merges the
// persisted name index with a fresh backend listing. Entries that appeared
// or changed get a Modified stamp from the backend; entries that are live in
// the index but missing from the listing get a tombstone stamped with the
// current time.
type Accessor interface {
	// Root describes the replica root for logging.
	Root() string

	// ListIndex returns the merged name index for a directory. A directory
	// missing on the backend yields whatever the persisted index implies
	// (tombstoned entries), never an ErrNotFound.
	ListIndex(ctx context.Context, dirPath string) (index.NameIndex, error)

	// ReadContent returns the full content of a file.
	ReadContent(ctx context.Context, path string) ([]byte, error)

	// WriteContent writes the full content of a file, creating parent
	// directories as needed, and applies the object's ModTime when the
	// backend supports it.
	WriteContent(ctx context.Context, obj *index.FileObject, data []byte) error

	// MakeDirectory materializes a directory on the backend.
	MakeDirectory(ctx context.Context, obj *index.FileObject) error

	// Delete removes a single file or empty directory.
	Delete(ctx context.Context, path string, isFile bool) error

	// DeleteRecursively removes a directory and everything below it,
	// including any persisted indexes for the subtree.
	DeleteRecursively(ctx context.Context, path string) error

	// PersistIndex writes back the name index for a directory. The
	// underlying store may throttle the durable write.
	PersistIndex(ctx context.Context, dirPath string, ni index.NameIndex) error

	// ClearCache invalidates any cached listing for a directory, forcing
	// the next ListIndex to hit the backend. Replicas without listing
	// caches implement it as a no-op.
	ClearCache(dirPath string)
}
