// Package localfs implements the replica accessor for a directory tree on a
// local (or afero-abstracted) filesystem.
package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/replisync/replisync/pkg/accessor"
	"github.com/replisync/replisync/pkg/index"
	"github.com/replisync/replisync/pkg/util"
)

// MetaDirName is the directory under the replica root holding replisync's
// own state (index store, lock file). It is invisible to synchronization.
const MetaDirName = ".replisync"

// Config describes a local replica.
type Config struct {
	// Root is the backend path of the replica root.
	Root string
	// Fs is the filesystem to operate on. Nil means the OS filesystem;
	// tests pass afero.NewMemMapFs().
	Fs afero.Fs
	// Store persists the name indexes. Nil means a file-backed store
	// inside the meta directory, configured with StoreConfig.
	Store index.Store
	// StoreConfig configures the default store when Store is nil.
	StoreConfig index.StoreConfig
	// Clock supplies tombstone timestamps for out-of-band deletions
	// discovered while listing. Nil means wall clock.
	Clock clockwork.Clock
}

// Accessor is the local-filesystem replica backend.
type Accessor struct {
	fs    afero.Fs
	root  string
	store index.Store
	clock clockwork.Clock
}

// New creates a local accessor for cfg.Root.
func New(cfg Config) (*Accessor, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("local replica root must not be empty")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	store := cfg.Store
	if store == nil {
		storeCfg := cfg.StoreConfig
		if storeCfg.Clock == nil {
			storeCfg.Clock = clock
		}
		var err error
		store, err = index.NewFileStore(fs, filepath.Join(cfg.Root, MetaDirName, "index.json.gz"), storeCfg)
		if err != nil {
			return nil, fmt.Errorf("could not open index store for %s: %w", cfg.Root, err)
		}
	}
	return &Accessor{fs: fs, root: cfg.Root, store: store, clock: clock}, nil
}

// Root describes the replica root for logging.
func (a *Accessor) Root() string { return a.root }

// Close flushes the index store.
func (a *Accessor) Close() error { return a.store.Close() }

// osPath translates a path key into a backend path under the root.
func (a *Accessor) osPath(pathKey string) string {
	key := strings.TrimPrefix(util.NormalizePath(pathKey), "/")
	if key == "" {
		return a.root
	}
	return filepath.Join(a.root, filepath.FromSlash(key))
}

// objectFor builds the FileObject observed for one directory entry.
func objectFor(dirPath string, info os.FileInfo) *index.FileObject {
	obj := &index.FileObject{
		Path:    util.JoinPath(dirPath, info.Name()),
		Name:    info.Name(),
		ModTime: info.ModTime().UnixMilli(),
	}
	if !info.IsDir() {
		size := info.Size()
		obj.Size = &size
	}
	return obj
}

// ListIndex merges the persisted index for dirPath with a fresh listing.
//
// New and changed entries are stamped with the backend modification time.
// Entries that are live in the persisted index but absent from the listing
// were removed out-of-band; they become tombstones stamped with the current
// time so the deletion can propagate to the other replica.
func (a *Accessor) ListIndex(ctx context.Context, dirPath string) (index.NameIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	persisted, err := a.store.Load(dirPath)
	if err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(a.fs, a.osPath(dirPath))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not list %s: %w", dirPath, err)
	}

	observed := make([]*index.FileObject, 0, len(infos))
	for _, info := range infos {
		if info.Name() == MetaDirName {
			continue
		}
		observed = append(observed, objectFor(dirPath, info))
	}
	ni := index.MergeObserved(persisted, observed, a.clock.Now().UnixMilli())

	// Observation itself changes the index: new entries, fresh stamps,
	// tombstones for out-of-band deletions. Persist those right away so a
	// deletion noticed here survives even if the pass stops early.
	if !ni.Equal(persisted) {
		if err := a.store.Save(dirPath, ni); err != nil {
			return nil, fmt.Errorf("could not persist observed index for %s: %w", dirPath, err)
		}
	}
	return ni, nil
}

// ReadContent returns the full content of a file.
func (a *Accessor) ReadContent(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(a.fs, a.osPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", path, accessor.ErrNotFound)
		}
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}
	return data, nil
}

// WriteContent writes a file through a temporary name and rename, then
// applies the object's modification time. The atomic rename means a crash
// mid-copy never leaves a half-written file at the final path.
func (a *Accessor) WriteContent(ctx context.Context, obj *index.FileObject, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := a.osPath(obj.Path)
	dir := filepath.Dir(target)
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create parent directory for %s: %w", obj.Path, err)
	}

	tmp, err := afero.TempFile(a.fs, dir, ".replisync-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			a.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write content for %s: %w", obj.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temporary file for %s: %w", obj.Path, err)
	}

	if err := a.fs.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("could not move %s into place: %w", obj.Path, err)
	}
	tmpPath = ""

	if obj.ModTime > 0 {
		mtime := time.UnixMilli(obj.ModTime)
		if err := a.fs.Chtimes(target, mtime, mtime); err != nil {
			return fmt.Errorf("could not set timestamps on %s: %w", obj.Path, err)
		}
	}
	return nil
}

// MakeDirectory materializes a directory (and any missing parents).
func (a *Accessor) MakeDirectory(ctx context.Context, obj *index.FileObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := a.osPath(obj.Path)
	if err := a.fs.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("could not create directory %s: %w", obj.Path, err)
	}
	if obj.ModTime > 0 {
		mtime := time.UnixMilli(obj.ModTime)
		if err := a.fs.Chtimes(target, mtime, mtime); err != nil {
			return fmt.Errorf("could not set timestamps on %s: %w", obj.Path, err)
		}
	}
	return nil
}

// Delete removes a single file or empty directory.
func (a *Accessor) Delete(ctx context.Context, path string, isFile bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.fs.Remove(a.osPath(path)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", path, accessor.ErrNotFound)
		}
		return fmt.Errorf("could not delete %s: %w", path, err)
	}
	return nil
}

// DeleteRecursively removes a directory subtree and drops its persisted
// indexes.
func (a *Accessor) DeleteRecursively(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := a.osPath(path)
	if _, err := a.fs.Stat(target); err != nil {
		if os.IsNotExist(err) {
			// Content already gone; still drop stale indexes below.
			if err := a.store.DeleteTree(path); err != nil {
				return err
			}
			return fmt.Errorf("delete %s: %w", path, accessor.ErrNotFound)
		}
		return fmt.Errorf("could not stat %s: %w", path, err)
	}
	if err := a.fs.RemoveAll(target); err != nil {
		return fmt.Errorf("could not delete subtree %s: %w", path, err)
	}
	return a.store.DeleteTree(path)
}

// PersistIndex writes back the name index for a directory.
func (a *Accessor) PersistIndex(ctx context.Context, dirPath string, ni index.NameIndex) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.store.Save(dirPath, ni)
}

// ClearCache is a no-op: the local accessor never caches listings.
func (a *Accessor) ClearCache(dirPath string) {}

var _ accessor.Accessor = (*Accessor)(nil)
