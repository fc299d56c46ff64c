package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// fileBlob stores the index document as one file, replaced through a temp
// file and rename so a crash mid-write never leaves a truncated store.
type fileBlob struct {
	fs   afero.Fs
	path string
}

func (b *fileBlob) Read() ([]byte, bool, error) {
	data, err := afero.ReadFile(b.fs, b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", b.path, err)
	}
	return data, true, nil
}

func (b *fileBlob) Write(data []byte) error {
	dir := filepath.Dir(b.path)
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create index store directory: %w", err)
	}

	tmp, err := afero.TempFile(b.fs, dir, ".replisync-index-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary index store file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			b.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write index store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temporary index store file: %w", err)
	}

	if err := b.fs.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("could not replace index store %s: %w", b.path, err)
	}
	tmpPath = ""
	return nil
}

// NewFileStore opens (or initializes) a file-backed index store at path.
func NewFileStore(fs afero.Fs, path string, cfg StoreConfig) (*BlobStore, error) {
	return NewBlobStore(&fileBlob{fs: fs, path: path}, cfg)
}
