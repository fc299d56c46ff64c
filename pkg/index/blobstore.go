package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// storeFormatVersion guards against reading documents written by an
// incompatible layout.
const storeFormatVersion = 1

// storeDocument is the serialized layout of a BlobStore: one gzip-compressed
// JSON document holding every directory's name index.
type storeDocument struct {
	Version     int                  `json:"version"`
	Directories map[string]NameIndex `json:"directories"`
}

// Blob is a single durable byte payload a BlobStore writes its document
// into. Write must replace the payload atomically; a crash mid-write must
// never leave a truncated payload behind.
type Blob interface {
	// Read returns the payload. ok is false when no payload exists yet.
	Read() (data []byte, ok bool, err error)
	// Write replaces the payload.
	Write(data []byte) error
}

// BlobStore persists all of a replica's name indexes in one gzip-compressed
// JSON document inside a Blob. Saves are throttled through StoreConfig.
type BlobStore struct {
	blob  Blob
	cfg   StoreConfig
	dirs  map[string]NameIndex
	dirty bool
	// lastWrite is the clock time of the last durable write, used to
	// decide whether a Save may write through or must defer to Flush.
	lastWrite time.Time
}

// NewBlobStore opens (or initializes) an index store inside blob.
func NewBlobStore(blob Blob, cfg StoreConfig) (*BlobStore, error) {
	s := &BlobStore{
		blob: blob,
		cfg:  cfg,
		dirs: make(map[string]NameIndex),
	}
	if err := s.loadDocument(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BlobStore) loadDocument() error {
	data, ok, err := s.blob.Read()
	if err != nil {
		return fmt.Errorf("could not open index store: %w", err)
	}
	if !ok {
		return nil // Fresh store.
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("could not read index store: %w. It may be corrupt", err)
	}
	defer gz.Close()

	var doc storeDocument
	if err := json.NewDecoder(gz).Decode(&doc); err != nil {
		return fmt.Errorf("could not parse index store: %w. It may be corrupt", err)
	}
	if doc.Version != storeFormatVersion {
		return fmt.Errorf("index store has unsupported format version %d", doc.Version)
	}
	if doc.Directories != nil {
		s.dirs = doc.Directories
	}
	return nil
}

// Load returns the persisted index for a directory, or nil when unindexed.
func (s *BlobStore) Load(dirPath string) (NameIndex, error) {
	ni, ok := s.dirs[dirPath]
	if !ok {
		return nil, nil
	}
	return ni.Clone(), nil
}

// Save records the index for a directory. The durable write happens
// immediately if the throttle window has elapsed, otherwise at the next
// Flush (or a later Save outside the window).
func (s *BlobStore) Save(dirPath string, ni NameIndex) error {
	s.dirs[dirPath] = ni.Clone()
	s.dirty = true

	now := s.cfg.clock().Now()
	if s.cfg.WriteThrottle > 0 && now.Sub(s.lastWrite) < s.cfg.WriteThrottle {
		return nil // Deferred; Flush will pick it up.
	}
	return s.writeDocument(now)
}

// DeleteTree drops the index of dirPath and of every descendant directory.
func (s *BlobStore) DeleteTree(dirPath string) error {
	prefix := strings.TrimSuffix(dirPath, "/") + "/"
	changed := false
	for dir := range s.dirs {
		if dir == dirPath || strings.HasPrefix(dir, prefix) {
			delete(s.dirs, dir)
			changed = true
		}
	}
	if changed {
		s.dirty = true
	}
	return nil
}

// Flush writes any deferred state out.
func (s *BlobStore) Flush() error {
	if !s.dirty {
		return nil
	}
	return s.writeDocument(s.cfg.clock().Now())
}

// Close flushes the store. The store must not be used afterwards.
func (s *BlobStore) Close() error {
	return s.Flush()
}

func (s *BlobStore) writeDocument(now time.Time) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	doc := storeDocument{Version: storeFormatVersion, Directories: s.dirs}
	if err := json.NewEncoder(gz).Encode(doc); err != nil {
		return fmt.Errorf("could not encode index store: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("could not finish index store compression: %w", err)
	}

	if err := s.blob.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("could not write index store: %w", err)
	}
	s.dirty = false
	s.lastWrite = now
	return nil
}

var _ Store = (*BlobStore)(nil)
