package index

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Store persists per-directory name indexes for one replica.
//
// Implementations are free to batch writes: Save may only update the
// in-memory state and defer the durable write until the configured throttle
// window has elapsed. Flush forces the pending state out.
type Store interface {
	// Load returns the persisted index for a directory, or nil when the
	// directory has never been indexed.
	Load(dirPath string) (NameIndex, error)
	// Save records the index for a directory.
	Save(dirPath string, ni NameIndex) error
	// DeleteTree drops the index of a directory and of all its descendants.
	DeleteTree(dirPath string) error
	// Flush writes any deferred state to durable storage.
	Flush() error
	// Close flushes and releases underlying resources.
	Close() error
}

// StoreConfig carries the knobs shared by Store implementations.
// The write throttle is an explicit per-store setting, not process-wide
// state: two stores can throttle independently.
type StoreConfig struct {
	// WriteThrottle is the minimum interval between durable writes
	// triggered by Save. Zero writes through on every Save.
	WriteThrottle time.Duration
	// Clock supplies the time source for throttling. Nil means wall clock.
	Clock clockwork.Clock
}

func (c StoreConfig) clock() clockwork.Clock {
	if c.Clock == nil {
		return clockwork.NewRealClock()
	}
	return c.Clock
}
