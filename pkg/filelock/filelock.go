// Package filelock serializes sync passes over a replica pair. A lock file
// inside the replica's meta directory is created atomically and refreshed by
// a background heartbeat; a crashed holder leaves a lock that goes stale and
// gets cleaned up by the next acquirer.
package filelock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/replisync/replisync/pkg/rlog"
)

// LockContent is the JSON payload written to the lock file.
type LockContent struct {
	PID        int64     `json:"pid"`
	Owner      string    `json:"owner"`
	LastUpdate time.Time `json:"last_update"`
}

// ErrLockActive is returned when another process holds a live lock.
type ErrLockActive struct {
	PID       int64
	Owner     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("lock is active, held by PID %d (%s), last updated %s ago",
		e.PID, e.Owner, e.TimeSince.Truncate(time.Second))
}

const (
	defaultHeartbeat    = 30 * time.Second
	defaultStaleTimeout = 3 * time.Minute
	lockFileMode        = 0o644
)

// Config describes the lock to acquire.
type Config struct {
	// Fs is the filesystem holding the lock file. Nil means the OS
	// filesystem.
	Fs afero.Fs
	// Path is the lock file location.
	Path string
	// Owner describes the holder in the lock payload, e.g. the sync pair.
	Owner string
	// HeartbeatInterval is how often the holder refreshes the lock.
	// Zero means 30 seconds.
	HeartbeatInterval time.Duration
	// StaleTimeout is the age after which a lock counts as abandoned.
	// Zero means 3 minutes.
	StaleTimeout time.Duration
	// Clock drives staleness checks and the heartbeat. Nil means wall
	// clock.
	Clock clockwork.Clock
}

func (c *Config) applyDefaults() {
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeat
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = defaultStaleTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// Lock is an acquired lock file with a running heartbeat.
type Lock struct {
	cfg    Config
	cancel context.CancelFunc
	mu     sync.Mutex
	held   bool
}

// Acquire takes the lock, cleaning up a stale one if found. It fails with
// *ErrLockActive while another holder's heartbeat is fresh.
func Acquire(ctx context.Context, cfg Config) (*Lock, error) {
	cfg.applyDefaults()
	const maxAttempts = 3

	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := tryAcquire(cfg)
		if err == nil {
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("could not access lock file %s: %w", cfg.Path, err)
		}

		content, readErr := readContent(cfg.Fs, cfg.Clock, cfg.Path)
		if readErr != nil {
			// Possibly caught mid-update; back off and retry.
			cfg.Clock.Sleep(100 * time.Millisecond)
			continue
		}

		elapsed := cfg.Clock.Now().Sub(content.LastUpdate)
		if elapsed < cfg.StaleTimeout {
			return nil, &ErrLockActive{PID: content.PID, Owner: content.Owner, TimeSince: elapsed}
		}

		rlog.Warn("removing stale lock", "path", cfg.Path, "pid", content.PID, "age", elapsed)
		if err := cfg.Fs.Remove(cfg.Path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("could not remove stale lock %s: %w", cfg.Path, err)
		}
	}
	return nil, fmt.Errorf("could not acquire lock %s after %d attempts", cfg.Path, maxAttempts)
}

// tryAcquire creates the lock file with O_EXCL, so only one process wins.
func tryAcquire(cfg Config) (*Lock, error) {
	f, err := cfg.Fs.OpenFile(cfg.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockFileMode)
	if err != nil {
		return nil, err
	}
	f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{cfg: cfg, cancel: cancel, held: true}

	if err := l.updateContent(); err != nil {
		l.cleanup()
		cancel()
		return nil, err
	}

	go l.heartbeat(ctx)
	return l, nil
}

// Release stops the heartbeat and removes the lock file. Safe to call more
// than once.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.cancel()
	l.cleanup()
	l.held = false
}

func (l *Lock) cleanup() {
	if err := l.cfg.Fs.Remove(l.cfg.Path); err != nil {
		if !os.IsNotExist(err) {
			rlog.Warn("could not remove lock file", "path", l.cfg.Path, "error", err)
		}
		return
	}
	rlog.Debug("lock released", "path", l.cfg.Path)
}

func (l *Lock) heartbeat(ctx context.Context) {
	ticker := l.cfg.Clock.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := l.updateContent(); err != nil {
				rlog.Warn("lock heartbeat failed", "path", l.cfg.Path, "error", err)
			}
		}
	}
}

func (l *Lock) updateContent() error {
	content := LockContent{
		PID:        int64(os.Getpid()),
		Owner:      l.cfg.Owner,
		LastUpdate: l.cfg.Clock.Now(),
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(l.cfg.Fs, l.cfg.Path, data, lockFileMode)
}

// readContent tolerates catching the holder mid-write: empty or partial
// payloads are retried a few times before giving up.
func readContent(fs afero.Fs, clock clockwork.Clock, path string) (LockContent, error) {
	var lastErr error
	for i := 0; i < 3; i++ {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return LockContent{}, err
		}
		if len(data) == 0 {
			lastErr = errors.New("lock file is empty")
			clock.Sleep(50 * time.Millisecond)
			continue
		}
		var content LockContent
		if err := json.Unmarshal(data, &content); err != nil {
			lastErr = err
			clock.Sleep(50 * time.Millisecond)
			continue
		}
		return content, nil
	}
	return LockContent{}, fmt.Errorf("could not read valid lock content: %w", lastErr)
}
