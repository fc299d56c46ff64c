package filelock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(fs afero.Fs, clock clockwork.Clock) Config {
	return Config{
		Fs:                fs,
		Path:              "/locks/sync.lock",
		Owner:             "local<->remote",
		HeartbeatInterval: time.Hour, // Keep the heartbeat quiet during tests.
		Clock:             clock,
	}
}

func TestAcquireAndRelease(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/locks", 0o755))
	clock := clockwork.NewFakeClock()

	lock, err := Acquire(context.Background(), testConfig(fs, clock))
	require.NoError(t, err)

	exists, err := afero.Exists(fs, "/locks/sync.lock")
	require.NoError(t, err)
	assert.True(t, exists)

	lock.Release()
	exists, err = afero.Exists(fs, "/locks/sync.lock")
	require.NoError(t, err)
	assert.False(t, exists)

	// Releasing twice is harmless.
	lock.Release()
}

func TestSecondAcquireFailsWhileHeld(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/locks", 0o755))
	clock := clockwork.NewFakeClock()

	lock, err := Acquire(context.Background(), testConfig(fs, clock))
	require.NoError(t, err)
	defer lock.Release()

	_, err = Acquire(context.Background(), testConfig(fs, clock))
	var active *ErrLockActive
	require.True(t, errors.As(err, &active))
	assert.Equal(t, "local<->remote", active.Owner)
}

func TestStaleLockIsReplaced(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/locks", 0o755))
	clock := clockwork.NewFakeClock()

	lock, err := Acquire(context.Background(), testConfig(fs, clock))
	require.NoError(t, err)
	// The holder dies without releasing; its heartbeat stops refreshing.
	lock.cancel()

	clock.Advance(10 * time.Minute)

	replacement, err := Acquire(context.Background(), testConfig(fs, clock))
	require.NoError(t, err)
	replacement.Release()
}

func TestEmptyLockBackoffUsesInjectedClock(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/locks", 0o755))
	// An empty lock file looks like a holder caught mid-write; every read
	// retry and attempt backoff must wait on the injected clock.
	require.NoError(t, afero.WriteFile(fs, "/locks/sync.lock", nil, 0o600))
	clock := clockwork.NewFakeClock()

	done := make(chan error, 1)
	go func() {
		_, err := Acquire(context.Background(), testConfig(fs, clock))
		done <- err
	}()

	// Three attempts, each with two read retries and one backoff sleep.
	for i := 0; i < 9; i++ {
		clock.BlockUntil(1)
		clock.Advance(100 * time.Millisecond)
	}

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not acquire lock")
}

func TestAcquireHonorsContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Acquire(ctx, testConfig(fs, clock))
	assert.ErrorIs(t, err, context.Canceled)
}
