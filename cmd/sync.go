package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/replisync/replisync/pkg/config"
	"github.com/replisync/replisync/pkg/filelock"
	"github.com/replisync/replisync/pkg/index"
	"github.com/replisync/replisync/pkg/localfs"
	"github.com/replisync/replisync/pkg/preflight"
	"github.com/replisync/replisync/pkg/rlog"
	"github.com/replisync/replisync/pkg/treesync"
)

// SyncOptions carries the per-run knobs of the sync action.
type SyncOptions struct {
	// Pair restricts the run to one named pair. Empty runs all pairs.
	Pair string
	// Parallel caps how many pairs synchronize concurrently. Values
	// below one mean sequential.
	Parallel int
	// Metrics enables pass counters and periodic progress logging.
	Metrics bool
}

// RunSync synchronizes the configured replica pairs.
func RunSync(ctx context.Context, cfg config.Config, opts SyncOptions) error {
	pairs := cfg.Pairs
	if opts.Pair != "" {
		pair, err := selectPair(cfg, opts.Pair)
		if err != nil {
			return err
		}
		pairs = []config.PairConfig{pair}
	}

	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			return syncPair(gctx, cfg, pair, opts)
		})
	}
	return g.Wait()
}

// syncPair runs one full pass over a single pair.
func syncPair(ctx context.Context, cfg config.Config, pair config.PairConfig, opts SyncOptions) error {
	if err := checkPair(pair, cfg.MinFreeSpaceMB); err != nil {
		return fmt.Errorf("pair %q: %w", pair.Name, err)
	}

	// A lock in the local replica's meta directory keeps two replisync
	// processes from interleaving passes over the same tree. S3-only
	// pairs carry no lock; the bucket has no meta directory to lock in.
	if pair.Local.Type == config.ReplicaLocal {
		lockDir := filepath.Join(pair.Local.Root, localfs.MetaDirName)
		if err := os.MkdirAll(lockDir, 0o755); err != nil {
			return fmt.Errorf("pair %q: could not create meta directory: %w", pair.Name, err)
		}
		lock, err := filelock.Acquire(ctx, filelock.Config{
			Path:  filepath.Join(lockDir, "sync.lock"),
			Owner: lockOwner(pair.Name),
		})
		if err != nil {
			return fmt.Errorf("pair %q: %w", pair.Name, err)
		}
		defer lock.Release()
	}

	storeCfg := index.StoreConfig{WriteThrottle: cfg.IndexWriteThrottle()}
	local, err := openReplica(ctx, pair.Local, storeCfg)
	if err != nil {
		return fmt.Errorf("pair %q: could not open local replica: %w", pair.Name, err)
	}
	defer closeReplica(pair.Name, "local", local)
	remote, err := openReplica(ctx, pair.Remote, storeCfg)
	if err != nil {
		return fmt.Errorf("pair %q: could not open remote replica: %w", pair.Name, err)
	}
	defer closeReplica(pair.Name, "remote", remote)

	var metrics treesync.Metrics = &treesync.NoopMetrics{}
	if opts.Metrics {
		sm := &treesync.SyncMetrics{}
		sm.StartProgress("synchronizing "+pair.Name, 10*time.Second)
		defer sm.LogSummary("pass metrics for " + pair.Name)
		defer sm.StopProgress()
		metrics = sm
	}

	syncer, err := treesync.New(local, remote, treesync.Options{
		ExcludeNames: pair.ExcludeNames,
		ExcludePaths: pair.ExcludePaths,
		Verbose:      cfg.Verbose,
		Metrics:      metrics,
	})
	if err != nil {
		return fmt.Errorf("pair %q: %w", pair.Name, err)
	}

	rlog.Info("synchronizing pair",
		"pair", pair.Name,
		"local", local.Root(),
		"remote", remote.Root(),
	)
	startTime := time.Now()
	result, err := syncer.SynchronizeAll(ctx)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return fmt.Errorf("pair %q: %w", pair.Name, err)
	}

	for _, entryErr := range result.Errors {
		rlog.Warn("entry skipped", "pair", pair.Name, "path", entryErr.Path, "error", entryErr.Err)
	}
	rlog.Info("pair finished",
		"pair", pair.Name,
		"duration", duration,
		"local_changed", result.LocalChanged,
		"remote_changed", result.RemoteChanged,
		"entry_errors", len(result.Errors),
	)
	if len(result.Errors) > 0 {
		return fmt.Errorf("pair %q finished with %d entry errors", pair.Name, len(result.Errors))
	}
	return nil
}

// checkPair validates replica roots before any lock or backend is touched.
func checkPair(pair config.PairConfig, minFreeSpaceMB int) error {
	for sideName, rc := range map[string]config.ReplicaConfig{
		SideLocal:  pair.Local,
		SideRemote: pair.Remote,
	} {
		if rc.Type != config.ReplicaLocal {
			continue
		}
		if err := preflight.CheckReplicaRoot(rc.Root); err != nil {
			return fmt.Errorf("%s replica: %w", sideName, err)
		}
		if minFreeSpaceMB > 0 {
			if err := preflight.CheckFreeSpace(rc.Root, uint64(minFreeSpaceMB)*1024*1024); err != nil {
				return fmt.Errorf("%s replica: %w", sideName, err)
			}
		}
	}
	if pair.Local.Type == config.ReplicaLocal && pair.Remote.Type == config.ReplicaLocal {
		if err := preflight.CheckDistinctRoots(pair.Local.Root, pair.Remote.Root); err != nil {
			return err
		}
	}
	return nil
}

func closeReplica(pairName, sideName string, r Replica) {
	if err := r.Close(); err != nil {
		rlog.Warn("could not close replica index store", "pair", pairName, "side", sideName, "error", err)
	}
}

func lockOwner(pairName string) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return pairName + "@" + hostname
}
