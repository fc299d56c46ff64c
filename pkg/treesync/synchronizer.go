package treesync

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/replisync/replisync/pkg/accessor"
	"github.com/replisync/replisync/pkg/index"
	"github.com/replisync/replisync/pkg/rlog"
	"github.com/replisync/replisync/pkg/util"
)

// CopyNotifier is invoked after each successful file copy with the path of
// the copied object. Returning an error only logs a warning; the copy itself
// has already happened.
type CopyNotifier func(path string, obj *index.FileObject) error

// ProgressFunc receives running entry counts during a pass. The total grows
// as directories are discovered, so processed/total is a moving estimate.
type ProgressFunc func(processed, total int)

// Options configures a Synchronizer. The zero value is usable: no
// exclusions, byte copy transfer, real clock, no-op metrics.
type Options struct {
	// ExcludeNames is a regular expression matched against bare entry
	// names. Matching entries are invisible to the pass.
	ExcludeNames string
	// ExcludePaths is a regular expression matched against full
	// slash-rooted paths.
	ExcludePaths string
	// Verbose promotes per-entry decision logging from debug to info.
	Verbose bool
	// Transfer moves file content between the replicas. Defaults to
	// ByteCopyTransfer.
	Transfer Transfer
	// OnCopy is called after each successful file copy.
	OnCopy CopyNotifier
	// Progress receives running entry counts.
	Progress ProgressFunc
	// Clock stamps tombstones for objects that vanish mid-pass.
	Clock clockwork.Clock
	// Metrics collects pass statistics. Defaults to NoopMetrics.
	Metrics Metrics
}

// Synchronizer reconciles two replicas pairwise. It is not safe for
// concurrent passes over the same replica pair; run passes sequentially.
type Synchronizer struct {
	local    accessor.Accessor
	remote   accessor.Accessor
	exclude  *exclusions
	transfer Transfer
	onCopy   CopyNotifier
	progress ProgressFunc
	clock    clockwork.Clock
	metrics  Metrics
	verbose  bool
}

// New creates a Synchronizer over a local and a remote replica.
func New(local, remote accessor.Accessor, opts Options) (*Synchronizer, error) {
	exclude, err := compileExclusions(opts.ExcludeNames, opts.ExcludePaths)
	if err != nil {
		return nil, err
	}
	s := &Synchronizer{
		local:    local,
		remote:   remote,
		exclude:  exclude,
		transfer: opts.Transfer,
		onCopy:   opts.OnCopy,
		progress: opts.Progress,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		verbose:  opts.Verbose,
	}
	if s.transfer == nil {
		s.transfer = ByteCopyTransfer{}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.metrics == nil {
		s.metrics = &NoopMetrics{}
	}
	return s, nil
}

// dirState carries the per-directory reconciliation outcome: the result so
// far and whether each side's name index needs to be written back.
type dirState struct {
	dirPath     string
	localDirty  bool
	remoteDirty bool
	result      Result
}

func (st *dirState) addError(path string, err error) {
	st.result.Errors = append(st.result.Errors, EntryError{Path: path, Err: err})
}

func (st *dirState) markDirty(role Role) {
	if role == RoleLocal {
		st.localDirty = true
	} else {
		st.remoteDirty = true
	}
}

func (st *dirState) markChanged(role Role) {
	if role == RoleLocal {
		st.result.LocalChanged = true
	} else {
		st.result.RemoteChanged = true
	}
}

// runState tracks one pass: a short id for log correlation and the entry
// counters fed to the progress callback.
type runState struct {
	id        string
	processed int
	total     int
}

// SynchronizeAll runs a full recursive pass from the root of both replicas.
func (s *Synchronizer) SynchronizeAll(ctx context.Context) (Result, error) {
	return s.SynchronizeDirectory(ctx, "/", true)
}

// SynchronizeDirectory reconciles one directory of both replicas. With
// recursive set, matching child directories are descended into; otherwise
// exactly one level is reconciled and child directories are created but not
// entered. The named directory itself is a container, never a candidate for
// deletion or resurrection.
//
// Per-entry failures are accumulated in the Result; the returned error is
// non-nil only when the context was canceled.
func (s *Synchronizer) SynchronizeDirectory(ctx context.Context, dirPath string, recursive bool) (Result, error) {
	dirPath = util.NormalizePath(dirPath)
	run := &runState{id: uuid.NewString()[:8]}

	rlog.Info("sync pass started",
		"run", run.id,
		"path", dirPath,
		"recursive", recursive,
		"local", s.local.Root(),
		"remote", s.remote.Root(),
	)

	res := s.syncDirectory(ctx, dirPath, recursive, run)

	if err := ctx.Err(); err != nil {
		rlog.Warn("sync pass aborted", "run", run.id, "reason", err)
		return res, err
	}
	rlog.Info("sync pass finished",
		"run", run.id,
		"path", dirPath,
		"local_changed", res.LocalChanged,
		"remote_changed", res.RemoteChanged,
		"errors", len(res.Errors),
	)
	s.metrics.LogSummary("sync pass summary")
	return res, nil
}

// syncDirectory lists both sides of one directory, reconciles every entry
// and writes back whichever name indexes the reconciler mutated.
func (s *Synchronizer) syncDirectory(ctx context.Context, dirPath string, recursive bool, run *runState) Result {
	st := &dirState{dirPath: dirPath}
	if ctx.Err() != nil {
		return st.result
	}

	s.local.ClearCache(dirPath)
	s.remote.ClearCache(dirPath)

	localIdx, err := s.local.ListIndex(ctx, dirPath)
	if err != nil {
		rlog.Warn("skipping directory, local listing failed", "run", run.id, "path", dirPath, "error", err)
		st.addError(dirPath, err)
		return st.result
	}
	remoteIdx, err := s.remote.ListIndex(ctx, dirPath)
	if err != nil {
		rlog.Warn("skipping directory, remote listing failed", "run", run.id, "path", dirPath, "error", err)
		st.addError(dirPath, err)
		return st.result
	}

	localSide := &side{role: RoleLocal, acc: s.local, idx: localIdx}
	remoteSide := &side{role: RoleRemote, acc: s.remote, idx: remoteIdx}

	localNames := s.orderedNames(dirPath, localSide.idx)
	remoteOnly := unmatchedNames(localNames, s.orderedNames(dirPath, remoteSide.idx))

	run.total += len(localNames) + len(remoteOnly)
	s.reportProgress(run)

	for _, name := range localNames {
		if ctx.Err() != nil {
			break
		}
		s.synchronizeOne(ctx, name, localSide, remoteSide, recursive, st, run)
		run.processed++
		s.reportProgress(run)
	}
	// Entries only the remote knows about: same machinery, sides swapped.
	for _, name := range remoteOnly {
		if ctx.Err() != nil {
			break
		}
		s.synchronizeOne(ctx, name, remoteSide, localSide, recursive, st, run)
		run.processed++
		s.reportProgress(run)
	}

	if st.localDirty {
		if err := s.local.PersistIndex(ctx, dirPath, localSide.idx); err != nil {
			rlog.Warn("persisting local index failed", "run", run.id, "path", dirPath, "error", err)
			st.addError(dirPath, err)
		}
	}
	if st.remoteDirty {
		if err := s.remote.PersistIndex(ctx, dirPath, remoteSide.idx); err != nil {
			rlog.Warn("persisting remote index failed", "run", run.id, "path", dirPath, "error", err)
			st.addError(dirPath, err)
		}
	}
	return st.result
}

func (s *Synchronizer) reportProgress(run *runState) {
	if s.progress != nil {
		s.progress(run.processed, run.total)
	}
}

// logDecision logs one reconciliation decision, at info level in verbose
// mode and debug otherwise.
func (s *Synchronizer) logDecision(msg string, keysAndValues ...any) {
	if s.verbose {
		rlog.Info(msg, keysAndValues...)
		return
	}
	rlog.Debug(msg, keysAndValues...)
}
