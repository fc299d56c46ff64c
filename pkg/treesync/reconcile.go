package treesync

import (
	"context"
	"fmt"

	"github.com/replisync/replisync/pkg/accessor"
	"github.com/replisync/replisync/pkg/index"
	"github.com/replisync/replisync/pkg/rlog"
	"github.com/replisync/replisync/pkg/util"
)

// synchronizeOne reconciles a single named entry between the two sides and
// contains any failure to that entry.
func (s *Synchronizer) synchronizeOne(ctx context.Context, name string, from, to *side, recursive bool, st *dirState, run *runState) {
	s.metrics.AddEntriesProcessed(1)
	if err := s.reconcileEntry(ctx, name, from, to, recursive, st, run); err != nil {
		path := util.JoinPath(st.dirPath, name)
		st.addError(path, err)
		rlog.Warn("entry reconciliation failed", "run", run.id, "path", path, "error", err)
	}
}

// reconcileEntry decides and applies the outcome for one entry:
//
//  1. a side without a record gets a synthetic never-modified one, taken
//     back if the entry resolves with an error so it is never persisted
//  2. file-versus-directory mismatches are reported and skipped
//  3. two tombstones mean the deletion is fully propagated; both records
//     are dropped
//  4. a tombstone against a live record either resurrects the object (the
//     live side modified it at or after the deletion) or propagates the
//     deletion
//  5. two live records settle on the newer one; equal timestamps with
//     differing file sizes trigger a re-copy
//  6. a directory record a side has never materialized is created there
//  7. surviving directories are descended into when requested
func (s *Synchronizer) reconcileEntry(ctx context.Context, name string, from, to *side, recursive bool, st *dirState, run *runState) (err error) {
	fromRec := from.idx[name]
	toRec := to.idx[name]
	if fromRec == nil && toRec == nil {
		rlog.Warn("entry has no record on either side", "run", run.id, "dir", st.dirPath, "name", name)
		return nil
	}
	fromSynthetic := fromRec == nil
	toSynthetic := toRec == nil
	if fromSynthetic {
		fromRec = toRec.Synthetic()
		from.idx[name] = fromRec
	}
	if toSynthetic {
		toRec = fromRec.Synthetic()
		to.idx[name] = toRec
	}
	// Synthetic records must not outlive a failed entry: persisted, they
	// read back as out-of-band deletions on the next pass.
	defer func() {
		if err == nil {
			return
		}
		if fromSynthetic {
			delete(from.idx, name)
		}
		if toSynthetic {
			delete(to.idx, name)
		}
	}()
	path := util.JoinPath(st.dirPath, name)

	if fromRec.Object.IsFile() != toRec.Object.IsFile() {
		s.metrics.AddTypeConflicts(1)
		return fmt.Errorf("%w: %s is a %s on %s and a %s on %s",
			ErrTypeConflict, path,
			objectKind(fromRec.Object), from.role,
			objectKind(toRec.Object), to.role)
	}

	if fromRec.IsTombstone() && toRec.IsTombstone() {
		// Both replicas know about the deletion; the records have done
		// their job.
		delete(from.idx, name)
		delete(to.idx, name)
		st.markDirty(from.role)
		st.markDirty(to.role)
		s.metrics.AddTombstonesDropped(2)
		s.logDecision("deletion settled on both sides, dropping records", "run", run.id, "path", path)
		return nil
	}

	if fromRec.IsTombstone() != toRec.IsTombstone() {
		dead, live := fromRec, toRec
		deadSide, liveSide := from, to
		if toRec.IsTombstone() {
			dead, live = toRec, fromRec
			deadSide, liveSide = to, from
		}
		if live.Modified != index.NeverModified && dead.Deleted <= live.Modified {
			return s.resurrect(ctx, name, path, liveSide, deadSide, live, st, run)
		}
		return s.propagateDeletion(ctx, name, path, deadSide, liveSide, live, st, run)
	}

	switch {
	case toRec.Modified < fromRec.Modified:
		if err := s.copyEntry(ctx, name, path, from, to, st); err != nil {
			return err
		}
	case fromRec.Modified < toRec.Modified:
		if err := s.copyEntry(ctx, name, path, to, from, st); err != nil {
			return err
		}
	default:
		if fromRec.Object.IsFile() && fromRec.Object.SizeValue() != toRec.Object.SizeValue() {
			// Same timestamp, different content length: a copy was
			// interrupted somewhere. Repeat it.
			s.logDecision("size mismatch at equal timestamps, repeating copy",
				"run", run.id, "path", path,
				"from_size", fromRec.Object.SizeValue(), "to_size", toRec.Object.SizeValue())
			if err := s.copyEntry(ctx, name, path, from, to, st); err != nil {
				return err
			}
		}
	}

	// A copy can drop or tombstone a record when the source vanished
	// underneath it, so re-read before deciding to descend.
	fromRec = from.idx[name]
	toRec = to.idx[name]
	if fromRec == nil || toRec == nil || fromRec.IsTombstone() || toRec.IsTombstone() {
		return nil
	}
	if !fromRec.Object.IsDir() {
		return nil
	}
	if recursive {
		child := s.syncDirectory(ctx, path, true, run)
		st.result.merge(child)
	}
	return nil
}

// copyEntry mirrors one entry from src to dst: file content is transferred,
// directories are materialized when dst has never created them, and the
// record is cloned across so both sides agree on the object's history.
func (s *Synchronizer) copyEntry(ctx context.Context, name, path string, src, dst *side, st *dirState) error {
	srcRec := src.idx[name]
	obj := srcRec.Object

	if obj.IsFile() {
		n, err := s.transfer.Transfer(ctx, src.acc, obj, dst.acc, obj.Clone())
		if err != nil {
			if accessor.IsNotFound(err) {
				s.handleVanishedSource(name, path, src, st)
				return nil
			}
			return err
		}
		s.metrics.AddFilesCopied(1)
		s.metrics.AddBytesTransferred(n)
		s.notifyCopy(path, obj)
	} else {
		dstRec := dst.idx[name]
		if dstRec == nil || dstRec.Modified == index.NeverModified {
			if err := dst.acc.MakeDirectory(ctx, obj.Clone()); err != nil {
				return err
			}
			s.metrics.AddDirsCreated(1)
		}
	}

	dst.idx[name] = srcRec.Clone()
	st.markDirty(dst.role)
	st.markChanged(dst.role)
	s.logDecision("copied entry", "path", path, "from", src.role.String(), "to", dst.role.String(), "dir", obj.IsDir())
	return nil
}

// resurrect overrides a tombstone with the live object, because the live
// side touched it at or after the recorded deletion.
func (s *Synchronizer) resurrect(ctx context.Context, name, path string, liveSide, deadSide *side, live *index.Record, st *dirState, run *runState) error {
	obj := live.Object

	if obj.IsFile() {
		n, err := s.transfer.Transfer(ctx, liveSide.acc, obj, deadSide.acc, obj.Clone())
		if err != nil {
			if accessor.IsNotFound(err) {
				s.handleVanishedSource(name, path, liveSide, st)
				return nil
			}
			return err
		}
		s.metrics.AddFilesCopied(1)
		s.metrics.AddBytesTransferred(n)
		s.notifyCopy(path, obj)
	} else {
		if err := deadSide.acc.MakeDirectory(ctx, obj.Clone()); err != nil {
			return err
		}
		s.metrics.AddDirsCreated(1)
	}

	deadSide.idx[name] = live.Clone()
	st.markDirty(deadSide.role)
	st.markChanged(deadSide.role)
	s.metrics.AddResurrections(1)
	s.logDecision("resurrected entry", "run", run.id, "path", path, "on", deadSide.role.String())

	if obj.IsDir() {
		// The resurrected tree may hold stale children on the side that
		// deleted it; drain the whole subtree regardless of the caller's
		// recursion flag.
		child := s.syncDirectory(ctx, path, true, run)
		st.result.merge(child)
	}
	return nil
}

// propagateDeletion applies a tombstone to the side still holding the live
// object and retires the records on both sides. A live record that was never
// modified has no physical object worth deleting; only its record goes.
func (s *Synchronizer) propagateDeletion(ctx context.Context, name, path string, deadSide, liveSide *side, live *index.Record, st *dirState, run *runState) error {
	if live.Modified != index.NeverModified {
		var err error
		if live.Object.IsDir() {
			err = liveSide.acc.DeleteRecursively(ctx, path)
		} else {
			err = liveSide.acc.Delete(ctx, path, true)
		}
		if err != nil && !accessor.IsNotFound(err) {
			return err
		}
		st.markChanged(liveSide.role)
		s.metrics.AddDeletesPropagated(1)
	}
	if live.Object.IsDir() {
		// Scrub any child indexes the deleting side left behind.
		if err := deadSide.acc.DeleteRecursively(ctx, path); err != nil && !accessor.IsNotFound(err) {
			rlog.Warn("cleaning deleted subtree indexes failed", "run", run.id, "path", path, "on", deadSide.role.String(), "error", err)
		}
	}

	delete(liveSide.idx, name)
	delete(deadSide.idx, name)
	st.markDirty(liveSide.role)
	st.markDirty(deadSide.role)
	s.metrics.AddTombstonesDropped(2)
	s.logDecision("propagated deletion", "run", run.id, "path", path, "to", liveSide.role.String(), "dir", live.Object.IsDir())
	return nil
}

// handleVanishedSource is the fallback when a copy source disappears between
// listing and transfer. A vanished local object is simply forgotten; a
// vanished remote object is tombstoned so the deletion reaches the local
// side on the next pass. Either way the current entry resolves without an
// error.
func (s *Synchronizer) handleVanishedSource(name, path string, src *side, st *dirState) {
	if src.role == RoleLocal {
		delete(src.idx, name)
	} else {
		src.idx[name].Deleted = s.clock.Now().UnixMilli()
	}
	st.markDirty(src.role)
	rlog.Warn("copy source vanished", "path", path, "on", src.role.String())
}

func (s *Synchronizer) notifyCopy(path string, obj *index.FileObject) {
	if s.onCopy == nil {
		return
	}
	if err := s.onCopy(path, obj); err != nil {
		rlog.Warn("copy notifier failed", "path", path, "error", err)
	}
}

func objectKind(obj *index.FileObject) string {
	if obj.IsDir() {
		return "directory"
	}
	return "file"
}
