// Package preflight validates replica roots before a sync pass begins. The
// checks are stateless and give friendlier errors than letting the first
// accessor operation fail halfway into a pass.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/replisync/replisync/pkg/rlog"
	"github.com/replisync/replisync/pkg/util"
)

// CheckReplicaRoot validates that a local replica root exists and is a
// directory.
func CheckReplicaRoot(root string) error {
	if root == "" {
		return fmt.Errorf("replica root must not be empty")
	}
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("replica root %s does not exist", root)
		}
		return fmt.Errorf("cannot access replica root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("replica root %s is not a directory", root)
	}
	return nil
}

// CheckDistinctRoots rejects replica pairs where one root contains the
// other. Synchronizing a tree into itself copies the copies, endlessly.
func CheckDistinctRoots(a, b string) error {
	absA, err := filepath.Abs(a)
	if err != nil {
		return fmt.Errorf("cannot resolve %s: %w", a, err)
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return fmt.Errorf("cannot resolve %s: %w", b, err)
	}
	if absA == absB {
		return fmt.Errorf("replica roots are the same directory: %s", absA)
	}
	if isAncestor(absA, absB) || isAncestor(absB, absA) {
		return fmt.Errorf("replica roots are nested: %s and %s", absA, absB)
	}
	return nil
}

func isAncestor(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// CheckFreeSpace fails when the filesystem holding path has fewer than
// minBytes available. Zero minBytes only logs the available space.
func CheckFreeSpace(path string, minBytes uint64) error {
	free, err := freeSpace(path)
	if err != nil {
		return fmt.Errorf("cannot determine free space at %s: %w", path, err)
	}
	rlog.Debug("free space", "path", path, "available", util.ByteCountIEC(int64(free)))
	if minBytes > 0 && free < minBytes {
		return fmt.Errorf("not enough free space at %s: %s available, %s required",
			path, util.ByteCountIEC(int64(free)), util.ByteCountIEC(int64(minBytes)))
	}
	return nil
}
