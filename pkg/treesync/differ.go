package treesync

import (
	"sort"

	"github.com/replisync/replisync/pkg/index"
)

// orderedNames returns the entry names of a name index with exclusions
// applied, most recently modified first. Processing newer entries first means
// the files a user is actively working on are settled before the long tail.
// Ties fall back to name order so a pass is deterministic.
func (s *Synchronizer) orderedNames(dirPath string, ni index.NameIndex) []string {
	names := make([]string, 0, len(ni))
	for name := range ni {
		if s.exclude.Excluded(dirPath, name) {
			s.metrics.AddEntriesExcluded(1)
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		mi, mj := ni[names[i]].Modified, ni[names[j]].Modified
		if mi != mj {
			return mi > mj
		}
		return names[i] < names[j]
	})
	return names
}

// unmatchedNames returns the names from "other" that do not appear in
// "primary", preserving order. These are the entries only the other side
// knows about; the reconciler visits them with the sides swapped.
func unmatchedNames(primary, other []string) []string {
	remaining := make([]string, 0, len(other))
	for _, name := range other {
		matched := false
		for _, p := range primary {
			if p == name {
				matched = true
				break
			}
		}
		if !matched {
			remaining = append(remaining, name)
		}
	}
	return remaining
}
