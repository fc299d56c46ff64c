package treesync

import (
	"fmt"
	"regexp"

	"github.com/replisync/replisync/pkg/util"
)

// exclusions filters entries out of a sync pass. Name matching looks at the
// bare entry name, path matching at the full slash-rooted path, so a single
// pattern can pin down either one directory or every entry of a given name.
type exclusions struct {
	name *regexp.Regexp
	path *regexp.Regexp
}

func compileExclusions(namePattern, pathPattern string) (*exclusions, error) {
	ex := &exclusions{}
	if namePattern != "" {
		re, err := regexp.Compile(namePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude name pattern %q: %w", namePattern, err)
		}
		ex.name = re
	}
	if pathPattern != "" {
		re, err := regexp.Compile(pathPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude path pattern %q: %w", pathPattern, err)
		}
		ex.path = re
	}
	return ex, nil
}

// Excluded reports whether the entry name inside dirPath should be skipped.
func (e *exclusions) Excluded(dirPath, name string) bool {
	if e.name != nil && e.name.MatchString(name) {
		return true
	}
	if e.path != nil && e.path.MatchString(util.JoinPath(dirPath, name)) {
		return true
	}
	return false
}
