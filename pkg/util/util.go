package util

import (
	"fmt"
	"path"
	"strings"
)

// Replica paths ("path keys") are always absolute, forward-slash paths
// rooted at the replica root: "/", "/folder", "/folder/a.txt". They are
// never handed to the OS directly; accessors translate them to whatever
// their backend needs.

// NormalizePath converts an arbitrary path string into a canonical path key.
// Backslashes are folded to forward slashes, the result is cleaned and is
// guaranteed to start with "/".
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// JoinPath joins a directory path key and an entry name into a child path key.
func JoinPath(dir, name string) string {
	return NormalizePath(path.Join(dir, name))
}

// BaseName returns the last segment of a path key.
// The root path yields "/".
func BaseName(p string) string {
	return path.Base(NormalizePath(p))
}

// ByteCountIEC renders a byte count in human readable IEC units (KiB, MiB, ...).
func ByteCountIEC(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// InvertMap takes a map[K]V and returns a map[V]K.
// It's a generic helper for creating reverse lookup maps for enums.
func InvertMap[K comparable, V comparable](m map[K]V) map[V]K {
	inv := make(map[V]K, len(m))
	for k, v := range m {
		inv[v] = k
	}
	return inv
}
