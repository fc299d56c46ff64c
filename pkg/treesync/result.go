package treesync

import "fmt"

// EntryError records a reconciliation failure for a single entry. Failures
// are contained per entry so one broken file never aborts the pass.
type EntryError struct {
	Path string
	Err  error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e EntryError) Unwrap() error {
	return e.Err
}

// Result reports what a sync pass did to each replica.
type Result struct {
	// LocalChanged is true when the pass mutated local content, created
	// local directories or deleted local objects.
	LocalChanged bool
	// RemoteChanged is the same for the remote replica.
	RemoteChanged bool
	// Errors holds the per-entry failures accumulated during the pass.
	Errors []EntryError
}

// Changed reports whether either replica was mutated.
func (r Result) Changed() bool {
	return r.LocalChanged || r.RemoteChanged
}

func (r *Result) merge(other Result) {
	r.LocalChanged = r.LocalChanged || other.LocalChanged
	r.RemoteChanged = r.RemoteChanged || other.RemoteChanged
	r.Errors = append(r.Errors, other.Errors...)
}
