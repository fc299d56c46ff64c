package treesync

import "errors"

// ErrTypeConflict marks an entry that is a file on one replica and a
// directory on the other. The entry is reported and left untouched on both
// sides; only a human can decide which object survives.
var ErrTypeConflict = errors.New("entry type conflict")
