package treesync

import (
	"fmt"

	"github.com/replisync/replisync/pkg/accessor"
	"github.com/replisync/replisync/pkg/index"
)

// Role tags which replica an accessor plays in a sync pass. The reconciler
// is invoked symmetrically (either replica may be the "from" side of one
// entry), so the role travels next to the accessor instead of being inferred
// from reference identity.
type Role int

const (
	// RoleLocal is the replica whose records are dropped outright when
	// their object turns out to have vanished mid-copy.
	RoleLocal Role = iota
	// RoleRemote is the authoritative replica: vanished remote objects are
	// tombstoned so the deletion still propagates.
	RoleRemote
)

var roleToString = map[Role]string{RoleLocal: "local", RoleRemote: "remote"}

// String returns the string representation of a Role.
func (r Role) String() string {
	if str, ok := roleToString[r]; ok {
		return str
	}
	return fmt.Sprintf("unknown_role(%d)", int(r))
}

// side binds a role, its accessor and the mutable name index of the
// directory currently being reconciled. The index is owned by the running
// call tree; there is exactly one writer at a time.
type side struct {
	role Role
	acc  accessor.Accessor
	idx  index.NameIndex
}
