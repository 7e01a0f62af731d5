package projection

import (
	"fmt"

	"github.com/marmos91/plevy/pkg/store/entry"
)

// Inode is a filesystem-facing node number.
type Inode uint64

// RootInode is the flat root directory. It has no backing entry.
const RootInode Inode = 1

// lastReserved is the highest inode number kept for virtual nodes.
// Every entry id must be greater than it.
const lastReserved Inode = RootInode

// ToInode maps an entry id to its inode number.
//
// The mapping is the identity: stores never hand out ids in the reserved
// range (see entry.ValidateFirstID), so ids can be used as inode numbers
// directly and no translation table has to be kept or persisted.
func ToInode(id entry.ID) Inode {
	return Inode(id)
}

// FromInode maps an inode back to an entry id. It returns false for inodes
// in the reserved range, which have no entry behind them.
func FromInode(ino Inode) (entry.ID, bool) {
	if IsReserved(ino) {
		return 0, false
	}
	return entry.ID(ino), true
}

// IsRoot reports whether ino is the root directory.
func IsRoot(ino Inode) bool {
	return ino == RootInode
}

// IsReserved reports whether ino belongs to the reserved range. Zero is
// included: FUSE never issues it for a real node.
func IsReserved(ino Inode) bool {
	return ino <= lastReserved
}

// ValidateIdentifier returns an error if id would collide with a reserved
// inode number.
func ValidateIdentifier(id entry.ID) error {
	if IsReserved(Inode(id)) {
		return fmt.Errorf("entry id %d: %w", id, entry.ErrReservedID)
	}
	return nil
}
