// Package inode owns the overlay's inode table: allocation of stable
// 64-bit inode numbers, residency tracking across the lower and upper
// layers, whiteout and opaque-directory bookkeeping, and lookup-count
// reference counting mirroring the kernel's own forget protocol.
package inode

import "time"

// Kind identifies what an inode represents.
type Kind int

const (
	FileKind Kind = iota
	DirKind
	SymlinkKind
)

// Residency records which layer(s) currently hold a path's data.
type Residency int

const (
	// LowerOnly means the path exists only in the immutable worktree.
	LowerOnly Residency = iota
	// UpperOnly means the path was created entirely in the upper layer.
	UpperOnly
	// Both means copy-up has occurred: the upper layer shadows the lower.
	Both
	// Whiteout means the path has been deleted; a .wh.<name> marker
	// shadows a lower-layer entry of the same name.
	Whiteout
)

// RootID is reserved for the mount root and is never allocated by mint.
const RootID uint64 = 1

// Entry is one inode's state. Path is its canonical identity: no "./"
// prefix, no trailing slash. A hardlinked inode has more than one Path
// reachable to it; Paths tracks all of them.
type Entry struct {
	ID         uint64
	Kind       Kind
	Residency  Residency
	Path       string
	Paths      map[string]struct{}
	Generation uint64
	LinkCount  uint32

	// Cached attributes, valid until AttrExpiresAt per fuse_ttl_secs.
	Size          uint64
	Mode          uint32
	Mtime         time.Time
	AttrExpiresAt time.Time

	lookup lookupCount
}

// AttrValid reports whether the cached attributes are still within TTL
// as of now.
func (e *Entry) AttrValid(now time.Time) bool {
	return now.Before(e.AttrExpiresAt)
}
