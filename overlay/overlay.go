// Package overlay implements the copy-on-write filesystem served over a
// session's mount point. It composes an immutable lower directory (the git
// worktree) with a mutable upper directory (session scratch space) and an
// inode.Table, dispatching FUSE operations via fuseutil.FileSystem.
package overlay

import (
	"path"
	"sync"
	"time"

	"github.com/branchbox/branchbox/changelog"
	"github.com/branchbox/branchbox/classify"
	"github.com/branchbox/branchbox/inode"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// LOCK ORDERING
//
// Let T be the inode.Table's internal lock and FS be fs.mu below. Table is
// always locked and released by its own methods (LookupOrCreate, Get,
// SetResidency, ...) and never held across a disk syscall; FS protects only
// the directory-handle map. Hold at most one of {FS, a per-directory upper
// lock} at a time: never acquire FS while holding a directory lock below.
//
// Upper-layer directory mutations (create, unlink, rename, whiteout) are
// serialized per directory via dirLocks so that a whiteout transition is
// atomic with respect to a concurrent lookup of the same name.

// MutationNotifier is notified after every operation that appends to the
// change log, so the auto-commit loop's debounce timer can wake immediately
// instead of waiting for its next poll.
type MutationNotifier interface {
	Notify()
}

// FS is the overlay filesystem. One FS exists per mounted session.
type FS struct {
	fuseutil.NotImplementedFileSystem

	LowerDir string
	UpperDir string

	Table      *inode.Table
	Classifier *classify.Classifier
	Log        *changelog.Log
	Notifier   MutationNotifier

	Uid uint32
	Gid uint32
	TTL time.Duration

	mu           sync.Mutex
	handles      map[fuseops.HandleID]*dirHandle
	nextHandleID fuseops.HandleID

	dirLocksMu sync.Mutex
	dirLocks   map[string]*sync.Mutex
}

// New builds an FS rooted at lowerDir/upperDir, sharing table for inode
// bookkeeping. ttl is the attribute cache validity window (fuse_ttl_secs).
func New(lowerDir, upperDir string, table *inode.Table, classifier *classify.Classifier, log *changelog.Log, notifier MutationNotifier, uid, gid uint32, ttl time.Duration) *FS {
	return &FS{
		LowerDir:   lowerDir,
		UpperDir:   upperDir,
		Table:      table,
		Classifier: classifier,
		Log:        log,
		Notifier:   notifier,
		Uid:        uid,
		Gid:        gid,
		TTL:        ttl,
		handles:    map[fuseops.HandleID]*dirHandle{},
		dirLocks:   map[string]*sync.Mutex{},
	}
}

func (fs *FS) Init(op *fuseops.InitOp) error {
	return nil
}

// dirLock returns the per-upper-directory mutex for relPath, creating it on
// first use. Callers hold it across a whiteout/create/unlink/rename so the
// upper-layer dirent list and the table's whiteout bookkeeping never
// observe an intermediate state.
func (fs *FS) dirLock(relPath string) *sync.Mutex {
	fs.dirLocksMu.Lock()
	defer fs.dirLocksMu.Unlock()
	m, ok := fs.dirLocks[relPath]
	if !ok {
		m = &sync.Mutex{}
		fs.dirLocks[relPath] = m
	}
	return m
}

// childPath joins a parent's canonical relative path with a child name.
// The mount root's canonical path is "".
func childPath(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return path.Join(parentPath, name)
}

func (fs *FS) notify() {
	if fs.Notifier != nil {
		fs.Notifier.Notify()
	}
}

func (fs *FS) appendChange(relPath string, kind changelog.Kind) {
	fs.Log.Append(relPath, kind, time.Now())
	fs.notify()
}
