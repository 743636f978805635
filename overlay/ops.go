package overlay

import (
	"io"
	"os"
	"time"

	"github.com/branchbox/branchbox/changelog"
	"github.com/branchbox/branchbox/inode"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
)

// pathOf returns the canonical path the table currently associates with
// ino, or "" if ino is unknown (the root has canonical path "").
func (fs *FS) pathOf(ino fuseops.InodeID) (string, bool) {
	entry, ok := fs.Table.Get(uint64(ino))
	if !ok {
		return "", false
	}
	if entry.Residency == inode.Whiteout {
		return "", false
	}
	return entry.Path, true
}

func (fs *FS) attrsFor(entry *inode.Entry) fuseops.InodeAttributes {
	mode := os.FileMode(entry.Mode)
	switch entry.Kind {
	case inode.DirKind:
		mode |= os.ModeDir
	case inode.SymlinkKind:
		mode |= os.ModeSymlink
	}
	nlink := uint64(1)
	if entry.LinkCount > 0 {
		nlink = uint64(entry.LinkCount)
	}
	if entry.Kind == inode.DirKind {
		nlink = 2
	}
	return fuseops.InodeAttributes{
		Size:  entry.Size,
		Nlink: nlink,
		Mode:  mode,
		Atime: entry.Mtime,
		Mtime: entry.Mtime,
		Ctime: entry.Mtime,
		Uid:   fs.Uid,
		Gid:   fs.Gid,
	}
}

func (fs *FS) childEntry(entry *inode.Entry) fuseops.ChildInodeEntry {
	now := time.Now()
	return fuseops.ChildInodeEntry{
		Child:                fuseops.InodeID(entry.ID),
		Generation:           fuseops.GenerationNumber(entry.Generation),
		Attributes:           fs.attrsFor(entry),
		AttributesExpiration: now.Add(fs.TTL),
		EntryExpiration:      now.Add(fs.TTL),
	}
}

func (fs *FS) LookUpInode(op *fuseops.LookUpInodeOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}

	full := childPath(parentPath, op.Name)
	entry, err := fs.Table.LookupOrCreate(full, fs.resolveFunc(op.Context(), parentPath, op.Name))
	if err != nil {
		return translateLookupErr(err)
	}

	op.Entry = fs.childEntry(entry)
	return nil
}

func translateLookupErr(err error) error {
	if err == inode.ErrNotFound {
		return fuse.ENOENT
	}
	if os.IsNotExist(err) {
		return fuse.ENOENT
	}
	return err
}

func (fs *FS) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	entry, ok := fs.Table.Get(uint64(op.Inode))
	if !ok || entry.Residency == inode.Whiteout {
		return fuse.ENOENT
	}
	op.Attributes = fs.attrsFor(entry)
	op.AttributesExpiration = time.Now().Add(fs.TTL)
	return nil
}

func (fs *FS) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	entry, ok := fs.Table.Get(uint64(op.Inode))
	if !ok || entry.Residency == inode.Whiteout {
		return fuse.ENOENT
	}

	passthrough := fs.isPassthrough(op.Context(), entry.Path)

	targetPath := fs.upperPath(entry.Path)
	if passthrough {
		targetPath = fs.lowerPath(entry.Path)
	} else if err := fs.ensureUpper(entry, entry.Path); err != nil {
		return err
	}

	if op.Size != nil {
		if err := os.Truncate(targetPath, int64(*op.Size)); err != nil {
			return err
		}
		entry.Size = *op.Size
	}
	if op.Mode != nil {
		if err := os.Chmod(targetPath, *op.Mode); err != nil {
			return err
		}
		entry.Mode = uint32(op.Mode.Perm())
	}
	if op.Mtime != nil {
		atime := *op.Mtime
		if op.Atime != nil {
			atime = *op.Atime
		}
		if err := os.Chtimes(targetPath, atime, *op.Mtime); err != nil {
			return err
		}
		entry.Mtime = *op.Mtime
	}

	if !passthrough {
		fs.appendChange(entry.Path, changelog.Modified)
	}

	op.Attributes = fs.attrsFor(entry)
	op.AttributesExpiration = time.Now().Add(fs.TTL)
	return nil
}

func (fs *FS) ForgetInode(op *fuseops.ForgetInodeOp) error {
	fs.Table.Forget(uint64(op.Inode), op.N)
	return nil
}

func (fs *FS) MkDir(op *fuseops.MkDirOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	full := childPath(parentPath, op.Name)

	lock := fs.dirLock(parentPath)
	lock.Lock()
	defer lock.Unlock()

	if fs.entryExists(parentPath, op.Name) {
		return fuse.EEXIST
	}

	if fs.isPassthrough(op.Context(), full) {
		if err := os.Mkdir(fs.lowerPath(full), op.Mode.Perm()|os.ModeDir); err != nil {
			return err
		}
		entry, err := fs.Table.LookupOrCreate(full, fs.resolveFunc(op.Context(), parentPath, op.Name))
		if err != nil {
			return err
		}
		entry.Mtime = time.Now()
		op.Entry = fs.childEntry(entry)
		return nil
	}

	if err := os.MkdirAll(fs.upperPath(full), op.Mode.Perm()|os.ModeDir); err != nil {
		return err
	}
	fs.clearWhiteoutMarker(parentPath, op.Name)
	fs.Table.ClearWhiteout(full)

	entry, err := fs.Table.LookupOrCreate(full, fs.resolveFunc(op.Context(), parentPath, op.Name))
	if err != nil {
		return err
	}
	entry.Mtime = time.Now()

	op.Entry = fs.childEntry(entry)
	return nil
}

func (fs *FS) entryExists(parentPath, name string) bool {
	full := childPath(parentPath, name)
	if _, err := os.Lstat(fs.upperPath(full)); err == nil {
		return true
	}
	if fs.hasWhiteoutMarker(parentPath, name) {
		return false
	}
	_, err := os.Lstat(fs.lowerPath(full))
	return err == nil
}

func (fs *FS) CreateFile(op *fuseops.CreateFileOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	full := childPath(parentPath, op.Name)

	lock := fs.dirLock(parentPath)
	lock.Lock()
	defer lock.Unlock()

	if fs.entryExists(parentPath, op.Name) {
		return fuse.EEXIST
	}

	if fs.isPassthrough(op.Context(), full) {
		f, err := os.OpenFile(fs.lowerPath(full), os.O_CREATE|os.O_EXCL|os.O_WRONLY, op.Mode.Perm())
		if err != nil {
			return err
		}
		f.Close()

		entry, err := fs.Table.LookupOrCreate(full, fs.resolveFunc(op.Context(), parentPath, op.Name))
		if err != nil {
			return err
		}
		entry.Mtime = time.Now()

		op.Entry = fs.childEntry(entry)
		return nil
	}

	if err := os.MkdirAll(fs.upperPath(parentPath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(fs.upperPath(full), os.O_CREATE|os.O_EXCL|os.O_WRONLY, op.Mode.Perm())
	if err != nil {
		return err
	}
	f.Close()
	fs.clearWhiteoutMarker(parentPath, op.Name)
	fs.Table.ClearWhiteout(full)

	entry, err := fs.Table.LookupOrCreate(full, fs.resolveFunc(op.Context(), parentPath, op.Name))
	if err != nil {
		return err
	}
	entry.Mtime = time.Now()

	op.Entry = fs.childEntry(entry)
	fs.appendChange(full, changelog.Created)
	return nil
}

func (fs *FS) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	full := childPath(parentPath, op.Name)

	lock := fs.dirLock(parentPath)
	lock.Lock()
	defer lock.Unlock()

	if fs.entryExists(parentPath, op.Name) {
		return fuse.EEXIST
	}

	if fs.isPassthrough(op.Context(), full) {
		if err := os.Symlink(op.Target, fs.lowerPath(full)); err != nil {
			return err
		}

		entry, err := fs.Table.LookupOrCreate(full, fs.resolveFunc(op.Context(), parentPath, op.Name))
		if err != nil {
			return err
		}
		entry.Mtime = time.Now()

		op.Entry = fs.childEntry(entry)
		return nil
	}

	if err := os.MkdirAll(fs.upperPath(parentPath), 0755); err != nil {
		return err
	}
	if err := os.Symlink(op.Target, fs.upperPath(full)); err != nil {
		return err
	}
	fs.clearWhiteoutMarker(parentPath, op.Name)
	fs.Table.ClearWhiteout(full)

	entry, err := fs.Table.LookupOrCreate(full, fs.resolveFunc(op.Context(), parentPath, op.Name))
	if err != nil {
		return err
	}
	entry.Mtime = time.Now()

	op.Entry = fs.childEntry(entry)
	fs.appendChange(full, changelog.Created)
	return nil
}

func (fs *FS) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	entry, ok := fs.Table.Get(uint64(op.Inode))
	if !ok || entry.Residency == inode.Whiteout {
		return fuse.ENOENT
	}
	target, err := os.Readlink(fs.residencyPath(entry.Path, entry.Residency))
	if err != nil {
		return err
	}
	op.Target = target
	return nil
}

func (fs *FS) RmDir(op *fuseops.RmDirOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	full := childPath(parentPath, op.Name)

	lock := fs.dirLock(parentPath)
	lock.Lock()
	defer lock.Unlock()

	dh, err := fs.buildDirHandle(op.Context(), full)
	if err == nil && len(dh.entries) > 0 {
		return fuse.ENOTEMPTY
	}

	entry, err := fs.Table.LookupOrCreate(full, fs.resolveFunc(op.Context(), parentPath, op.Name))
	if err != nil {
		return translateLookupErr(err)
	}

	if fs.isPassthrough(op.Context(), full) {
		if err := os.Remove(fs.lowerPath(full)); err != nil && !os.IsNotExist(err) {
			return err
		}
		fs.Table.MarkWhiteout(entry.ID, full)
		return nil
	}

	hadLower := entry.Residency == inode.Both || entry.Residency == inode.LowerOnly

	if err := os.RemoveAll(fs.upperPath(full)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if hadLower {
		if err := fs.writeWhiteout(parentPath, op.Name); err != nil {
			return err
		}
	}

	fs.Table.MarkWhiteout(entry.ID, full)
	fs.appendChange(full, changelog.Deleted)
	return nil
}

func (fs *FS) lowerExists(relPath string) bool {
	_, err := os.Lstat(fs.lowerPath(relPath))
	return err == nil
}

func (fs *FS) Unlink(op *fuseops.UnlinkOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	full := childPath(parentPath, op.Name)

	lock := fs.dirLock(parentPath)
	lock.Lock()
	defer lock.Unlock()

	entry, err := fs.Table.LookupOrCreate(full, fs.resolveFunc(op.Context(), parentPath, op.Name))
	if err != nil {
		return translateLookupErr(err)
	}

	if fs.isPassthrough(op.Context(), full) {
		if err := os.Remove(fs.lowerPath(full)); err != nil {
			return err
		}
		fs.Table.MarkWhiteout(entry.ID, full)
		return nil
	}

	hadLower := entry.Residency == inode.Both || entry.Residency == inode.LowerOnly

	if err := os.Remove(fs.upperPath(full)); err != nil && !os.IsNotExist(err) {
		return err
	}

	if hadLower {
		if err := fs.writeWhiteout(parentPath, op.Name); err != nil {
			return err
		}
	}

	fs.Table.MarkWhiteout(entry.ID, full)
	fs.appendChange(full, changelog.Deleted)
	return nil
}

func (fs *FS) Rename(op *fuseops.RenameOp) error {
	oldParentPath, ok := fs.pathOf(op.OldParent)
	if !ok {
		return fuse.ENOENT
	}
	newParentPath, ok := fs.pathOf(op.NewParent)
	if !ok {
		return fuse.ENOENT
	}
	oldFull := childPath(oldParentPath, op.OldName)
	newFull := childPath(newParentPath, op.NewName)

	srcLock := fs.dirLock(oldParentPath)
	srcLock.Lock()
	defer srcLock.Unlock()
	if newParentPath != oldParentPath {
		dstLock := fs.dirLock(newParentPath)
		dstLock.Lock()
		defer dstLock.Unlock()
	}

	entry, err := fs.Table.LookupOrCreate(oldFull, fs.resolveFunc(op.Context(), oldParentPath, op.OldName))
	if err != nil {
		return translateLookupErr(err)
	}

	if fs.isPassthrough(op.Context(), oldFull) && fs.isPassthrough(op.Context(), newFull) {
		if err := os.Rename(fs.lowerPath(oldFull), fs.lowerPath(newFull)); err != nil {
			return err
		}
		fs.Table.MarkWhiteout(entry.ID, oldFull)
		if _, err := fs.Table.Link(entry.ID, newFull); err != nil {
			return err
		}
		fs.Table.SetResidency(entry.ID, inode.LowerOnly)
		entry.Path = newFull
		return nil
	}

	// Fast path: the entry is already upper-only, so the rename is a
	// single os.Rename plus inode-table bookkeeping. Anything else
	// (a lower-layer shadow must be copied up first) degrades to
	// copy-then-delete, which is not atomic from the caller's view.
	if entry.Residency != inode.UpperOnly {
		if err := fs.ensureUpper(entry, oldFull); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(fs.upperPath(newParentPath), 0755); err != nil {
		return err
	}
	if err := os.Rename(fs.upperPath(oldFull), fs.upperPath(newFull)); err != nil {
		return err
	}

	if fs.lowerExists(oldFull) {
		if err := fs.writeWhiteout(oldParentPath, op.OldName); err != nil {
			return err
		}
	}
	fs.clearWhiteoutMarker(newParentPath, op.NewName)

	fs.Table.MarkWhiteout(entry.ID, oldFull)
	fs.Table.ClearWhiteout(newFull)
	if _, err := fs.Table.Link(entry.ID, newFull); err != nil {
		return err
	}
	// The inode now lives at newFull; undo the Whiteout residency that
	// MarkWhiteout set when its old name was removed.
	residency := inode.UpperOnly
	if fs.lowerExists(newFull) {
		residency = inode.Both
	}
	fs.Table.SetResidency(entry.ID, residency)
	entry.Path = newFull

	fs.Log.AppendRename(oldFull, newFull, time.Now())
	fs.notify()
	return nil
}

func (fs *FS) CreateLink(op *fuseops.CreateLinkOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	entry, ok := fs.Table.Get(uint64(op.Target))
	if !ok || entry.Residency == inode.Whiteout {
		return fuse.ENOENT
	}

	lock := fs.dirLock(parentPath)
	lock.Lock()
	defer lock.Unlock()

	if fs.entryExists(parentPath, op.Name) {
		return fuse.EEXIST
	}

	full := childPath(parentPath, op.Name)

	if fs.isPassthrough(op.Context(), entry.Path) && fs.isPassthrough(op.Context(), full) {
		if err := os.Link(fs.lowerPath(entry.Path), fs.lowerPath(full)); err != nil {
			return err
		}
		linked, err := fs.Table.Link(entry.ID, full)
		if err != nil {
			return err
		}
		op.Entry = fs.childEntry(linked)
		return nil
	}

	if err := fs.ensureUpper(entry, entry.Path); err != nil {
		return err
	}

	if err := os.MkdirAll(fs.upperPath(parentPath), 0755); err != nil {
		return err
	}
	if err := os.Link(fs.upperPath(entry.Path), fs.upperPath(full)); err != nil {
		return err
	}
	fs.clearWhiteoutMarker(parentPath, op.Name)

	linked, err := fs.Table.Link(entry.ID, full)
	if err != nil {
		return err
	}

	op.Entry = fs.childEntry(linked)
	fs.appendChange(full, changelog.Created)
	return nil
}

func (fs *FS) OpenDir(op *fuseops.OpenDirOp) error {
	relPath, ok := fs.pathOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	dh, err := fs.buildDirHandle(op.Context(), relPath)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	fs.nextHandleID++
	id := fs.nextHandleID
	fs.handles[id] = dh
	fs.mu.Unlock()

	op.Handle = id
	return nil
}

func (fs *FS) ReadDir(op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh, ok := fs.handles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EIO
	}
	dh.readInto(op)
	return nil
}

func (fs *FS) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	delete(fs.handles, op.Handle)
	fs.mu.Unlock()
	return nil
}

func (fs *FS) OpenFile(op *fuseops.OpenFileOp) error {
	entry, ok := fs.Table.Get(uint64(op.Inode))
	if !ok || entry.Residency == inode.Whiteout {
		return fuse.ENOENT
	}
	// Handles are identified by inode for this filesystem: reads and
	// writes look the path up again from the table rather than caching
	// an *os.File, so there is nothing to allocate here.
	op.Handle = fuseops.HandleID(op.Inode)
	return nil
}

func (fs *FS) ReadFile(op *fuseops.ReadFileOp) error {
	entry, ok := fs.Table.Get(uint64(op.Inode))
	if !ok || entry.Residency == inode.Whiteout {
		return fuse.ENOENT
	}

	f, err := os.Open(fs.residencyPath(entry.Path, entry.Residency))
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, op.Size)
	n, err := f.ReadAt(buf, op.Offset)
	if err != nil && err != io.EOF {
		return err
	}
	op.Data = buf[:n]
	return nil
}

func (fs *FS) WriteFile(op *fuseops.WriteFileOp) error {
	entry, ok := fs.Table.Get(uint64(op.Inode))
	if !ok || entry.Residency == inode.Whiteout {
		return fuse.ENOENT
	}

	passthrough := fs.isPassthrough(op.Context(), entry.Path)

	targetPath := fs.upperPath(entry.Path)
	if passthrough {
		targetPath = fs.lowerPath(entry.Path)
	} else if err := fs.ensureUpper(entry, entry.Path); err != nil {
		return err
	}

	f, err := os.OpenFile(targetPath, os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt(op.Data, op.Offset); err != nil {
		return err
	}

	newEnd := uint64(op.Offset) + uint64(len(op.Data))
	if newEnd > entry.Size {
		entry.Size = newEnd
	}
	entry.Mtime = time.Now()

	if !passthrough {
		fs.appendChange(entry.Path, changelog.Modified)
	}
	return nil
}

func (fs *FS) SyncFile(op *fuseops.SyncFileOp) error {
	// Upper-layer writes land directly on disk with no buffering layer
	// in front, so there is nothing to flush here.
	return nil
}

func (fs *FS) FlushFile(op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *FS) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *FS) StatFS(op *fuseops.StatFSOp) error {
	return fs.statfs(op)
}
