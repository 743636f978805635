package overlay

import (
	"context"
	"os"

	"github.com/branchbox/branchbox/classify"
	"github.com/branchbox/branchbox/inode"
)

func kindOf(fi os.FileInfo) inode.Kind {
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		return inode.SymlinkKind
	case fi.IsDir():
		return inode.DirKind
	default:
		return inode.FileKind
	}
}

// isPassthrough reports whether relPath should be served directly from the
// lower layer, bypassing copy-on-write entirely. Only the Passthrough
// classification routes this way; Normal/Include/Skip/Ignored all take the
// overlay path (the classifier's gitignore verdict governs auto-commit and
// sync, not the filesystem's copy-up behavior).
func (fs *FS) isPassthrough(ctx context.Context, relPath string) bool {
	if fs.Classifier == nil {
		return false
	}
	cls, err := fs.Classifier.Classify(ctx, relPath)
	if err != nil {
		return false
	}
	return cls == classify.Passthrough
}

// resolveFunc builds the inode.ResolveFunc for a first-time lookup of
// parentPath/name, implementing spec.md's getattr/lookup rule: passthrough
// stats the lower layer directly; overlay paths stat upper first, then
// check for a whiteout, then fall back to the lower layer.
func (fs *FS) resolveFunc(ctx context.Context, parentPath, name string) inode.ResolveFunc {
	full := childPath(parentPath, name)
	return func() (inode.Kind, inode.Residency, uint64, uint32, error) {
		if fs.isPassthrough(ctx, full) {
			fi, err := os.Lstat(fs.lowerPath(full))
			if err != nil {
				return 0, 0, 0, 0, translateStatErr(err)
			}
			return kindOf(fi), inode.LowerOnly, uint64(fi.Size()), uint32(fi.Mode().Perm()), nil
		}

		upperFi, upperErr := os.Lstat(fs.upperPath(full))
		if upperErr == nil {
			lowerFi, lowerErr := os.Lstat(fs.lowerPath(full))
			residency := inode.UpperOnly
			if lowerErr == nil {
				residency = inode.Both
			}
			return kindOf(upperFi), residency, uint64(upperFi.Size()), uint32(upperFi.Mode().Perm()), nil
		}
		if !os.IsNotExist(upperErr) {
			return 0, 0, 0, 0, upperErr
		}

		if fs.hasWhiteoutMarker(parentPath, name) {
			return 0, 0, 0, 0, inode.ErrNotFound
		}

		lowerFi, lowerErr := os.Lstat(fs.lowerPath(full))
		if lowerErr != nil {
			return 0, 0, 0, 0, translateStatErr(lowerErr)
		}
		return kindOf(lowerFi), inode.LowerOnly, uint64(lowerFi.Size()), uint32(lowerFi.Mode().Perm()), nil
	}
}

func translateStatErr(err error) error {
	if os.IsNotExist(err) {
		return inode.ErrNotFound
	}
	return err
}

// residencyPath returns the directory (lower or upper) that currently holds
// the readable/writable copy of relPath for the given residency.
func (fs *FS) residencyPath(relPath string, residency inode.Residency) string {
	if residency == inode.LowerOnly {
		return fs.lowerPath(relPath)
	}
	return fs.upperPath(relPath)
}
