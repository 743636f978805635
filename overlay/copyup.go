package overlay

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/branchbox/branchbox/inode"
)

// copyUp materializes relPath (currently lower_only) into the upper layer.
// It copies data, mode, and mtime via a temp file in the destination
// directory followed by a rename, so a crash or ENOSPC mid-copy never
// leaves a half-written file visible at the real path. Callers are
// responsible for updating the inode.Table's residency afterward.
func (fs *FS) copyUp(relPath string) error {
	srcPath := fs.lowerPath(relPath)
	fi, err := os.Lstat(srcPath)
	if err != nil {
		return fmt.Errorf("copy-up: stat source: %w", err)
	}

	destDir := filepath.Dir(fs.upperPath(relPath))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("copy-up: mkdir upper parent: %w", err)
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(srcPath)
		if err != nil {
			return fmt.Errorf("copy-up: readlink: %w", err)
		}
		tmp := filepath.Join(destDir, tempName(filepath.Base(relPath)))
		if err := os.Symlink(target, tmp); err != nil {
			return fmt.Errorf("copy-up: symlink temp: %w", err)
		}
		if err := os.Rename(tmp, fs.upperPath(relPath)); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("copy-up: rename temp symlink: %w", err)
		}
		return nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("copy-up: open source: %w", err)
	}
	defer src.Close()

	tmp := filepath.Join(destDir, tempName(filepath.Base(relPath)))
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return fmt.Errorf("copy-up: create temp: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy-up: copy data: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("copy-up: close temp: %w", err)
	}
	if err := os.Chtimes(tmp, fi.ModTime(), fi.ModTime()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("copy-up: preserve mtime: %w", err)
	}
	if err := os.Rename(tmp, fs.upperPath(relPath)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("copy-up: rename into place: %w", err)
	}

	return nil
}

func tempName(base string) string {
	return fmt.Sprintf(".branchbox-copyup-%s-%d", base, os.Getpid())
}

// ensureUpper copies relPath up if entry is still lower-only, then marks
// its residency Both. It is a no-op for entries already resident upper.
func (fs *FS) ensureUpper(entry *inode.Entry, relPath string) error {
	if entry.Residency != inode.LowerOnly {
		return nil
	}
	if err := fs.copyUp(relPath); err != nil {
		return err
	}
	fs.Table.SetResidency(entry.ID, inode.Both)
	entry.Residency = inode.Both
	return nil
}
