package overlay

import (
	"os"
	"path/filepath"
	"strings"
)

// whiteout markers are plain files named ".wh.<name>" in the upper-layer
// directory, and an opaque directory carries a ".wh..wh..opq" marker file.
// This is the OCI/Docker layer tar convention, chosen over a kernel
// overlayfs trusted.overlay.whiteout xattr because the upper layer here is
// an ordinary directory on whatever filesystem the session's scratch space
// lives on, which may not support trusted xattrs for a non-root user.
const (
	whiteoutPrefix = ".wh."
	opaqueMarker   = ".wh..wh..opq"
)

func whiteoutName(name string) string {
	return whiteoutPrefix + name
}

// whiteoutTarget returns the original name a whiteout marker shadows, or
// ok=false if name is not a whiteout marker (or is the opaque marker
// itself, which is not a per-entry whiteout).
func whiteoutTarget(name string) (target string, ok bool) {
	if name == opaqueMarker || !strings.HasPrefix(name, whiteoutPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, whiteoutPrefix), true
}

func (fs *FS) upperPath(relPath string) string {
	return filepath.Join(fs.UpperDir, relPath)
}

func (fs *FS) lowerPath(relPath string) string {
	return filepath.Join(fs.LowerDir, relPath)
}

// writeWhiteout creates the on-disk marker for a deletion of name within
// parentPath's upper directory.
func (fs *FS) writeWhiteout(parentPath, name string) error {
	if err := os.MkdirAll(fs.upperPath(parentPath), 0755); err != nil {
		return err
	}
	marker := filepath.Join(fs.upperPath(parentPath), whiteoutName(name))
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (fs *FS) clearWhiteoutMarker(parentPath, name string) error {
	marker := filepath.Join(fs.upperPath(parentPath), whiteoutName(name))
	err := os.Remove(marker)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (fs *FS) hasWhiteoutMarker(parentPath, name string) bool {
	marker := filepath.Join(fs.upperPath(parentPath), whiteoutName(name))
	_, err := os.Lstat(marker)
	return err == nil
}

func (fs *FS) writeOpaqueMarker(dirPath string) error {
	marker := filepath.Join(fs.upperPath(dirPath), opaqueMarker)
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (fs *FS) isOpaqueOnDisk(dirPath string) bool {
	_, err := os.Lstat(filepath.Join(fs.upperPath(dirPath), opaqueMarker))
	return err == nil
}
