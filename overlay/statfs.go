package overlay

import (
	"github.com/jacobsa/fuse/fuseops"
	"golang.org/x/sys/unix"
)

// statfs reports the upper layer's filesystem capacity, the figure a
// session's df should reflect since all new writes land there.
func (fs *FS) statfs(op *fuseops.StatFSOp) error {
	var buf unix.Statfs_t
	if err := unix.Statfs(fs.UpperDir, &buf); err != nil {
		return err
	}

	op.BlockSize = uint32(buf.Bsize)
	op.Blocks = buf.Blocks
	op.BlocksFree = buf.Bfree
	op.BlocksAvailable = buf.Bavail
	op.IoSize = 65536
	op.Inodes = buf.Files
	op.InodesFree = buf.Ffree
	return nil
}
