package overlay

import (
	"context"
	"os"
	"sort"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// dirHandle holds the merged, stably-ordered listing for one OpenDir call.
// The listing is computed once at open time; concurrent mutations of the
// directory are not reflected until the next OpenDir, matching the
// teacher's dirHandle snapshot-at-open behavior.
type dirHandle struct {
	relPath string
	entries []fuseops.Dirent
}

// buildDirHandle merges the upper and lower directory listings for
// relPath: upper entries take precedence, whiteout markers suppress their
// target name from the lower listing, and an opaque marker suppresses the
// entire lower listing.
func (fs *FS) buildDirHandle(ctx context.Context, relPath string) (*dirHandle, error) {
	seen := map[string]bool{}
	whited := map[string]bool{}
	var names []string
	kinds := map[string]os.FileMode{}

	upperEntries, upperErr := os.ReadDir(fs.upperPath(relPath))
	if upperErr != nil && !os.IsNotExist(upperErr) {
		return nil, upperErr
	}
	for _, de := range upperEntries {
		if de.Name() == opaqueMarker {
			continue
		}
		if target, ok := whiteoutTarget(de.Name()); ok {
			whited[target] = true
			continue
		}
		if seen[de.Name()] {
			continue
		}
		seen[de.Name()] = true
		names = append(names, de.Name())
		kinds[de.Name()] = de.Type()
	}

	opaque := fs.Table.IsOpaque(relPath) || fs.isOpaqueOnDisk(relPath)
	if !opaque {
		lowerEntries, lowerErr := os.ReadDir(fs.lowerPath(relPath))
		if lowerErr != nil && !os.IsNotExist(lowerErr) {
			return nil, lowerErr
		}
		for _, de := range lowerEntries {
			if seen[de.Name()] || whited[de.Name()] {
				continue
			}
			seen[de.Name()] = true
			names = append(names, de.Name())
			kinds[de.Name()] = de.Type()
		}
	}

	sort.Strings(names)

	dh := &dirHandle{relPath: relPath}
	var offset fuseops.DirOffset = 1
	for _, name := range names {
		full := childPath(relPath, name)
		entry, err := fs.Table.LookupOrCreate(full, fs.resolveFunc(ctx, relPath, name))
		if err != nil {
			continue
		}

		dirType := fuseutil.DT_File
		if kinds[name]&os.ModeDir != 0 {
			dirType = fuseutil.DT_Directory
		}

		dh.entries = append(dh.entries, fuseops.Dirent{
			Offset: offset,
			Inode:  fuseops.InodeID(entry.ID),
			Name:   name,
			Type:   dirType,
		})
		offset++
	}

	return dh, nil
}

// readInto appends dh's entries starting at op.Offset into op.Data, up to
// op.Size, matching fuseops.ReadDirOp's documented contract.
func (dh *dirHandle) readInto(op *fuseops.ReadDirOp) {
	for i := int(op.Offset); i < len(dh.entries); i++ {
		data := fuseutil.AppendDirent(op.Data, dh.entries[i])
		if len(data) > op.Size {
			break
		}
		op.Data = data
	}
}
