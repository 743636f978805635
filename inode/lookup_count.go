package inode

import "fmt"

// lookupCount mirrors the kernel's lookup-count protocol: every
// successful lookup/create that hands the kernel an inode number
// increments it, and ForgetInode decrements it by the kernel-supplied
// amount. External synchronization (the Table's lock) is required.
type lookupCount struct {
	count uint64
}

func (lc *lookupCount) Inc() {
	lc.count++
}

// Dec decrements the count by n and reports whether it reached zero.
func (lc *lookupCount) Dec(n uint64) (zero bool) {
	if n > lc.count {
		panic(fmt.Sprintf("forget count %d exceeds lookup count %d", n, lc.count))
	}
	lc.count -= n
	return lc.count == 0
}
