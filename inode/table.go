package inode

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by LookupOrCreate and Get when a path or
// inode number has no live entry — including a path shadowed by a
// whiteout.
var ErrNotFound = errors.New("inode: not found")

// ResolveFunc performs the actual layer consultation (stat upper, then
// lower) for a path that the Table has not seen before. It must not
// take the Table's lock. Returning ErrNotFound records nothing.
type ResolveFunc func() (kind Kind, residency Residency, size uint64, mode uint32, err error)

// inflightLookup lets concurrent LookupOrCreate calls for the same
// path share one ResolveFunc invocation instead of racing the
// underlying stat syscalls against each other.
type inflightLookup struct {
	done  chan struct{}
	entry *Entry
	err   error
}

// Table is the overlay's inode table. One Table exists per session
// mount. Debug holds a debug.ExitOnInvariantViolation-style flag for
// CheckInvariants.
type Table struct {
	mu sync.Mutex

	nextID    uint64
	byID      map[uint64]*Entry
	byPath    map[string]*Entry
	whiteouts map[string]*Entry
	opaque    map[string]bool

	inflight map[string]*inflightLookup

	// Debug, when true, makes CheckInvariants panic instead of
	// returning an error. No config option sets it; it defaults to false.
	Debug bool
}

// NewTable returns a Table with only the mount root populated.
func NewTable() *Table {
	root := &Entry{
		ID:        RootID,
		Kind:      DirKind,
		Residency: Both,
		Path:      "",
		Paths:     map[string]struct{}{"": {}},
	}
	root.lookup.Inc()

	return &Table{
		nextID:    RootID + 1,
		byID:      map[uint64]*Entry{RootID: root},
		byPath:    map[string]*Entry{"": root},
		whiteouts: map[string]*Entry{},
		opaque:    map[string]bool{},
		inflight:  map[string]*inflightLookup{},
	}
}

func (t *Table) mint() uint64 {
	id := t.nextID
	t.nextID++
	return id
}

// LookupOrCreate resolves path to a stable inode, invoking resolve at
// most once per (path, table-lifetime) absent a forget+re-create
// cycle. Concurrent callers for the same path block on the first
// resolution and share its result.
func (t *Table) LookupOrCreate(path string, resolve ResolveFunc) (*Entry, error) {
	for {
		t.mu.Lock()

		if e, ok := t.byPath[path]; ok {
			e.lookup.Inc()
			t.mu.Unlock()
			return e, nil
		}

		if _, whited := t.whiteouts[path]; whited {
			t.mu.Unlock()
			return nil, ErrNotFound
		}

		if in, ok := t.inflight[path]; ok {
			t.mu.Unlock()
			<-in.done
			continue
		}

		in := &inflightLookup{done: make(chan struct{})}
		t.inflight[path] = in
		t.mu.Unlock()

		kind, residency, size, mode, err := resolve()

		t.mu.Lock()
		if err != nil {
			in.err = err
			delete(t.inflight, path)
			t.mu.Unlock()
			close(in.done)
			return nil, err
		}

		// Another goroutine may have created the entry via a
		// different path (e.g. Link) while we resolved.
		if e, ok := t.byPath[path]; ok {
			delete(t.inflight, path)
			e.lookup.Inc()
			t.mu.Unlock()
			close(in.done)
			return e, nil
		}

		e := &Entry{
			ID:        t.mint(),
			Kind:      kind,
			Residency: residency,
			Path:      path,
			Paths:     map[string]struct{}{path: {}},
			Size:      size,
			Mode:      mode,
		}
		e.lookup.Inc()
		t.byID[e.ID] = e
		t.byPath[path] = e
		in.entry = e
		delete(t.inflight, path)
		t.mu.Unlock()
		close(in.done)
		return e, nil
	}
}

// Get fetches an entry by inode number. A whiteout-only entry is
// still returned here (Residency == Whiteout) so callers can satisfy
// a post-whiteout getattr(ino) with ENOENT rather than panicking.
func (t *Table) Get(ino uint64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[ino]
	return e, ok
}

// SetResidency transitions ino's layer residency, used by copy-up,
// unlink, and rename.
func (t *Table) SetResidency(ino uint64, residency Residency) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byID[ino]; ok {
		e.Residency = residency
	}
}

// MarkWhiteout removes path from the live namespace and records the
// deletion against ino's entry. A later ClearWhiteout at the same
// path makes the path resolvable again.
func (t *Table) MarkWhiteout(ino uint64, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[ino]
	if !ok {
		return
	}
	delete(e.Paths, path)
	if e.Path == path {
		for p := range e.Paths {
			e.Path = p
			break
		}
	}
	if _, stillLive := t.byPath[path]; stillLive {
		delete(t.byPath, path)
	}
	if len(e.Paths) == 0 {
		e.Residency = Whiteout
	}
	t.whiteouts[path] = e
}

// ClearWhiteout un-blocks path so the next LookupOrCreate resolves it
// fresh, as happens when create() replaces a deletion record.
func (t *Table) ClearWhiteout(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.whiteouts, path)
}

// MarkOpaque records that dirPath's upper-layer directory carries a
// .wh..wh..opq marker, so readdir must suppress lower siblings.
func (t *Table) MarkOpaque(dirPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opaque[dirPath] = true
}

// IsOpaque reports whether dirPath was previously marked opaque.
func (t *Table) IsOpaque(dirPath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opaque[dirPath]
}

// Link records a second name resolving to the same inode, giving the
// two names consistent, shared inode numbers as required for POSIX
// hardlinks.
func (t *Table) Link(ino uint64, newPath string) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[ino]
	if !ok {
		return nil, ErrNotFound
	}
	if _, exists := t.byPath[newPath]; exists {
		return nil, fmt.Errorf("inode: path %q already exists", newPath)
	}

	e.Paths[newPath] = struct{}{}
	e.LinkCount++
	t.byPath[newPath] = e
	e.lookup.Inc()
	delete(t.whiteouts, newPath)
	return e, nil
}

// Forget decrements ino's lookup count by n. When the count reaches
// zero and the inode is whiteout-only (fully unlinked), its entry is
// freed. It is a no-op if ino is unknown, matching the kernel's
// tolerance of forgets racing unmount.
func (t *Table) Forget(ino uint64, n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[ino]
	if !ok {
		return
	}

	zero := e.lookup.Dec(n)
	if !zero {
		return
	}
	if e.Residency != Whiteout || len(e.Paths) > 0 {
		return
	}

	delete(t.byID, ino)
	for p, w := range t.whiteouts {
		if w.ID == ino {
			delete(t.whiteouts, p)
		}
	}
}

// CheckInvariants panics (if Debug) or returns an error describing
// the first structural violation found: every live path maps to
// exactly one entry, and no path is simultaneously a whiteout and a
// live upper-layer entry.
func (t *Table) CheckInvariants() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for p := range t.byPath {
		if _, whited := t.whiteouts[p]; whited {
			err := fmt.Errorf("inode: path %q is both live and whited out", p)
			if t.Debug {
				panic(err)
			}
			return err
		}
	}
	return nil
}
