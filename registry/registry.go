// Package registry tracks every branchbox session on the machine in a
// directory of one YAML file per session, so a second invocation can
// discover a branch's existing mount, and a periodic reap can notice a
// session whose owning process died without cleaning up after itself.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/branchbox/branchbox/internal/logger"
)

// Entry is one session's registry record.
type Entry struct {
	ID          string    `yaml:"id"`
	Branch      string    `yaml:"branch"`
	MainRepoDir string    `yaml:"main-repo-dir"`
	WorktreeDir string    `yaml:"worktree-dir"`
	MountDir    string    `yaml:"mount-dir"`
	PID         int       `yaml:"pid"`
	StartedAt   time.Time `yaml:"started-at"`
}

// Registry reads and writes Entry files under Dir.
type Registry struct {
	Dir string
}

// New returns a Registry rooted at dir, creating it if necessary.
func New(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("registry: create dir: %w", err)
	}
	return &Registry{Dir: dir}, nil
}

func (r *Registry) path(id string) string {
	return filepath.Join(r.Dir, id+".yaml")
}

// Register writes a new Entry for the current process and returns it.
// Callers should defer Remove on clean exit; Reap recovers the case
// where they didn't.
func (r *Registry) Register(branch, mainRepoDir, worktreeDir, mountDir string) (*Entry, error) {
	e := &Entry{
		ID:          uuid.NewString(),
		Branch:      branch,
		MainRepoDir: mainRepoDir,
		WorktreeDir: worktreeDir,
		MountDir:    mountDir,
		PID:         os.Getpid(),
		StartedAt:   time.Now(),
	}
	if err := r.write(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Registry) write(e *Entry) error {
	data, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("registry: marshal entry %s: %w", e.ID, err)
	}
	tmp := r.path(e.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("registry: write entry %s: %w", e.ID, err)
	}
	return os.Rename(tmp, r.path(e.ID))
}

// Remove deletes id's entry. Removing a nonexistent entry is not an error.
func (r *Registry) Remove(id string) error {
	err := os.Remove(r.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("registry: remove entry %s: %w", id, err)
	}
	return nil
}

// List returns every entry currently on disk, skipping any file that
// fails to parse (logged, not fatal, since a half-written file from a
// racing Register should not break discovery for every other session).
func (r *Registry) List() ([]*Entry, error) {
	files, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("registry: list dir: %w", err)
	}

	var entries []*Entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.Dir, f.Name()))
		if err != nil {
			logger.Warnf("registry: read %s: %v", f.Name(), err)
			continue
		}
		var e Entry
		if err := yaml.Unmarshal(data, &e); err != nil {
			logger.Warnf("registry: parse %s: %v", f.Name(), err)
			continue
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// ForBranch returns the live entry for branch in mainRepoDir, if any.
func (r *Registry) ForBranch(mainRepoDir, branch string) (*Entry, error) {
	entries, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.MainRepoDir == mainRepoDir && e.Branch == branch && processAlive(e.PID) {
			return e, nil
		}
	}
	return nil, nil
}

// Reap removes every entry whose owning process is no longer alive,
// mirroring garbageCollectOnce's enumerate-filter-act shape: list
// everything, filter to the stale subset, act on just those. It
// returns the IDs it removed.
func (r *Registry) Reap() ([]string, error) {
	entries, err := r.List()
	if err != nil {
		return nil, err
	}

	var reaped []string
	for _, e := range entries {
		if processAlive(e.PID) {
			continue
		}
		if err := r.Remove(e.ID); err != nil {
			logger.Warnf("registry: reap %s: %v", e.ID, err)
			continue
		}
		logger.Infof("registry: reaped stale session %s (branch %s, pid %d)", e.ID, e.Branch, e.PID)
		reaped = append(reaped, e.ID)
	}
	return reaped, nil
}

// processAlive reports whether pid names a running process, using the
// kill(pid, 0) idiom: no signal is delivered, only existence and
// permission are checked.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
