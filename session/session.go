// Package session drives one branchbox session through its lifecycle:
// worktree and overlay setup, auto-commit and hosted-subprocess
// execution, and exit-time drain, sync, and cleanup. The controller's
// teardown is idempotent and safe to invoke from a signal handler.
package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/branchbox/branchbox/autocommit"
	"github.com/branchbox/branchbox/changelog"
	"github.com/branchbox/branchbox/classify"
	"github.com/branchbox/branchbox/clock"
	"github.com/branchbox/branchbox/gitrepo"
	"github.com/branchbox/branchbox/inode"
	"github.com/branchbox/branchbox/internal/config"
	"github.com/branchbox/branchbox/internal/logger"
	"github.com/branchbox/branchbox/overlay"
	"github.com/branchbox/branchbox/syncback"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sync/errgroup"
)

// State is one node in the session's lifecycle state machine.
type State int

const (
	Init State = iota
	Mounted
	Running
	Draining
	SyncPrompt
	Cleaned
	Terminal
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Mounted:
		return "mounted"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case SyncPrompt:
		return "sync_prompt"
	case Cleaned:
		return "cleaned"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Controller owns every live resource for one session: the overlay
// mount, the auto-commit loop, and the hosted subprocess.
type Controller struct {
	Cfg    config.Config
	Branch string

	// MainRepo is the repository the user is actually working in;
	// WorktreeDir is a linked worktree of it checked out at Branch,
	// serving as the overlay's lower layer.
	MainRepo    *gitrepo.Repo
	WorktreeDir string
	UpperDir    string

	Clock clock.Clock

	mu    sync.Mutex
	state State

	worktreeRepo *gitrepo.Repo
	table        *inode.Table
	classifier   *classify.Classifier
	log          *changelog.Log
	fs           *overlay.FS
	mfs          *fuse.MountedFileSystem
	loop         *autocommit.Loop
	cmd          *exec.Cmd

	baseSHA     string
	teardownOne sync.Once
}

// New constructs a Controller in state Init. Call Mount, then Start,
// then Wait, then Drain, then Cleanup — or call Shutdown at any point
// for best-effort idempotent teardown.
func New(cfg config.Config, branch string, mainRepo *gitrepo.Repo, worktreeDir, upperDir string, clk clock.Clock) *Controller {
	return &Controller{
		Cfg:         cfg,
		Branch:      branch,
		MainRepo:    mainRepo,
		WorktreeDir: worktreeDir,
		UpperDir:    upperDir,
		Clock:       clk,
		state:       Init,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	logger.Infof("session %s: state -> %s", c.Branch, s)
}

// Mount takes the controller from Init to Mounted: it locates or
// creates the branch's worktree, creates the upper scratch directory,
// builds the inode table and overlay, and mounts it.
func (c *Controller) Mount(ctx context.Context, mountDir string) error {
	// A worktree left in place by an earlier session is reused as-is.
	if _, err := os.Stat(filepath.Join(c.WorktreeDir, ".git")); err != nil {
		if err := c.MainRepo.WorktreeAdd(ctx, c.WorktreeDir, c.Branch); err != nil {
			return fmt.Errorf("session: worktree add: %w", err)
		}
	}
	c.worktreeRepo = gitrepo.New(c.WorktreeDir)

	sha, err := c.worktreeRepo.RevParse(ctx, "HEAD")
	if err != nil {
		return fmt.Errorf("session: resolve base sha: %w", err)
	}
	c.baseSHA = sha

	if err := os.MkdirAll(c.UpperDir, 0755); err != nil {
		return fmt.Errorf("session: create upper dir: %w", err)
	}
	if err := os.MkdirAll(mountDir, 0755); err != nil {
		return fmt.Errorf("session: create mount dir: %w", err)
	}

	c.table = inode.NewTable()
	c.classifier = classify.New(c.Cfg.Sync.Passthrough, c.Cfg.Sync.AlwaysInclude, c.Cfg.Sync.AlwaysSkip, c.worktreeRepo)
	c.log = changelog.New()

	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())
	c.fs = overlay.New(c.WorktreeDir, c.UpperDir, c.table, c.classifier, c.log, c, uid, gid, c.Cfg.Fuse.FuseTTL())

	server := fuseutil.NewFileSystemServer(c.fs)
	mfs, err := fuse.Mount(mountDir, server, &fuse.MountConfig{FSName: "branchbox", Subtype: "branchbox"})
	if err != nil {
		return fmt.Errorf("session: mount: %w", err)
	}
	c.mfs = mfs

	c.setState(Mounted)
	return nil
}

// Notify implements overlay.MutationNotifier, waking the auto-commit
// loop's debounce timer as soon as the overlay records a mutation.
func (c *Controller) Notify() {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()
	if loop != nil {
		loop.Notify()
	}
}

// Start takes the controller from Mounted to Running: it starts the
// auto-commit loop and spawns the hosted subprocess.
func (c *Controller) Start(ctx context.Context, argv []string) error {
	c.loop = autocommit.New(c.log, c.classifier, c.worktreeRepo, c.Clock, c.Cfg.Commit, c.Branch)
	go c.loop.Run(ctx)

	if len(argv) > 0 {
		c.cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
		c.cmd.Dir = c.mfs.Dir()
		c.cmd.Stdin = os.Stdin
		c.cmd.Stdout = os.Stdout
		c.cmd.Stderr = os.Stderr
		if err := c.cmd.Start(); err != nil {
			return fmt.Errorf("session: start subprocess: %w", err)
		}
	}

	c.setState(Running)
	return nil
}

// Wait blocks until the hosted subprocess exits (if one was started),
// then transitions Running to Draining. The subprocess's own exit
// error, if any, is returned for the caller to report but does not by
// itself fail the session lifecycle.
func (c *Controller) Wait() error {
	var runErr error
	if c.cmd != nil {
		runErr = c.cmd.Wait()
	}
	c.setState(Draining)
	return runErr
}

// Drain takes the controller from Draining to SyncPrompt: it stops the
// auto-commit loop (which flushes any remaining change-log entries)
// and returns the Aggregator and Options ready for Sync, which performs
// any squash, so the caller can gather per-file decisions before
// Cleanup.
func (c *Controller) Drain(ctx context.Context, decide syncback.DecisionCallback) (*syncback.Aggregator, *syncback.Options, error) {
	c.loop.Stop()
	c.loop.Wait()

	opts := &syncback.Options{
		Squash:        c.Cfg.Cleanup.OnExit == config.CleanupSquash,
		CommitCount:   c.loop.CommitCount(),
		BaseSHA:       c.baseSHA,
		SquashMessage: config.ExpandTemplate(c.Cfg.Commit.SquashCommitMessage, c.Branch),
	}

	agg := &syncback.Aggregator{
		WorktreeRepo: c.worktreeRepo,
		UpperDir:     c.UpperDir,
		MainRepoDir:  c.MainRepo.Dir,
		Classifier:   c.classifier,
		Decide:       decide,
	}

	c.setState(SyncPrompt)
	return agg, opts, nil
}

// Cleanup takes the controller from SyncPrompt to Cleaned: it unmounts
// the overlay and disposes of the upper layer and worktree according to
// policy. Unmounting retries fuse.Unmount a bounded number of times; no
// forced or lazy unmount is attempted, and a mount that still fails to
// unmount is logged as stale and left in place.
func (c *Controller) Cleanup(ctx context.Context, preserveWorktree, preserveUpper bool) error {
	if err := c.unmount(ctx); err != nil {
		logger.Warnf("session %s: unmount left a stale mount: %v", c.Branch, err)
	}

	if !preserveUpper {
		if err := os.RemoveAll(c.UpperDir); err != nil {
			logger.Warnf("session %s: remove upper dir: %v", c.Branch, err)
		}
	}
	if !preserveWorktree {
		if err := c.MainRepo.WorktreeRemove(ctx, c.WorktreeDir); err != nil {
			logger.Warnf("session %s: remove worktree: %v", c.Branch, err)
		}
	}

	c.setState(Cleaned)
	return nil
}

// unmount retries fuse.Unmount on the mountpoint until it succeeds or
// attempts are exhausted, mirroring the teacher's SIGINT-handler retry
// loop, then waits for the server goroutine to return via Join.
func (c *Controller) unmount(ctx context.Context) error {
	if c.mfs == nil {
		return nil
	}
	dir := c.mfs.Dir()

	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = fuse.Unmount(dir); err == nil {
			break
		}
		logger.Errorf("session %s: unmount attempt %d failed: %v", c.Branch, attempt+1, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	if err != nil {
		return fmt.Errorf("unmount %s: %w", dir, err)
	}

	joinCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.mfs.Join(joinCtx)
}

// Shutdown is the idempotent, signal-safe teardown path: it drives
// whatever state the controller is currently in straight to Terminal.
// Its teardown body runs at most once however many times it is called;
// it still attempts an unmount even if Cleanup already ran one.
func (c *Controller) Shutdown(ctx context.Context) {
	c.teardownOne.Do(func() {
		state := c.State()
		if state == Running || state == Mounted {
			if c.cmd != nil && c.cmd.Process != nil {
				_ = c.cmd.Process.Kill()
			}
			if c.loop != nil {
				c.loop.Stop()
				c.loop.Wait()
			}
		}
		if err := c.unmount(ctx); err != nil {
			logger.Errorf("session %s: shutdown unmount failed: %v", c.Branch, err)
		}
		c.setState(Terminal)
	})
}

// ShutdownWithTimeout runs Shutdown but gives up waiting after timeout,
// so a hung unmount cannot block process exit indefinitely. Shutdown
// itself still runs to completion in the background.
func (c *Controller) ShutdownWithTimeout(ctx context.Context, timeout time.Duration) {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		c.Shutdown(gctx)
		return nil
	})

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Errorf("session %s: shutdown exceeded %s, continuing in background", c.Branch, timeout)
	}
}
