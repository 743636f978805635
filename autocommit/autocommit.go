// Package autocommit runs the debounced background loop that turns
// change-log drains into commits on the session's worktree branch.
package autocommit

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/branchbox/branchbox/changelog"
	"github.com/branchbox/branchbox/classify"
	"github.com/branchbox/branchbox/clock"
	"github.com/branchbox/branchbox/gitrepo"
	"github.com/branchbox/branchbox/internal/config"
	"github.com/branchbox/branchbox/internal/logger"
)

// Loop owns the debounce timer and drives stage+commit against a
// worktree. One Loop exists per session.
type Loop struct {
	log        *changelog.Log
	classifier *classify.Classifier
	repo       *gitrepo.Repo
	clock      clock.Clock
	cfg        config.CommitConfig
	branch     string

	changed chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	mu          sync.Mutex
	commitCount int
}

// New builds a Loop. branch is the worktree's checked-out branch,
// used for {branch} template expansion.
func New(log *changelog.Log, classifier *classify.Classifier, repo *gitrepo.Repo, clk clock.Clock, cfg config.CommitConfig, branch string) *Loop {
	return &Loop{
		log:        log,
		classifier: classifier,
		repo:       repo,
		clock:      clk,
		cfg:        cfg,
		branch:     branch,
		changed:    make(chan struct{}, 1),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Notify wakes the debounce timer; the overlay's mutation hook calls
// this after every changelog.Append.
func (l *Loop) Notify() {
	select {
	case l.changed <- struct{}{}:
	default:
	}
}

// CommitCount returns the number of commits made so far, used by the
// exit-time squash decision.
func (l *Loop) CommitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commitCount
}

// Stop asks Run to drain once more and return. It is idempotent.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Wait blocks until Run has returned after Stop.
func (l *Loop) Wait() {
	<-l.stopped
}

// Run blocks, debouncing change-log activity into commits, until Stop
// is called or ctx is cancelled. A final drain runs before returning
// so a shutdown does not silently drop the last batch of edits.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.stopped)
	debounce := l.cfg.DebounceDuration()

	for {
		select {
		case <-l.stop:
			l.drainAndCommit(ctx)
			return
		case <-ctx.Done():
			l.drainAndCommit(ctx)
			return
		case <-l.changed:
		}

		timer := l.clock.After(debounce)
	debounceWait:
		for {
			select {
			case <-l.stop:
				l.drainAndCommit(ctx)
				return
			case <-ctx.Done():
				l.drainAndCommit(ctx)
				return
			case <-l.changed:
				timer = l.clock.After(debounce)
			case <-timer:
				break debounceWait
			}
		}

		if l.log.Len() > 0 {
			l.drainAndCommit(ctx)
		}
	}
}

// drainAndCommit performs one stage+commit cycle. Entries the
// classifier or git rejects are re-queued for the next tick rather
// than dropped, per spec.md §4.5's retry guarantee.
func (l *Loop) drainAndCommit(ctx context.Context) {
	entries := l.log.Drain()
	if len(entries) == 0 {
		return
	}

	if l.cfg.GitCommandTimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(l.cfg.GitCommandTimeoutSec)*time.Second)
		defer cancel()
	}

	var failed []changelog.Entry
	staged := false

	for _, entry := range entries {
		cls, err := l.classifier.Classify(ctx, entry.Path)
		if err != nil {
			logger.Warnf("autocommit: classify %q failed, re-queuing: %v", entry.Path, err)
			failed = append(failed, entry)
			continue
		}
		if (cls == classify.Ignored || cls == classify.Skip) && cls != classify.Include {
			continue
		}

		if err := l.stage(ctx, entry); err != nil {
			logger.Warnf("autocommit: staging %q failed, re-queuing: %v", entry.Path, err)
			failed = append(failed, entry)
			continue
		}
		staged = true
	}

	if len(failed) > 0 {
		l.log.Requeue(failed)
	}

	if !staged {
		return
	}

	hasStaged, err := l.repo.HasStagedChanges(ctx)
	if err != nil {
		logger.Errorf("autocommit: checking staged changes: %v", err)
		l.log.Requeue(entries)
		return
	}
	if !hasStaged {
		return
	}

	beforeHead, _ := l.repo.RevParse(ctx, "HEAD")
	message := l.commitMessage(ctx)
	if _, err := l.repo.Commit(ctx, message); err != nil {
		logger.Errorf("autocommit: commit failed, rolling back: %v", err)
		if beforeHead != "" {
			_ = l.repo.ResetSoft(ctx, beforeHead)
		}
		l.log.Requeue(entries)
		return
	}

	l.mu.Lock()
	l.commitCount++
	l.mu.Unlock()
}

func (l *Loop) stage(ctx context.Context, entry changelog.Entry) error {
	switch entry.Kind {
	case changelog.Deleted:
		return l.repo.RmCached(ctx, entry.Path)
	default:
		return l.repo.Add(ctx, entry.Path)
	}
}

// commitMessage expands the configured template, preferring the
// output of the commit_message hook when one is configured and
// succeeds.
func (l *Loop) commitMessage(ctx context.Context) string {
	if l.cfg.MessageHook != "" {
		if msg, ok := l.runMessageHook(ctx); ok {
			return msg
		}
	}
	return config.ExpandTemplate(l.cfg.AutoCommitMessage, l.branch)
}

func (l *Loop) runMessageHook(ctx context.Context) (string, bool) {
	hookCtx, cancel := context.WithTimeout(ctx, time.Duration(l.cfg.HookTimeoutMs)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(hookCtx, "sh", "-c", l.cfg.MessageHook)
	cmd.Dir = l.repo.Dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		logger.Warnf("autocommit: commit-message hook failed, falling back to template: %v", err)
		return "", false
	}

	msg := strings.TrimSpace(stdout.String())
	if msg == "" {
		return "", false
	}
	return msg, true
}
