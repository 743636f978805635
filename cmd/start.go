package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/branchbox/branchbox/classify"
	"github.com/branchbox/branchbox/clock"
	"github.com/branchbox/branchbox/gitrepo"
	"github.com/branchbox/branchbox/internal/config"
	"github.com/branchbox/branchbox/internal/logger"
	"github.com/branchbox/branchbox/registry"
	"github.com/branchbox/branchbox/session"
	"github.com/branchbox/branchbox/syncback"
)

var startCmd = &cobra.Command{
	Use:   "start <branch> [-- command [args...]]",
	Short: "Mount an ephemeral overlay workspace for branch and run a command in it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	if configFileErr != nil {
		return configFileErr
	}
	if unmarshalErr != nil {
		return unmarshalErr
	}
	if err := config.Validate(Cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	branch := args[0]
	hostedArgv := args[1:]

	if err := logger.InitLogFile(Cfg.Logging); err != nil {
		return fmt.Errorf("init log file: %w", err)
	}
	logger.SetLogFormat(Cfg.Logging.Format)
	logger.SetLogSeverity(Cfg.Logging.Severity)

	repoDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve repo directory: %w", err)
	}
	mainRepo := gitrepo.New(repoDir)

	reg, err := registry.New(string(Cfg.Paths.RegistryDir))
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	if _, err := reg.Reap(); err != nil {
		logger.Warnf("registry reap failed: %v", err)
	}
	if existing, err := reg.ForBranch(repoDir, branch); err == nil && existing != nil {
		return fmt.Errorf("branch %q already has a live session (mounted at %s)", branch, existing.MountDir)
	}

	worktreeDir := filepath.Join(string(Cfg.Paths.WorktreeDir), sanitizeBranch(branch))
	upperDir := filepath.Join(worktreeDir+".upper")
	mountDir := filepath.Join(string(Cfg.Paths.MountDir), sanitizeBranch(branch))

	ctrl := session.New(Cfg, branch, mainRepo, worktreeDir, upperDir, clock.RealClock{})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctrl.Mount(ctx, mountDir); err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	entry, err := reg.Register(branch, repoDir, worktreeDir, mountDir)
	if err != nil {
		logger.Warnf("register session: %v", err)
	}
	stopSignals := ctrl.RegisterInterruptHandler(ctx)
	defer stopSignals()

	if err := ctrl.Start(ctx, hostedArgv); err != nil {
		ctrl.Shutdown(ctx)
		return fmt.Errorf("start: %w", err)
	}

	runErr := ctrl.Wait()
	if runErr != nil {
		logger.Warnf("hosted command exited with error: %v", runErr)
	}

	agg, opts, err := ctrl.Drain(ctx, promptDecision)
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}

	result, err := agg.Sync(ctx, *opts)
	if err != nil {
		logger.Errorf("sync: %v", err)
	} else {
		logger.Infof("sync complete: %d written, %d deleted, %d skipped",
			len(result.Written), len(result.Deleted), len(result.Skipped))
	}

	preserveWorktree := Cfg.Cleanup.OnExit == config.CleanupPreserve
	preserveUpper := preserveWorktree
	if err := ctrl.Cleanup(ctx, preserveWorktree, preserveUpper); err != nil {
		logger.Errorf("cleanup: %v", err)
	}

	if entry != nil {
		if err := reg.Remove(entry.ID); err != nil {
			logger.Warnf("deregister session: %v", err)
		}
	}

	return runErr
}

// promptDecision asks the user on stdin whether to keep a proposed
// sync decision for relPath. A bare Enter accepts the default (proceed).
func promptDecision(relPath string, cls classify.Classification, decision syncback.Decision) bool {
	fmt.Printf("sync %s %s (classification: %v)? [Y/n] ", decision, relPath, cls)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch line {
	case "n\n", "N\n":
		return false
	default:
		return true
	}
}

func sanitizeBranch(branch string) string {
	out := make([]rune, 0, len(branch))
	for _, r := range branch {
		if r == '/' {
			out = append(out, '-')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
