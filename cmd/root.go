package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/branchbox/branchbox/internal/config"
)

var (
	cfgFile       string
	configFileErr error
	unmarshalErr  error
	Cfg           config.Config
)

var rootCmd = &cobra.Command{
	Use:   "branchbox",
	Short: "Run a command inside an ephemeral, auto-committing branch workspace",
	Long: `branchbox mounts a copy-on-write FUSE overlay over a git branch's
worktree, auto-commits every change as you work, and on exit offers to
sync, squash, or discard the session before tearing the mount down.`,
}

// Execute runs the root command, exiting the process on error the way
// the teacher's cmd.Execute does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a branchbox config file")
	rootCmd.AddCommand(startCmd)
}

func initConfig() {
	Cfg = config.Defaults()

	// BRANCHBOX_DATA_DIR relocates the worktree/mount/registry roots
	// without a config file, the way the teacher binds GCSFUSE_* env
	// vars to flags via viper.BindPFlag.
	viper.BindEnv("data-dir", "BRANCHBOX_DATA_DIR")
	if dataDir := viper.GetString("data-dir"); dataDir != "" {
		Cfg.Paths.WorktreeDir = config.ResolvedPath(filepath.Join(dataDir, "worktrees"))
		Cfg.Paths.MountDir = config.ResolvedPath(filepath.Join(dataDir, "mounts"))
		Cfg.Paths.RegistryDir = config.ResolvedPath(filepath.Join(dataDir, "registry"))
	}

	if cfgFile == "" {
		return
	}
	resolved, err := filepath.Abs(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	if err := viper.Unmarshal(&Cfg); err != nil {
		unmarshalErr = fmt.Errorf("parsing config file: %w", err)
	}
}
