package config

// Defaults returns the configuration that is used during startup before
// any external loader has overridden values, mirroring every default
// named in spec.md §6 and recovered from original_source's
// config/mod.rs defaults.
func Defaults() Config {
	return Config{
		Paths: PathsConfig{
			WorktreeDir: "",
			MountDir:    "",
			RegistryDir: "",
		},
		Sync: SyncConfig{
			Passthrough:       nil,
			AlwaysSkip:        nil,
			AlwaysInclude:     nil,
			GitCheckTimeoutMs: 3000,
		},
		Commit: CommitConfig{
			DebounceMs:           5000,
			AutoCommitMessage:    "auto-save",
			SquashCommitMessage:  "{branch}",
			MessageHook:          "",
			HookTimeoutMs:        3000,
			GitCommandTimeoutSec: 10,
		},
		Fuse: FuseConfig{
			TTLSecs: 1,
		},
		Cleanup: CleanupConfig{
			OnExit: CleanupPreserve,
		},
		Logging: GetDefaultLoggingConfig(),
	}
}

// GetDefaultLoggingConfig mirrors the teacher's
// cfg.GetDefaultLoggingConfig: the logging defaults used before any
// config file has been parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		Format:   "text",
		LogRotate: LogRotateConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMb:   512,
		},
	}
}
