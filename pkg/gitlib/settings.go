package gitlib

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	git2go "github.com/libgit2/git2go/v34"
)

// Settings are process-wide libgit2 and git subprocess options.
type Settings struct {
	// GlobalSearchPath replaces the directory libgit2 and git read the
	// global config from, isolating repositories from the user's config.
	GlobalSearchPath string
	// FsyncGitDir makes libgit2 fsync objects and refs it writes.
	FsyncGitDir bool
	// GitExecutable is the git binary used for worktree management.
	GitExecutable string
	Logger        *slog.Logger
}

var (
	configureOnce sync.Once
	configureErr  error
	settings      = Settings{Logger: slog.Default()}
)

// Configure applies s once per process. Later calls return the result of the first.
func Configure(s Settings) error {
	configureOnce.Do(func() {
		if s.Logger == nil {
			s.Logger = slog.Default()
		}

		if s.GlobalSearchPath != "" {
			if err := git2go.SetSearchPath(git2go.ConfigLevelGlobal, s.GlobalSearchPath); err != nil {
				configureErr = fmt.Errorf("set global search path: %w", err)

				return
			}
		}

		if err := git2go.EnableFsyncGitDir(s.FsyncGitDir); err != nil {
			configureErr = fmt.Errorf("set fsync: %w", err)

			return
		}

		settings = s
	})

	return configureErr
}

func subprocessEnv() []string {
	env := append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1", "GIT_TERMINAL_PROMPT=0")
	if settings.GlobalSearchPath != "" {
		env = append(env, "HOME="+settings.GlobalSearchPath, "XDG_CONFIG_HOME="+settings.GlobalSearchPath)
	}

	return env
}

func logSubprocess(ctx context.Context, args []string) {
	settings.Logger.DebugContext(ctx, "git subprocess", "args", args)
}
