package gitlib

import (
	"context"
	"fmt"

	"gg-scm.io/pkg/git"
)

// AddWorktree attaches a linked worktree at path to the repository whose
// working directory is repoDir, checking out HEAD on a new branch name.
// libgit2 bindings have no worktree support, so this runs git.
func AddWorktree(ctx context.Context, repoDir, name, path string) error {
	g, err := subprocess(repoDir)
	if err != nil {
		return err
	}

	if err := g.Run(ctx, "worktree", "add", "--quiet", "-b", name, path, HeadRef); err != nil {
		return fmt.Errorf("add worktree %s: %w", name, err)
	}

	return nil
}

// PruneWorktrees removes administrative data of worktrees whose directory is gone.
func PruneWorktrees(ctx context.Context, repoDir string) error {
	g, err := subprocess(repoDir)
	if err != nil {
		return err
	}

	if err := g.Run(ctx, "worktree", "prune"); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}

	return nil
}

// ListWorktrees returns the porcelain listing of attached worktrees.
func ListWorktrees(ctx context.Context, repoDir string) (string, error) {
	g, err := subprocess(repoDir)
	if err != nil {
		return "", err
	}

	out, err := g.Output(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("list worktrees: %w", err)
	}

	return out, nil
}

func subprocess(dir string) (*git.Git, error) {
	g, err := git.New(git.Options{
		Dir:     dir,
		Env:     subprocessEnv(),
		GitExe:  settings.GitExecutable,
		LogHook: logSubprocess,
	})
	if err != nil {
		return nil, fmt.Errorf("git subprocess: %w", err)
	}

	return g, nil
}
