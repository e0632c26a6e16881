package gitstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
)

// ExtractedDir is the top-level directory holding package contents in every commit.
const ExtractedDir = "extracted"

const worktreeNameBytes = 16

// Worktree is a disposable checkout attached to a repository on a private
// branch. It must be released with Close.
type Worktree struct {
	owner   *Repository
	name    string
	tempDir string
	path    string
	repo    *gitlib.Repository
	added   bool
	// cleanup outlives the caller's cancellation so release always runs.
	cleanup context.Context
}

// NewWorktree creates a worktree in a fresh temporary directory, clears
// everything checked out from HEAD and creates the extraction directory.
// On failure everything acquired so far is released.
func (r *Repository) NewWorktree(ctx context.Context) (_ *Worktree, err error) {
	if _, err := r.Git(); err != nil {
		return nil, err
	}

	name, err := randomHex(worktreeNameBytes)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.storage.tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}

	tempDir, err := os.MkdirTemp(r.storage.tmpDir, "addongit-worktree-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	wt := &Worktree{
		owner:   r,
		name:    name,
		tempDir: tempDir,
		path:    filepath.Join(tempDir, name),
		cleanup: context.WithoutCancel(ctx),
	}

	defer func() {
		if err != nil {
			err = errors.Join(err, wt.Close())
		}
	}()

	if err := gitlib.AddWorktree(ctx, r.path, name, wt.path); err != nil {
		return nil, err
	}

	wt.added = true

	if wt.repo, err = gitlib.OpenRepository(wt.path); err != nil {
		return nil, err
	}

	if err := wt.clear(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(wt.ExtractionPath(), 0o755); err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}

	r.logger.DebugContext(ctx, "worktree acquired", "worktree", name, "path", wt.path)

	return wt, nil
}

// Name returns the worktree and private branch name.
func (w *Worktree) Name() string {
	return w.name
}

// Path returns the worktree's working directory.
func (w *Worktree) Path() string {
	return w.path
}

// ExtractionPath returns the directory package contents are written to.
func (w *Worktree) ExtractionPath() string {
	return filepath.Join(w.path, ExtractedDir)
}

// Repo returns the worktree's own repository.
func (w *Worktree) Repo() *gitlib.Repository {
	return w.repo
}

// Close removes the temporary directory, prunes the worktree registration
// and deletes the private branch. Every step runs; failures are joined.
func (w *Worktree) Close() error {
	var errs []error

	if w.repo != nil {
		w.repo.Free()
		w.repo = nil
	}

	if w.tempDir != "" {
		if err := os.RemoveAll(w.tempDir); err != nil {
			errs = append(errs, fmt.Errorf("remove worktree dir: %w", err))
		}

		w.tempDir = ""
	}

	if w.added {
		if err := gitlib.PruneWorktrees(w.cleanup, w.owner.path); err != nil {
			errs = append(errs, err)
		}

		if owner, err := w.owner.Git(); err != nil {
			errs = append(errs, err)
		} else if err := owner.DeleteBranch(w.name); err != nil {
			errs = append(errs, err)
		}

		w.added = false
	}

	return errors.Join(errs...)
}

// clear removes every top-level entry checked out from the worktree's HEAD.
func (w *Worktree) clear() error {
	head, err := w.repo.Head()
	if err != nil {
		return err
	}

	commit, err := w.repo.LookupCommit(head)
	if err != nil {
		return err
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return err
	}
	defer tree.Free()

	for _, entry := range tree.Entries() {
		if err := os.RemoveAll(filepath.Join(w.path, entry.Name)); err != nil {
			return fmt.Errorf("clear %s: %w", entry.Name, err)
		}
	}

	return nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random name: %w", err)
	}

	return hex.EncodeToString(buf), nil
}
