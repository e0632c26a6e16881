package gitstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
)

const (
	// PrimaryBranch is the branch HEAD points to. It only holds the bootstrap commit.
	PrimaryBranch = "master"
	// BootstrapMessage is the message of the first commit of every repository.
	BootstrapMessage = "Initializing repository"
	// recentWindow bounds IsRecent.
	recentWindow = time.Hour

	descriptionFile = "description"
)

// Repository is the handle for one add-on's repository. Methods are safe for
// concurrent use; writers are serialised through the owning Storage.
type Repository struct {
	addonID     int64
	packageType PackageType
	path        string
	storage     *Storage
	logger      *slog.Logger

	mu  sync.Mutex
	git *gitlib.Repository
}

// AddonID returns the owning add-on id.
func (r *Repository) AddonID() int64 {
	return r.addonID
}

// PackageType returns the repository's package type.
func (r *Repository) PackageType() PackageType {
	return r.packageType
}

// Path returns the repository working directory.
func (r *Repository) Path() string {
	return r.path
}

// IsExtracted reports whether the repository directory exists.
func (r *Repository) IsExtracted() bool {
	info, err := os.Stat(r.path)

	return err == nil && info.IsDir()
}

// IsRecent reports whether the repository was created within the last hour,
// judged by the bootstrap description file.
func (r *Repository) IsRecent() bool {
	info, err := os.Stat(filepath.Join(r.path, ".git", descriptionFile))
	if err != nil {
		return false
	}

	return info.ModTime().After(r.storage.now().Add(-recentWindow))
}

// Git opens the repository, creating and bootstrapping it first when it
// does not exist. The returned repository stays owned by the handle.
func (r *Repository) Git() (*gitlib.Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.git != nil {
		return r.git, nil
	}

	var (
		repo *gitlib.Repository
		err  error
	)

	if r.IsExtracted() {
		repo, err = r.open()
	} else {
		repo, err = r.initialize()
	}

	if err != nil {
		return nil, err
	}

	r.git = repo

	return repo, nil
}

// OpenExisting opens the repository without creating it.
func (r *Repository) OpenExisting() (*gitlib.Repository, error) {
	if !r.IsExtracted() {
		return nil, fmt.Errorf("%w: %s", ErrNotExtracted, r.path)
	}

	return r.Git()
}

// Close releases the underlying libgit2 handle. The Repository may be reused.
func (r *Repository) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
}

func (r *Repository) closeLocked() {
	if r.git != nil {
		r.git.Free()
		r.git = nil
	}
}

func (r *Repository) open() (*gitlib.Repository, error) {
	repo, err := gitlib.OpenRepository(r.path)
	if err != nil {
		return nil, err
	}

	ok, err := repo.HasReference(gitlib.HeadsPrefix + PrimaryBranch)
	if err != nil {
		repo.Free()

		return nil, &BrokenRefError{Path: r.path, Branch: PrimaryBranch, Err: err}
	}

	if !ok {
		repo.Free()

		return nil, fmt.Errorf("%w: %s", ErrMissingMasterBranch, r.path)
	}

	return repo, nil
}

func (r *Repository) initialize() (_ *gitlib.Repository, err error) {
	if err := os.MkdirAll(r.path, 0o755); err != nil {
		return nil, fmt.Errorf("create repository directory: %w", err)
	}

	repo, err := gitlib.InitRepository(r.path)
	if err != nil {
		return nil, errors.Join(err, os.RemoveAll(r.path))
	}

	defer func() {
		if err != nil {
			repo.Free()
			err = errors.Join(err, os.RemoveAll(r.path))
		}
	}()

	if err := repo.SetHead(gitlib.HeadsPrefix + PrimaryBranch); err != nil {
		return nil, err
	}

	emptyTree, err := repo.EmptyTree()
	if err != nil {
		return nil, err
	}

	sig := r.storage.identity.Signature(r.storage.now())

	root, err := repo.CreateCommit(gitlib.HeadRef, sig, sig, BootstrapMessage, emptyTree)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("add-on %d (%s)\n", r.addonID, r.packageType)

	if err := os.WriteFile(filepath.Join(repo.GitDir(), descriptionFile), []byte(description), 0o644); err != nil {
		return nil, fmt.Errorf("write description: %w", err)
	}

	r.logger.Info("initialized repository", "path", r.path, "commit", root.Short())

	return repo, nil
}

// FindOrCreateBranch returns the tip of branch, creating the branch at
// HEAD's commit when it does not exist. A reference that cannot be read or
// does not resolve to a commit yields a *BrokenRefError.
func (r *Repository) FindOrCreateBranch(name string) (gitlib.Hash, error) {
	repo, err := r.Git()
	if err != nil {
		return gitlib.Hash{}, err
	}

	tip, err := repo.LookupBranch(name)

	switch {
	case err == nil:
		return tip, nil
	case errors.Is(err, gitlib.ErrNotACommit), !gitlib.IsNotFound(err):
		return gitlib.Hash{}, &BrokenRefError{Path: r.path, Branch: name, Err: err}
	}

	head, err := repo.Head()
	if err != nil {
		return gitlib.Hash{}, &BrokenRefError{Path: r.path, Branch: gitlib.HeadRef, Err: err}
	}

	if err := repo.CreateBranch(name, head); err != nil {
		return gitlib.Hash{}, err
	}

	r.logger.Debug("created branch", "branch", name, "commit", head.Short())

	return head, nil
}

// branchTip reads the current tip of an existing branch. Any failure,
// including a vanished branch, is a broken reference.
func (r *Repository) branchTip(repo *gitlib.Repository, name string) (gitlib.Hash, error) {
	tip, err := repo.LookupBranch(name)
	if err != nil {
		return gitlib.Hash{}, &BrokenRefError{Path: r.path, Branch: name, Err: err}
	}

	return tip, nil
}

// Delete removes the repository from disk after clearing the commit pointer
// of every version of the add-on. It reports whether anything was deleted.
func (r *Repository) Delete(ctx context.Context) (bool, error) {
	if !r.IsExtracted() {
		r.logger.InfoContext(ctx, "repository not extracted, nothing to delete", "path", r.path)

		return false, nil
	}

	lock := r.storage.lockFor(r.path)
	lock.Lock()
	defer lock.Unlock()

	r.Close()

	cleared := 0

	if r.storage.versions != nil {
		n, err := r.storage.versions.ResetGitHashes(ctx, r.addonID)
		if err != nil {
			return false, fmt.Errorf("reset commit pointers: %w", err)
		}

		cleared = n
	}

	if err := os.RemoveAll(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("remove repository: %w", err)
	}

	r.logger.InfoContext(ctx, "deleted repository", "path", r.path, "versions_reset", cleared)

	return true, nil
}
