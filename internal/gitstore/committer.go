package gitstore

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/addongit/internal/catalog"
	"github.com/Sumatoshi-tech/addongit/internal/codec"
	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
)

const reservedSuffixBytes = 4

// reservedNames would change git's behaviour if committed as-is. Names are
// compared lowercased.
var reservedNames = map[string]bool{
	".git":           true,
	".gitattributes": true,
	".gitconfig":     true,
	".gitignore":     true,
	".gitmodules":    true,
}

// BranchForChannel maps a release channel to its branch.
func BranchForChannel(channel catalog.Channel) string {
	return string(channel)
}

// CommitRequest describes one commit built through a temporary worktree.
type CommitRequest struct {
	Branch  string
	Message string
	// Author defaults to the service identity.
	Author *gitlib.Signature
	// Source is the package unpacked into the extraction directory. Empty
	// commits an empty tree.
	Source string
}

// Committer builds commits from uploaded packages.
type Committer struct {
	storage   *Storage
	extractor codec.Extractor
}

// NewCommitter creates a Committer unpacking packages with extractor.
func NewCommitter(storage *Storage, extractor codec.Extractor) *Committer {
	return &Committer{storage: storage, extractor: extractor}
}

// CommitVersion extracts a version's package onto its channel branch and
// records the resulting commit as the version's commit pointer.
func (c *Committer) CommitVersion(
	ctx context.Context, repo *Repository, addon catalog.Addon, version catalog.Version, note string,
) (gitlib.Hash, error) {
	if _, err := catalog.ParseChannel(string(version.Channel)); err != nil {
		return gitlib.Hash{}, err
	}

	req := CommitRequest{
		Branch:  BranchForChannel(version.Channel),
		Message: CommitMessage(addon, version, note),
		Source:  version.File.Path,
	}

	if version.UploadedBy != nil {
		author := UserSignature(*version.UploadedBy, c.storage.now())
		req.Author = &author
	}

	hash, err := c.Commit(ctx, repo, req)
	if err != nil {
		return gitlib.Hash{}, err
	}

	if c.storage.versions != nil {
		if err := c.storage.versions.SetGitHash(ctx, version.ID, hash.String()); err != nil {
			return hash, fmt.Errorf("record commit pointer: %w", err)
		}
	}

	repo.logger.InfoContext(ctx, "committed version",
		"version_id", version.ID, "branch", req.Branch, "commit", hash.Short())

	return hash, nil
}

// Commit finds or creates the branch, builds the tree in a temporary
// worktree and advances the branch to a new commit whose parent is the tip
// read right before committing.
func (c *Committer) Commit(ctx context.Context, repo *Repository, req CommitRequest) (gitlib.Hash, error) {
	lock := c.storage.lockFor(repo.path)
	lock.Lock()
	defer lock.Unlock()

	if _, err := repo.FindOrCreateBranch(req.Branch); err != nil {
		return gitlib.Hash{}, err
	}

	wt, err := repo.NewWorktree(ctx)
	if err != nil {
		return gitlib.Hash{}, err
	}

	defer func() {
		if closeErr := wt.Close(); closeErr != nil {
			repo.logger.WarnContext(ctx, "worktree cleanup failed", "worktree", wt.Name(), "error", closeErr)
		}
	}()

	if req.Source != "" {
		if err := c.extractor.Extract(ctx, req.Source, wt.ExtractionPath()); err != nil {
			return gitlib.Hash{}, fmt.Errorf("extract %s: %w", filepath.Base(req.Source), err)
		}
	}

	renamed, err := renameReserved(wt.ExtractionPath())
	if err != nil {
		return gitlib.Hash{}, err
	}

	if len(renamed) > 0 {
		repo.logger.DebugContext(ctx, "renamed reserved entries", "count", len(renamed))
	}

	tree, err := wt.Repo().StageAll()
	if err != nil {
		return gitlib.Hash{}, err
	}

	return c.commitTree(ctx, repo, req, tree)
}

func (c *Committer) commitTree(
	ctx context.Context, repo *Repository, req CommitRequest, tree gitlib.Hash,
) (gitlib.Hash, error) {
	native, err := repo.Git()
	if err != nil {
		return gitlib.Hash{}, err
	}

	parent, err := repo.branchTip(native, req.Branch)
	if err != nil {
		return gitlib.Hash{}, err
	}

	committer := c.storage.identity.Signature(c.storage.now())

	author := committer
	if req.Author != nil {
		author = *req.Author
	}

	hash, err := native.CreateCommit(gitlib.HeadsPrefix+req.Branch, author, committer, req.Message, tree, parent)
	if gitlib.IsModified(err) {
		return gitlib.Hash{}, fmt.Errorf("%w: %s: %w", ErrConcurrentUpdate, req.Branch, err)
	}

	if err != nil {
		return gitlib.Hash{}, err
	}

	repo.logger.DebugContext(ctx, "advanced branch",
		slog.String("branch", req.Branch), slog.String("parent", parent.Short()), slog.String("commit", hash.Short()))

	return hash, nil
}

// CommitMessage formats the message recorded for a version commit.
func CommitMessage(addon catalog.Addon, version catalog.Version, note string) string {
	msg := fmt.Sprintf("Create new version %q (%d) for %q from %s",
		version.Number, version.ID, addon.Name, version.File.Filename)

	if note != "" {
		msg += " (" + note + ")"
	}

	return msg
}

// UserSignature is the author signature of an uploading user.
func UserSignature(user catalog.User, when time.Time) gitlib.Signature {
	return gitlib.Signature{Name: "User " + strconv.FormatInt(user.ID, 10), Email: user.Email, When: when}
}

// renameReserved renames files and directories below root whose name is
// reserved by git, deepest paths first, by appending a random hex suffix.
// It returns the renamed paths relative to root.
func renameReserved(root string) ([]string, error) {
	var reserved []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path != root && reservedNames[strings.ToLower(d.Name())] {
			reserved = append(reserved, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", root, err)
	}

	sort.Slice(reserved, func(i, j int) bool {
		return strings.Count(reserved[i], string(filepath.Separator)) >
			strings.Count(reserved[j], string(filepath.Separator))
	})

	renamed := make([]string, 0, len(reserved))

	for _, path := range reserved {
		suffix, err := randomHex(reservedSuffixBytes)
		if err != nil {
			return nil, err
		}

		if err := os.Rename(path, path+"."+suffix); err != nil {
			return nil, fmt.Errorf("rename reserved %s: %w", path, err)
		}

		rel, _ := filepath.Rel(root, path)
		renamed = append(renamed, filepath.ToSlash(rel))
	}

	return renamed, nil
}
