package gitlib

import (
	"fmt"
	"path/filepath"
	"strings"

	git2go "github.com/libgit2/git2go/v34"
)

// Reference name prefixes.
const (
	HeadsPrefix = "refs/heads/"
	HeadRef     = "HEAD"
)

// Repository wraps a libgit2 repository.
type Repository struct {
	repo *git2go.Repository
	path string
}

// InitRepository creates a non-bare repository with its working directory at path.
func InitRepository(path string) (*Repository, error) {
	repo, err := git2go.InitRepository(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// OpenRepository opens a git repository at the given path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// Path returns the path the repository was opened with.
func (r *Repository) Path() string {
	return r.path
}

// GitDir returns the repository's .git directory.
func (r *Repository) GitDir() string {
	return filepath.Clean(r.repo.Path())
}

// Workdir returns the working directory, empty for bare repositories.
func (r *Repository) Workdir() string {
	return r.repo.Workdir()
}

// Free releases the repository resources.
func (r *Repository) Free() {
	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// SetHead points HEAD at refname, which may not exist yet.
func (r *Repository) SetHead(refname string) error {
	if err := r.repo.SetHead(refname); err != nil {
		return fmt.Errorf("set HEAD to %s: %w", refname, err)
	}

	return nil
}

// HasReference reports whether refname resolves. Lookup failures other
// than not-found are returned.
func (r *Repository) HasReference(refname string) (bool, error) {
	ref, err := r.repo.References.Lookup(refname)
	if IsNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", refname, err)
	}

	ref.Free()

	return true, nil
}

// Head returns the commit HEAD points to.
func (r *Repository) Head() (Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return Hash{}, fmt.Errorf("get HEAD: %w", err)
	}
	defer ref.Free()

	return peelToCommit(ref)
}

// LookupBranch returns the tip of a local branch. A missing branch yields an
// error satisfying IsNotFound; a tip that is not a commit yields ErrNotACommit.
func (r *Repository) LookupBranch(name string) (Hash, error) {
	branch, err := r.repo.LookupBranch(name, git2go.BranchLocal)
	if err != nil {
		return Hash{}, fmt.Errorf("lookup branch %s: %w", name, err)
	}
	defer branch.Free()

	return peelToCommit(branch.Reference)
}

// CreateBranch creates a local branch at target.
func (r *Repository) CreateBranch(name string, target Hash) error {
	commit, err := r.repo.LookupCommit(target.ToOid())
	if err != nil {
		return fmt.Errorf("lookup commit %s: %w", target.Short(), err)
	}
	defer commit.Free()

	branch, err := r.repo.CreateBranch(name, commit, false)
	if err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}

	branch.Free()

	return nil
}

// DeleteBranch removes a local branch. Missing branches are not an error.
func (r *Repository) DeleteBranch(name string) error {
	branch, err := r.repo.LookupBranch(name, git2go.BranchLocal)
	if IsNotFound(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("lookup branch %s: %w", name, err)
	}
	defer branch.Free()

	if err := branch.Delete(); err != nil {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}

	return nil
}

// ResolveCommit resolves a revision string (hash, branch or ref) to a commit.
func (r *Repository) ResolveCommit(spec string) (*Commit, error) {
	obj, err := r.repo.RevparseSingle(spec)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", spec, err)
	}
	defer obj.Free()

	peeled, err := obj.Peel(git2go.ObjectCommit)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotACommit, spec)
	}
	defer peeled.Free()

	commit, err := peeled.AsCommit()
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotACommit, spec)
	}

	return &Commit{commit: commit, repo: r}, nil
}

// LookupCommit returns the commit with the given hash.
func (r *Repository) LookupCommit(hash Hash) (*Commit, error) {
	commit, err := r.repo.LookupCommit(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup commit: %w", err)
	}

	return &Commit{commit: commit, repo: r}, nil
}

// LookupBlob returns the blob with the given hash.
func (r *Repository) LookupBlob(hash Hash) (*Blob, error) {
	blob, err := r.repo.LookupBlob(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup blob: %w", err)
	}

	return &Blob{blob: blob}, nil
}

// LookupTree returns the tree with the given hash.
func (r *Repository) LookupTree(hash Hash) (*Tree, error) {
	tree, err := r.repo.LookupTree(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup tree: %w", err)
	}

	return &Tree{tree: tree, repo: r}, nil
}

// ObjectSize reads an object's size from the object database header
// without inflating it.
func (r *Repository) ObjectSize(hash Hash) (int64, error) {
	odb, err := r.repo.Odb()
	if err != nil {
		return 0, fmt.Errorf("open odb: %w", err)
	}
	defer odb.Free()

	size, _, err := odb.ReadHeader(hash.ToOid())
	if err != nil {
		return 0, fmt.Errorf("read header %s: %w", hash.Short(), err)
	}

	return int64(size), nil
}

// EmptyTree writes (or finds) the empty tree object.
func (r *Repository) EmptyTree() (Hash, error) {
	builder, err := r.repo.TreeBuilder()
	if err != nil {
		return Hash{}, fmt.Errorf("tree builder: %w", err)
	}
	defer builder.Free()

	oid, err := builder.Write()
	if err != nil {
		return Hash{}, fmt.Errorf("write empty tree: %w", err)
	}

	return HashFromOid(oid), nil
}

// CreateCommit writes a commit and, when refname is non-empty, moves refname
// to it. libgit2 refuses the update unless the reference currently points at
// the first parent, so a concurrent writer surfaces as IsModified.
func (r *Repository) CreateCommit(
	refname string, author, committer Signature, message string, tree Hash, parents ...Hash,
) (Hash, error) {
	nativeTree, err := r.repo.LookupTree(tree.ToOid())
	if err != nil {
		return Hash{}, fmt.Errorf("lookup tree %s: %w", tree.Short(), err)
	}
	defer nativeTree.Free()

	nativeParents := make([]*git2go.Commit, 0, len(parents))

	defer func() {
		for _, p := range nativeParents {
			p.Free()
		}
	}()

	for _, parent := range parents {
		commit, lookupErr := r.repo.LookupCommit(parent.ToOid())
		if lookupErr != nil {
			return Hash{}, fmt.Errorf("lookup parent %s: %w", parent.Short(), lookupErr)
		}

		nativeParents = append(nativeParents, commit)
	}

	oid, err := r.repo.CreateCommit(refname, author.native(), committer.native(), message, nativeTree, nativeParents...)
	if err != nil {
		return Hash{}, fmt.Errorf("create commit on %s: %w", displayRef(refname), err)
	}

	return HashFromOid(oid), nil
}

// DiffTrees computes the diff between two trees. A nil tree is the empty tree.
func (r *Repository) DiffTrees(oldTree, newTree *Tree, opts DiffOptions) (*Diff, error) {
	native, err := opts.native()
	if err != nil {
		return nil, err
	}

	diff, err := r.repo.DiffTreeToTree(oldTree.nativeOrNil(), newTree.nativeOrNil(), native)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	return &Diff{diff: diff}, nil
}

func peelToCommit(ref *git2go.Reference) (Hash, error) {
	obj, err := ref.Peel(git2go.ObjectCommit)
	if err != nil {
		// The cause is flattened so a dangling target is not mistaken for
		// a missing reference by IsNotFound.
		return Hash{}, fmt.Errorf("%w: %s: %v", ErrNotACommit, ref.Name(), err) //nolint:errorlint // see above
	}
	defer obj.Free()

	return HashFromOid(obj.Id()), nil
}

func displayRef(refname string) string {
	if refname == "" {
		return "<detached>"
	}

	return strings.TrimPrefix(refname, HeadsPrefix)
}
