package gitlib

import (
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

var stageAllPathspec = []string{"*"}

// StageAll stages every file of the working directory, ignored files
// included, drops index entries whose files are gone and writes the index
// as a tree.
func (r *Repository) StageAll() (Hash, error) {
	index, err := r.repo.Index()
	if err != nil {
		return Hash{}, fmt.Errorf("open index: %w", err)
	}
	defer index.Free()

	if err := index.AddAll(stageAllPathspec, git2go.IndexAddForce, nil); err != nil {
		return Hash{}, fmt.Errorf("add all: %w", err)
	}

	if err := index.UpdateAll(stageAllPathspec, nil); err != nil {
		return Hash{}, fmt.Errorf("update all: %w", err)
	}

	if err := index.Write(); err != nil {
		return Hash{}, fmt.Errorf("write index: %w", err)
	}

	oid, err := index.WriteTree()
	if err != nil {
		return Hash{}, fmt.Errorf("write tree: %w", err)
	}

	return HashFromOid(oid), nil
}
