package gitlib

import (
	"fmt"
	"path"

	git2go "github.com/libgit2/git2go/v34"
)

// ObjectKind is the kind of object a tree entry points to.
type ObjectKind int

// Object kinds.
const (
	KindOther ObjectKind = iota
	KindBlob
	KindTree
)

// TreeEntry describes one entry of a tree.
type TreeEntry struct {
	Name string
	Hash Hash
	Kind ObjectKind
	Mode int
}

// Tree wraps a libgit2 tree.
type Tree struct {
	tree *git2go.Tree
	repo *Repository
}

// Hash returns the tree hash.
func (t *Tree) Hash() Hash {
	return HashFromOid(t.tree.Id())
}

// EntryCount returns the number of entries in the tree.
func (t *Tree) EntryCount() uint64 {
	return t.tree.EntryCount()
}

// Entries returns the direct children of the tree in tree order.
func (t *Tree) Entries() []TreeEntry {
	count := t.tree.EntryCount()
	entries := make([]TreeEntry, 0, count)

	for i := range count {
		if entry := t.tree.EntryByIndex(i); entry != nil {
			entries = append(entries, entryFromNative(entry))
		}
	}

	return entries
}

// EntryByPath returns the entry at a slash separated path.
func (t *Tree) EntryByPath(p string) (TreeEntry, error) {
	entry, err := t.tree.EntryByPath(p)
	if err != nil {
		return TreeEntry{}, fmt.Errorf("entry by path %s: %w", p, err)
	}

	return entryFromNative(entry), nil
}

// Subtree returns the tree at p.
func (t *Tree) Subtree(p string) (*Tree, error) {
	entry, err := t.EntryByPath(p)
	if err != nil {
		return nil, err
	}

	if entry.Kind != KindTree {
		return nil, fmt.Errorf("%w: %s", ErrNotATree, p)
	}

	return t.repo.LookupTree(entry.Hash)
}

// Walk visits every entry below the tree depth first in tree order. fn
// receives the slash separated path of each entry.
func (t *Tree) Walk(fn func(p string, entry TreeEntry) error) error {
	return t.walk("", fn)
}

func (t *Tree) walk(prefix string, fn func(string, TreeEntry) error) error {
	for _, entry := range t.Entries() {
		p := path.Join(prefix, entry.Name)

		if err := fn(p, entry); err != nil {
			return err
		}

		if entry.Kind != KindTree {
			continue
		}

		sub, err := t.repo.LookupTree(entry.Hash)
		if err != nil {
			return err
		}

		err = sub.walk(p, fn)
		sub.Free()

		if err != nil {
			return err
		}
	}

	return nil
}

// Free releases the tree resources.
func (t *Tree) Free() {
	if t != nil && t.tree != nil {
		t.tree.Free()
		t.tree = nil
	}
}

func (t *Tree) nativeOrNil() *git2go.Tree {
	if t == nil {
		return nil
	}

	return t.tree
}

func entryFromNative(entry *git2go.TreeEntry) TreeEntry {
	kind := KindOther

	switch entry.Type {
	case git2go.ObjectBlob:
		kind = KindBlob
	case git2go.ObjectTree:
		kind = KindTree
	}

	return TreeEntry{Name: entry.Name, Hash: HashFromOid(entry.Id), Kind: kind, Mode: int(entry.Filemode)}
}
