package gitlib

import (
	"errors"

	git2go "github.com/libgit2/git2go/v34"
)

// Sentinel errors.
var (
	ErrNotACommit = errors.New("reference does not point to a commit")
	ErrNotATree   = errors.New("entry is not a tree")
)

// IsNotFound reports whether err carries libgit2's not-found code.
func IsNotFound(err error) bool {
	return hasCode(err, git2go.ErrorCodeNotFound)
}

// IsModified reports whether a reference update lost a compare-and-swap race.
func IsModified(err error) bool {
	return hasCode(err, git2go.ErrorCodeModified)
}

// IsLocked reports whether a reference or index lock file was held elsewhere.
func IsLocked(err error) bool {
	return hasCode(err, git2go.ErrorCodeLocked)
}

// IsInvalidSpec reports whether a revision string could not be parsed.
func IsInvalidSpec(err error) bool {
	return hasCode(err, git2go.ErrorCodeInvalidSpec) || hasCode(err, git2go.ErrorCodeAmbiguous)
}

func hasCode(err error, code git2go.ErrorCode) bool {
	var gitErr *git2go.GitError

	return errors.As(err, &gitErr) && gitErr.Code == code
}
