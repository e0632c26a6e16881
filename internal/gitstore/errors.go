package gitstore

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrMissingMasterBranch means an existing repository has no refs/heads/master.
	ErrMissingMasterBranch = errors.New("gitstore: repository has no master branch")
	// ErrNotExtracted means no repository exists on disk for the add-on.
	ErrNotExtracted = errors.New("gitstore: repository not extracted")
	// ErrConcurrentUpdate means the branch moved between tip lookup and commit.
	ErrConcurrentUpdate = errors.New("gitstore: branch updated concurrently")
	// ErrUnknownPackageType is returned for package types outside the closed set.
	ErrUnknownPackageType = errors.New("gitstore: unknown package type")
)

// BrokenRefError reports a branch reference that cannot be read or does not
// resolve to a commit. The repository must be rebuilt.
type BrokenRefError struct {
	Path   string
	Branch string
	Err    error
}

func (e *BrokenRefError) Error() string {
	return fmt.Sprintf("gitstore: broken reference %q in %s: %v", e.Branch, e.Path, e.Err)
}

func (e *BrokenRefError) Unwrap() error {
	return e.Err
}

// IsBrokenRef reports whether err wraps a *BrokenRefError.
func IsBrokenRef(err error) bool {
	var broken *BrokenRefError

	return errors.As(err, &broken)
}
