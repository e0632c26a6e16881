// Package gitstore keeps one git repository per add-on and commits extracted
// package trees into it.
package gitstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
	"github.com/Sumatoshi-tech/addongit/pkg/shard"
)

// PackageType names the kind of package stored in a repository. It is the
// leaf directory of the repository path.
type PackageType string

// PackageAddon is the only package type.
const PackageAddon PackageType = "addon"

// ParsePackageType validates a package type name.
func ParsePackageType(s string) (PackageType, error) {
	if PackageType(s) == PackageAddon {
		return PackageAddon, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownPackageType, s)
}

// Identity is the service signature used for bootstrap commits and as
// committer of every commit.
type Identity struct {
	Name  string
	Email string
}

// Signature returns the identity as a signature at when.
func (i Identity) Signature(when time.Time) gitlib.Signature {
	return gitlib.Signature{Name: i.Name, Email: i.Email, When: when}
}

// VersionStore is the part of the catalog that owns commit pointers.
type VersionStore interface {
	SetGitHash(ctx context.Context, versionID int64, hash string) error
	ResetGitHashes(ctx context.Context, addonID int64) (int, error)
}

// Config configures a Storage.
type Config struct {
	// Root is the directory holding the sharded repositories.
	Root string
	// TmpDir holds temporary worktrees. Empty means os.TempDir.
	TmpDir   string
	Identity Identity
	Versions VersionStore
	Logger   *slog.Logger
	Now      func() time.Time
}

// Storage hands out repository handles and serialises writers per repository.
type Storage struct {
	root     string
	tmpDir   string
	identity Identity
	versions VersionStore
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStorage creates a Storage.
func NewStorage(cfg Config) *Storage {
	s := &Storage{
		root:     cfg.Root,
		tmpDir:   cfg.TmpDir,
		identity: cfg.Identity,
		versions: cfg.Versions,
		logger:   cfg.Logger,
		now:      cfg.Now,
		locks:    make(map[string]*sync.Mutex),
	}

	if s.tmpDir == "" {
		s.tmpDir = os.TempDir()
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Root returns the storage root.
func (s *Storage) Root() string {
	return s.root
}

// Identity returns the service identity.
func (s *Storage) Identity() Identity {
	return s.identity
}

// Repository returns the handle for an add-on's repository. Nothing is read
// or created on disk until the handle is used.
func (s *Storage) Repository(addonID int64, packageType PackageType) (*Repository, error) {
	if _, err := ParsePackageType(string(packageType)); err != nil {
		return nil, err
	}

	path, err := shard.Path(s.root, addonID, string(packageType))
	if err != nil {
		return nil, err
	}

	return &Repository{
		addonID:     addonID,
		packageType: packageType,
		path:        path,
		storage:     s,
		logger:      s.logger.With("addon_id", addonID, "package_type", string(packageType)),
	}, nil
}

func (s *Storage) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[path] = lock
	}

	return lock
}
