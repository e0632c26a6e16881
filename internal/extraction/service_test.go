package extraction_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/addongit/internal/catalog"
	"github.com/Sumatoshi-tech/addongit/internal/codec"
	"github.com/Sumatoshi-tech/addongit/internal/extraction"
	"github.com/Sumatoshi-tech/addongit/internal/gitstore"
	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
)

type recorded struct {
	mu       sync.Mutex
	versions int
	failures []string
	drained  []string
}

func (r *recorded) VersionExtracted(context.Context, int64, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions++
}

func (r *recorded) ExtractionFailed(_ context.Context, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures = append(r.failures, outcome)
}

func (r *recorded) EntryDrained(_ context.Context, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drained = append(r.drained, result)
}

type env struct {
	service  *extraction.Service
	queue    *extraction.Queue
	catalog  *catalog.Store
	storage  *gitstore.Storage
	recorder *recorded
	dir      string
}

func requireGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git executable not available")
	}
}

// envHooks swap parts of the catalog seen by storage and the service.
type envHooks struct {
	versions func(*catalog.Store) gitstore.VersionStore
	catalog  func(*catalog.Store, *extraction.Queue) extraction.Catalog
}

func newEnv(t *testing.T) *env {
	t.Helper()

	return newEnvWith(t, envHooks{})
}

func newEnvWith(t *testing.T, hooks envHooks) *env {
	t.Helper()

	dir := t.TempDir()
	pool := openPool(t)
	store := catalog.New(pool)
	queue := extraction.NewQueue(pool)
	recorder := &recorded{}

	var versions gitstore.VersionStore = store
	if hooks.versions != nil {
		versions = hooks.versions(store)
	}

	var source extraction.Catalog = store
	if hooks.catalog != nil {
		source = hooks.catalog(store, queue)
	}

	storage := gitstore.NewStorage(gitstore.Config{
		Root:     filepath.Join(dir, "git-storage"),
		TmpDir:   filepath.Join(dir, "tmp"),
		Identity: gitstore.Identity{Name: "Add-ons Robot", Email: "robot@example.com"},
		Versions: versions,
	})

	service := extraction.NewService(extraction.Config{
		Queue:     queue,
		Catalog:   source,
		Storage:   storage,
		Committer: gitstore.NewCommitter(storage, codec.ZipExtractor{}),
		Recorder:  recorder,
	})

	return &env{service: service, queue: queue, catalog: store, storage: storage, recorder: recorder, dir: dir}
}

func (e *env) addon(t *testing.T, id int64, typ catalog.AddonType) {
	t.Helper()

	require.NoError(t, e.catalog.PutAddon(t.Context(), catalog.Addon{ID: id, Name: "Addon " + string(typ), Type: typ}))
}

func (e *env) upload(t *testing.T, addonID int64, number string, files map[string]string) catalog.Version {
	t.Helper()

	path := filepath.Join(e.dir, "pkg-"+number+".xpi")
	require.NoError(t, codec.WritePackage(path, files))

	v, err := e.catalog.CreateVersion(t.Context(), catalog.Version{
		AddonID: addonID,
		Number:  number,
		Channel: catalog.ChannelListed,
		File:    catalog.File{Filename: filepath.Base(path), Path: path, IsWebExtension: true},
	})
	require.NoError(t, err)

	_, err = e.queue.Enqueue(t.Context(), addonID)
	require.NoError(t, err)

	return v
}

func (e *env) repo(t *testing.T, addonID int64) *gitstore.Repository {
	t.Helper()

	repo, err := e.storage.Repository(addonID, gitstore.PackageAddon)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	return repo
}

func (e *env) gitHash(t *testing.T, versionID int64) string {
	t.Helper()

	v, err := e.catalog.GetVersion(t.Context(), versionID)
	require.NoError(t, err)

	return v.GitHash
}

func (e *env) entries(t *testing.T, addonID int64) []extraction.Entry {
	t.Helper()

	entries, err := e.queue.List(t.Context(), addonID)
	require.NoError(t, err)

	return entries
}

func committedPaths(t *testing.T, repoPath, commit string) []string {
	t.Helper()

	repo, err := gitlib.OpenRepository(repoPath)
	require.NoError(t, err)
	defer repo.Free()

	hash, err := gitlib.ParseHash(commit)
	require.NoError(t, err)

	c, err := repo.LookupCommit(hash)
	require.NoError(t, err)
	defer c.Free()

	tree, err := c.Tree()
	require.NoError(t, err)
	defer tree.Free()

	var paths []string

	require.NoError(t, tree.Walk(func(p string, entry gitlib.TreeEntry) error {
		if entry.Kind == gitlib.KindBlob {
			paths = append(paths, p)
		}

		return nil
	}))

	return paths
}

func TestDrain_FirstExtraction(t *testing.T) {
	t.Parallel()
	requireGit(t)

	e := newEnv(t)
	ctx := t.Context()

	e.addon(t, 1789, catalog.AddonTypeExtension)
	v := e.upload(t, 1789, "1.0", map[string]string{"manifest.json": `{"name": "x"}`})

	report, err := e.service.Drain(ctx, extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{1789}, report.Completed)
	assert.Empty(t, report.Failures)

	repo := e.repo(t, 1789)
	assert.Equal(t, filepath.Join(e.storage.Root(), "9", "89", "789", "1789", "addon"), repo.Path())
	assert.True(t, repo.IsExtracted())

	hash := e.gitHash(t, v.ID)
	require.NotEmpty(t, hash)
	assert.Equal(t, []string{"extracted/manifest.json"}, committedPaths(t, repo.Path(), hash))

	assert.Empty(t, e.entries(t, 1789))
	assert.Equal(t, 1, e.recorder.versions)
	assert.Equal(t, []string{extraction.ResultCompleted}, e.recorder.drained)
}

func TestDrain_BatchesNeedOneDrainEach(t *testing.T) {
	t.Parallel()
	requireGit(t)

	e := newEnv(t)
	ctx := t.Context()

	e.addon(t, 60, catalog.AddonTypeExtension)

	versions := []catalog.Version{
		e.upload(t, 60, "1.0", map[string]string{"a.js": "1\n"}),
		e.upload(t, 60, "1.1", map[string]string{"a.js": "2\n"}),
		e.upload(t, 60, "1.2", map[string]string{"a.js": "3\n"}),
	}

	require.Len(t, e.entries(t, 60), 1)

	opts := extraction.DrainOptions{Limit: 10, BatchSize: 1}

	for i, want := range []string{extraction.ResultRemaining, extraction.ResultRemaining, extraction.ResultCompleted} {
		report, err := e.service.Drain(ctx, opts)
		require.NoError(t, err)
		require.Empty(t, report.Failures, "drain %d", i)

		if want == extraction.ResultRemaining {
			assert.Equal(t, []int64{60}, report.Remaining, "drain %d", i)
			require.Len(t, e.entries(t, 60), 1)
			assert.Equal(t, extraction.StateContinuation, e.entries(t, 60)[0].State)
		} else {
			assert.Equal(t, []int64{60}, report.Completed, "drain %d", i)
		}

		assert.NotEmpty(t, e.gitHash(t, versions[i].ID), "drain %d", i)
	}

	assert.Empty(t, e.entries(t, 60))

	report, err := e.service.Drain(ctx, opts)
	require.NoError(t, err)
	assert.Zero(t, report.Selected)
}

func TestDrain_BrokenRefRecreatesRepository(t *testing.T) {
	t.Parallel()
	requireGit(t)

	e := newEnv(t)
	ctx := t.Context()

	e.addon(t, 623, catalog.AddonTypeExtension)
	first := e.upload(t, 623, "1.0", map[string]string{"a.js": "1\n"})

	_, err := e.service.Drain(ctx, extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, e.gitHash(t, first.ID))

	repo := e.repo(t, 623)
	repo.Close()

	refPath := filepath.Join(repo.Path(), ".git", "refs", "heads", "listed")
	require.NoError(t, os.WriteFile(refPath, []byte("corrupt\n"), 0o644))

	second := e.upload(t, 623, "1.1", map[string]string{"a.js": "2\n"})

	report, err := e.service.Drain(ctx, extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, extraction.OutcomeRecoverable, report.Failures[0].Outcome)
	assert.True(t, gitstore.IsBrokenRef(report.Failures[0].Err))

	entries := e.entries(t, 623)
	require.Len(t, entries, 1)
	assert.Equal(t, extraction.StatePending, entries[0].State)

	assert.False(t, repo.IsExtracted())
	assert.Empty(t, e.gitHash(t, first.ID))
	assert.Empty(t, e.gitHash(t, second.ID))
	assert.Equal(t, []string{extraction.OutcomeRecoverable.String()}, e.recorder.failures)

	report, err = e.service.Drain(ctx, extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{623}, report.Completed)
	assert.NotEmpty(t, e.gitHash(t, first.ID))
	assert.NotEmpty(t, e.gitHash(t, second.ID))
	assert.Empty(t, e.entries(t, 623))
}

var errResetFailed = errors.New("reset failed")

// failingResets records commit pointers but cannot clear them.
type failingResets struct {
	*catalog.Store
}

func (failingResets) ResetGitHashes(context.Context, int64) (int, error) {
	return 0, errResetFailed
}

func TestDrain_BrokenRefDeleteFailureDropsEntry(t *testing.T) {
	t.Parallel()
	requireGit(t)

	e := newEnvWith(t, envHooks{
		versions: func(store *catalog.Store) gitstore.VersionStore { return failingResets{store} },
	})
	ctx := t.Context()

	e.addon(t, 623, catalog.AddonTypeExtension)
	e.upload(t, 623, "1.0", map[string]string{"a.js": "1\n"})

	_, err := e.service.Drain(ctx, extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)

	repo := e.repo(t, 623)
	repo.Close()

	refPath := filepath.Join(repo.Path(), ".git", "refs", "heads", "listed")
	require.NoError(t, os.WriteFile(refPath, []byte("corrupt\n"), 0o644))

	e.upload(t, 623, "1.1", map[string]string{"a.js": "2\n"})

	report, err := e.service.Drain(ctx, extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	require.ErrorIs(t, report.Failures[0].Err, errResetFailed)
	assert.True(t, gitstore.IsBrokenRef(report.Failures[0].Err))

	// No in-progress row is left behind to block the add-on.
	assert.Empty(t, e.entries(t, 623))

	_, err = e.queue.Enqueue(ctx, 623)
	require.NoError(t, err)

	report, err = e.service.Drain(ctx, extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	assert.Len(t, report.Failures, 1)
}

// finishedElsewhere deletes the add-on's entries while the drain is
// looking at them, as a concurrent worker completing them would.
type finishedElsewhere struct {
	*catalog.Store
	queue *extraction.Queue
}

func (f finishedElsewhere) VersionsToExtract(ctx context.Context, addonID int64) ([]int64, error) {
	entries, err := f.queue.List(ctx, addonID)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if err := f.queue.Delete(ctx, entry.ID); err != nil {
			return nil, err
		}
	}

	return f.Store.VersionsToExtract(ctx, addonID)
}

func TestDrain_EntryTakenConcurrentlyIsSkipped(t *testing.T) {
	t.Parallel()

	e := newEnvWith(t, envHooks{
		catalog: func(store *catalog.Store, queue *extraction.Queue) extraction.Catalog {
			return finishedElsewhere{Store: store, queue: queue}
		},
	})

	e.addon(t, 77, catalog.AddonTypeExtension)
	e.upload(t, 77, "1.0", map[string]string{"a.js": "1\n"})

	report, err := e.service.Drain(t.Context(), extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{77}, report.Skipped)
	assert.Empty(t, report.Failures)
	assert.Equal(t, []string{extraction.ResultSkipped}, e.recorder.drained)
	assert.Empty(t, e.recorder.failures)
}

func TestDrain_FatalErrorDropsEntry(t *testing.T) {
	t.Parallel()
	requireGit(t)

	e := newEnv(t)
	ctx := t.Context()

	e.addon(t, 11, catalog.AddonTypeExtension)
	v := e.upload(t, 11, "1.0", map[string]string{"a.js": "1\n"})
	require.NoError(t, os.Remove(v.File.Path))

	e.addon(t, 12, catalog.AddonTypeExtension)
	ok := e.upload(t, 12, "1.0", map[string]string{"b.js": "1\n"})

	report, err := e.service.Drain(ctx, extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, int64(11), report.Failures[0].AddonID)
	assert.Equal(t, extraction.OutcomeFatal, report.Failures[0].Outcome)
	assert.Equal(t, []int64{12}, report.Completed)

	assert.Empty(t, e.entries(t, 11))
	assert.Empty(t, e.gitHash(t, v.ID))
	assert.NotEmpty(t, e.gitHash(t, ok.ID))
}

func TestDrain_NonExtensionDropsEntry(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := t.Context()

	e.addon(t, 40, catalog.AddonTypeTheme)
	e.upload(t, 40, "1.0", map[string]string{"theme.css": "body {}\n"})

	report, err := e.service.Drain(ctx, extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{40}, report.Dropped)
	assert.Empty(t, e.entries(t, 40))
	assert.False(t, e.repo(t, 40).IsExtracted())
}

func TestDrain_NothingToExtractDropsEntry(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	e.addon(t, 41, catalog.AddonTypeExtension)
	_, err := e.queue.Enqueue(t.Context(), 41)
	require.NoError(t, err)

	_, err = e.queue.Enqueue(t.Context(), 42)
	require.NoError(t, err)

	report, err := e.service.Drain(t.Context(), extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{41, 42}, report.Dropped)
	assert.Empty(t, e.entries(t, 0))
}

func TestDrain_SkipsAddonInProgress(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := t.Context()

	e.addon(t, 9, catalog.AddonTypeExtension)
	e.upload(t, 9, "1.0", map[string]string{"a.js": "1\n"})

	entries := e.entries(t, 9)
	require.Len(t, entries, 1)
	require.NoError(t, e.queue.MarkInProgress(ctx, entries[0].ID))

	_, err := e.queue.Enqueue(ctx, 9)
	require.NoError(t, err)

	report, err := e.service.Drain(ctx, extraction.DrainOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, report.Skipped)
	assert.Len(t, e.entries(t, 9), 2)
}

func TestExtractVersionsToGit_Idempotent(t *testing.T) {
	t.Parallel()
	requireGit(t)

	e := newEnv(t)
	ctx := t.Context()

	e.addon(t, 3452581, catalog.AddonTypeExtension)
	v := e.upload(t, 3452581, "2.0", map[string]string{"manifest.json": "{}"})

	require.NoError(t, e.service.ExtractVersionsToGit(ctx, 3452581, []int64{v.ID}))

	hash := e.gitHash(t, v.ID)
	require.NotEmpty(t, hash)

	require.NoError(t, e.service.ExtractVersionsToGit(ctx, 3452581, []int64{v.ID}))
	assert.Equal(t, hash, e.gitHash(t, v.ID))
	assert.Equal(t, 1, e.recorder.versions)

	native, err := e.repo(t, 3452581).Git()
	require.NoError(t, err)

	tip, err := native.LookupBranch("listed")
	require.NoError(t, err)
	assert.Equal(t, hash, tip.String())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	broken := &gitstore.BrokenRefError{Path: "/repo", Branch: "listed", Err: errors.New("bad ref")}

	assert.Equal(t, extraction.OutcomeRecoverable, extraction.Classify(broken))
	assert.Equal(t, extraction.OutcomeRecoverable, extraction.Classify(errors.Join(errors.New("wrapped"), broken)))
	assert.Equal(t, extraction.OutcomeFatal, extraction.Classify(errors.New("disk full")))
	assert.Equal(t, extraction.OutcomeFatal, extraction.Classify(gitstore.ErrMissingMasterBranch))
	assert.Equal(t, "recoverable", extraction.OutcomeRecoverable.String())
}
