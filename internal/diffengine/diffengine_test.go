package diffengine_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/addongit/internal/diffengine"
	"github.com/Sumatoshi-tech/addongit/pkg/gitlib"
	"github.com/Sumatoshi-tech/addongit/pkg/mimetype"
)

type testRepo struct {
	t    *testing.T
	dir  string
	repo *gitlib.Repository
	tip  gitlib.Hash
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()

	dir := t.TempDir()

	repo, err := gitlib.InitRepository(dir)
	require.NoError(t, err)
	t.Cleanup(repo.Free)

	require.NoError(t, repo.SetHead(gitlib.HeadsPrefix+"master"))

	empty, err := repo.EmptyTree()
	require.NoError(t, err)

	r := &testRepo{t: t, dir: dir, repo: repo}
	r.tip = r.write(empty, "Initializing repository")

	return r
}

// commit replaces the extracted tree with files and commits it.
func (r *testRepo) commit(files map[string]string) string {
	r.t.Helper()

	root := filepath.Join(r.dir, "extracted")
	require.NoError(r.t, os.RemoveAll(root))

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(r.t, os.WriteFile(path, []byte(content), 0o644))
	}

	tree, err := r.repo.StageAll()
	require.NoError(r.t, err)

	r.tip = r.write(tree, "version")

	return r.tip.String()
}

func (r *testRepo) write(tree gitlib.Hash, message string) gitlib.Hash {
	r.t.Helper()

	sig := gitlib.Signature{Name: "Robot", Email: "robot@example.com", When: time.Unix(1700000000, 0)}

	var parents []gitlib.Hash
	if !r.tip.IsZero() {
		parents = append(parents, r.tip)
	}

	hash, err := r.repo.CreateCommit(gitlib.HeadRef, sig, sig, message, tree, parents...)
	require.NoError(r.t, err)

	return hash
}

func newEngine(t *testing.T, r *testRepo) *diffengine.Engine {
	t.Helper()

	engine := diffengine.New(r.repo)
	t.Cleanup(engine.Close)

	return engine
}

func TestDiff_NoParentShowsEverythingAdded(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	bootstrap := r.tip.String()
	commit := r.commit(map[string]string{
		"manifest.json": "{\n  \"name\": \"x\"\n}\n",
		"lib/a.js":      "one\ntwo\n",
	})

	engine := newEngine(t, r)

	entries, err := engine.Diff(t.Context(), diffengine.Request{Commit: commit})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "lib/a.js", entries[0].Path)
	assert.Equal(t, "manifest.json", entries[1].Path)

	a := entries[0]
	assert.Equal(t, diffengine.ModeAdded, a.Mode)
	assert.Equal(t, 2, a.LinesAdded)
	assert.Equal(t, 0, a.LinesDeleted)
	assert.Equal(t, int64(8), a.Size)
	assert.Equal(t, "application/javascript", a.MimeType)
	assert.Equal(t, mimetype.CategoryText, a.Category)
	assert.True(t, a.NewEndingNewline)
	require.Len(t, a.Hunks, 1)
	require.Len(t, a.Hunks[0].Changes, 2)
	assert.Equal(t, diffengine.Change{Content: "one", Type: diffengine.TypeInsert, OldLineNumber: -1, NewLineNumber: 1},
		a.Hunks[0].Changes[0])

	// The bootstrap commit has no extracted tree; diffing against it is
	// the same as having no parent.
	withParent, err := engine.Diff(t.Context(), diffengine.Request{Commit: commit, Parent: bootstrap})
	require.NoError(t, err)
	assert.Equal(t, entries, withParent)
}

func TestDiff_ModifiedAddedDeleted(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	parent := r.commit(map[string]string{
		"a.js":   "one\ntwo\nthree\n",
		"old.js": "gone\n",
	})
	commit := r.commit(map[string]string{
		"a.js":   "one\n2\nthree\n",
		"new.js": "fresh\n",
	})

	engine := newEngine(t, r)

	entries, err := engine.Diff(t.Context(), diffengine.Request{Commit: commit, Parent: parent})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	modes := map[string]string{}
	for _, e := range entries {
		modes[e.Path] = e.Mode
	}

	assert.Equal(t, map[string]string{"a.js": "M", "new.js": "A", "old.js": "D"}, modes)

	a := entries[0]
	require.Equal(t, "a.js", a.Path)
	assert.Equal(t, 1, a.LinesAdded)
	assert.Equal(t, 1, a.LinesDeleted)
	require.Len(t, a.Hunks, 1)

	// Full context: every line of the file is part of the hunk.
	types := make([]string, 0, len(a.Hunks[0].Changes))
	for _, c := range a.Hunks[0].Changes {
		types = append(types, c.Type)
	}

	assert.Equal(t, []string{"normal", "delete", "insert", "normal"}, types)
	assert.Equal(t, -1, a.Hunks[0].Changes[1].NewLineNumber)
	assert.Equal(t, 2, a.Hunks[0].Changes[1].OldLineNumber)
	assert.Equal(t, -1, a.Hunks[0].Changes[2].OldLineNumber)
	assert.Equal(t, 2, a.Hunks[0].Changes[2].NewLineNumber)

	deleted := entries[2]
	require.Equal(t, "old.js", deleted.Path)
	assert.Equal(t, int64(5), deleted.Size)
	assert.Equal(t, 1, deleted.LinesDeleted)
}

func TestDiff_IdenticalContentSynthesizesHunks(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	files := map[string]string{"manifest.json": "{\n}\n", "icon.png": "\x89PNG\r\n\x1a\n\x00\x00\x00"}
	parent := r.commit(files)
	commit := r.commit(files)

	engine := newEngine(t, r)

	entries, err := engine.Diff(t.Context(), diffengine.Request{Commit: commit, Parent: parent})
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = engine.Diff(t.Context(), diffengine.Request{
		Commit: commit,
		Parent: parent,
		Paths:  []string{"manifest.json", "icon.png"},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	png := entries[0]
	assert.Equal(t, "icon.png", png.Path)
	assert.Equal(t, diffengine.ModeUnmodified, png.Mode)
	assert.Equal(t, mimetype.CategoryImage, png.Category)
	assert.Empty(t, png.Hunks)

	manifest := entries[1]
	assert.Equal(t, diffengine.ModeUnmodified, manifest.Mode)
	require.Len(t, manifest.Hunks, 1)

	hunk := manifest.Hunks[0]
	assert.Equal(t, "@@ -1,2 +1,2 @@", hunk.Header)
	assert.Equal(t, []diffengine.Change{
		{Content: "{", Type: diffengine.TypeNormal, OldLineNumber: 1, NewLineNumber: 1},
		{Content: "}", Type: diffengine.TypeNormal, OldLineNumber: 2, NewLineNumber: 2},
	}, hunk.Changes)
	assert.Zero(t, manifest.LinesAdded)
	assert.True(t, manifest.NewEndingNewline)
}

func TestDiff_EndingNewline(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	parent := r.commit(map[string]string{"a.txt": "a\nb"})
	commit := r.commit(map[string]string{"a.txt": "a\nc\n"})

	engine := newEngine(t, r)

	entries, err := engine.Diff(t.Context(), diffengine.Request{Commit: commit, Parent: parent})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.False(t, entry.OldEndingNewline)
	assert.True(t, entry.NewEndingNewline)

	var types []string
	for _, c := range entry.Hunks[0].Changes {
		types = append(types, c.Type)
	}

	assert.Contains(t, types, diffengine.TypeInsertEOFNL)
}

func TestDiff_ExplicitRename(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	parent := r.commit(map[string]string{"a.js": "one\ntwo\n"})
	commit := r.commit(map[string]string{"b.js": "one\nthree\n"})

	engine := newEngine(t, r)
	ctx := t.Context()

	plain, err := engine.Diff(ctx, diffengine.Request{Commit: commit, Parent: parent})
	require.NoError(t, err)
	assert.Len(t, plain, 2)

	req := diffengine.Request{Commit: commit, Parent: parent, Renames: map[string]string{"a.js": "b.js"}}

	entries, err := engine.Diff(ctx, req)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	renamed := entries[0]
	assert.Equal(t, diffengine.ModeRenamed, renamed.Mode)
	assert.Equal(t, "b.js", renamed.Path)
	assert.Equal(t, "a.js", renamed.OldPath)
	assert.Equal(t, 1, renamed.LinesAdded)
	assert.Equal(t, 1, renamed.LinesDeleted)

	deltas, err := engine.Deltas(ctx, req)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, diffengine.ModeRenamed, deltas[0].Mode)
	assert.Equal(t, "a.js", deltas[0].OldPath)

	// The cached raw diff is left intact by the merge.
	plain, err = engine.Diff(ctx, diffengine.Request{Commit: commit, Parent: parent})
	require.NoError(t, err)
	assert.Len(t, plain, 2)
}

func TestDeltas(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	parent := r.commit(map[string]string{"a.js": "1\n", "b.css": "body {}\n"})
	commit := r.commit(map[string]string{"a.js": "2\n", "c.wasm": "\x00asm"})

	engine := newEngine(t, r)

	deltas, err := engine.Deltas(t.Context(), diffengine.Request{Commit: commit, Parent: parent})
	require.NoError(t, err)
	require.Len(t, deltas, 3)

	assert.Equal(t, diffengine.DeltaEntry{
		Path: "a.js", OldPath: "a.js", Size: 2, Mode: "M",
		MimeType: "application/javascript", Category: mimetype.CategoryText,
	}, deltas[0])
	assert.Equal(t, "D", deltas[1].Mode)
	assert.Equal(t, "b.css", deltas[1].Path)
	assert.Equal(t, int64(8), deltas[1].Size)
	assert.Equal(t, "A", deltas[2].Mode)
	assert.True(t, deltas[2].IsBinary)

	filtered, err := engine.Deltas(t.Context(), diffengine.Request{Commit: commit, Parent: parent, Paths: []string{"b.css"}})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "b.css", filtered[0].Path)
}

func TestDeltas_AgreeWithDiffOnTextFiles(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	parent := r.commit(map[string]string{
		"LICENSE":     "MIT License\n",
		"config.yaml": "key: value\n",
		"schema.sql":  "select 1;\n",
	})
	commit := r.commit(map[string]string{
		"LICENSE":     "MIT License\nCopyright\n",
		"config.yaml": "key: other\n",
		"schema.sql":  "select 2;\n",
	})

	engine := newEngine(t, r)
	req := diffengine.Request{Commit: commit, Parent: parent}

	entries, err := engine.Diff(t.Context(), req)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	deltas, err := engine.Deltas(t.Context(), req)
	require.NoError(t, err)
	require.Len(t, deltas, 3)

	for i, entry := range entries {
		assert.False(t, entry.IsBinary, entry.Path)
		assert.Equal(t, mimetype.CategoryText, entry.Category, entry.Path)
		assert.NotEmpty(t, entry.Hunks, entry.Path)

		assert.Equal(t, entry.Path, deltas[i].Path)
		assert.False(t, deltas[i].IsBinary, deltas[i].Path)
		assert.Equal(t, entry.Category, deltas[i].Category, deltas[i].Path)
		assert.Equal(t, entry.MimeType, deltas[i].MimeType, deltas[i].Path)
		assert.Equal(t, entry.Size, deltas[i].Size, deltas[i].Path)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	commit := r.commit(map[string]string{"a.js": "1\n"})

	engine := newEngine(t, r)
	ctx := t.Context()

	_, err := engine.Diff(ctx, diffengine.Request{Commit: "0123456789abcdef0123456789abcdef01234567"})
	require.ErrorIs(t, err, diffengine.ErrNotFound)

	_, err = engine.Diff(ctx, diffengine.Request{Commit: "no-such-branch"})
	require.ErrorIs(t, err, diffengine.ErrNotFound)

	_, err = engine.Diff(ctx, diffengine.Request{Commit: commit, Paths: []string{"missing.js"}})
	require.ErrorIs(t, err, diffengine.ErrNotFound)

	_, err = engine.Content(ctx, commit, "missing.js")
	require.ErrorIs(t, err, diffengine.ErrNotFound)

	_, err = engine.Files(ctx, "deadbeef")
	require.ErrorIs(t, err, diffengine.ErrNotFound)
}

func TestFilesAndContent(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	commit := r.commit(map[string]string{
		"manifest.json":    "{}\n",
		"_locales/en/m.js": "x\n",
	})

	engine := newEngine(t, r)
	ctx := t.Context()

	files, err := engine.Files(ctx, commit)
	require.NoError(t, err)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}

	assert.Equal(t, []string{"_locales", "_locales/en", "_locales/en/m.js", "manifest.json"}, paths)
	assert.Equal(t, mimetype.CategoryDirectory, files[0].Category)
	assert.Equal(t, 2, files[2].Depth)
	assert.Equal(t, int64(3), files[3].Size)

	file, err := engine.Content(ctx, commit, "manifest.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("{}\n"), file.Content)
	assert.Equal(t, "application/json", file.MimeType)

	_, err = engine.Content(ctx, commit, "_locales/en")
	require.ErrorIs(t, err, diffengine.ErrNotFound)

	empty, err := engine.Files(ctx, gitlib.HeadRef+"~1")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
