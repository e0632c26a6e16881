package commands_test

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/addongit/cmd/addongit/commands"
	"github.com/Sumatoshi-tech/addongit/internal/codec"
)

type cli struct {
	t      *testing.T
	dir    string
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()

	dir := t.TempDir()
	config := filepath.Join(dir, ".addongit.yaml")

	content := "storage:\n" +
		"  root: " + filepath.Join(dir, "git-storage") + "\n" +
		"  database: " + filepath.Join(dir, "addongit.db") + "\n" +
		"  tmp_dir: " + filepath.Join(dir, "tmp") + "\n" +
		"git:\n  fsync: false\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(config, []byte(content), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tmp"), 0o755))

	return &cli{t: t, dir: dir, config: config}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()

	var out bytes.Buffer

	root := commands.NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", c.config}, args...))

	err := root.ExecuteContext(c.t.Context())

	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()

	out, err := c.run(args...)
	require.NoError(c.t, err, out)

	return out
}

func (c *cli) pkg(name string, files map[string]string) string {
	c.t.Helper()

	path := filepath.Join(c.dir, name)
	require.NoError(c.t, codec.WritePackage(path, files))

	return path
}

func TestRootCommand_Subcommands(t *testing.T) {
	t.Parallel()

	root := commands.NewRootCommand()

	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}

	for _, want := range []string{"upload", "extract", "queue", "diff", "deltas", "files", "show", "repo", "mcp", "version"} {
		assert.Contains(t, names, want)
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("output"))
}

func TestVersionCommand_JSON(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("version", "-o", "json")

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")
}

func TestUpload_QueuesWebExtension(t *testing.T) {
	c := newCLI(t)

	pkg := c.pkg("a.xpi", map[string]string{"manifest.json": "{}\n"})

	out := c.mustRun("upload", "1789", pkg, "--version", "1.0", "--name", "Sample", "-o", "json")

	var result struct {
		Version struct {
			ID      int64  `json:"id"`
			AddonID int64  `json:"addon_id"`
			Channel string `json:"channel"`
		} `json:"version"`
		Queued bool `json:"queued"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, int64(1789), result.Version.AddonID)
	assert.Equal(t, "listed", result.Version.Channel)
	assert.True(t, result.Queued)

	out = c.mustRun("queue", "list", "-o", "yaml")
	assert.Contains(t, out, "addon_id: 1789")
	assert.Contains(t, out, "state: pending")

	out = c.mustRun("upload", "60", c.pkg("b.xpi", map[string]string{"a": "b"}), "--version", "1.0", "--type", "theme", "-o", "json")
	assert.Contains(t, out, `"queued": false`)

	// Renaming keeps the stored type.
	out = c.mustRun("upload", "60", c.pkg("c.xpi", map[string]string{"a": "c"}), "--version", "1.1", "--name", "Dark", "-o", "json")
	assert.Contains(t, out, `"queued": false`)

	out = c.mustRun("queue", "list", "--addon", "60", "-o", "json")
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestUpload_Validation(t *testing.T) {
	c := newCLI(t)
	pkg := c.pkg("a.xpi", map[string]string{"manifest.json": "{}\n"})

	_, err := c.run("upload", "1789", pkg)
	require.ErrorIs(t, err, commands.ErrVersionRequired)

	_, err = c.run("upload", "abc", pkg, "--version", "1.0")
	require.ErrorIs(t, err, commands.ErrInvalidAddonID)

	_, err = c.run("upload", "1789", pkg, "--version", "1.0", "--channel", "beta")
	require.Error(t, err)

	_, err = c.run("queue", "list", "-o", "xml")
	require.ErrorIs(t, err, commands.ErrUnknownFormat)
}

func TestReview_NotExtracted(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("files", "1789", "HEAD")
	require.ErrorIs(t, err, commands.ErrNotExtracted)
}

func TestExtractAndReview(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git executable not available")
	}

	c := newCLI(t)

	c.mustRun("upload", "1789", c.pkg("v1.xpi", map[string]string{
		"manifest.json": "{\"version\": \"1.0\"}\n",
		"lib/a.js":      "one\n",
	}), "--version", "1.0")
	c.mustRun("upload", "1789", c.pkg("v2.xpi", map[string]string{
		"manifest.json": "{\"version\": \"2.0\"}\n",
		"lib/a.js":      "one\n",
	}), "--version", "2.0")

	out := c.mustRun("extract", "-o", "json")
	assert.Contains(t, out, `"result": "completed"`)

	out = c.mustRun("queue", "list", "-o", "json")
	assert.Equal(t, "[]", strings.TrimSpace(out))

	info := c.mustRun("repo", "info", "1789", "-o", "json")

	var repo struct {
		Path      string            `json:"path"`
		Extracted bool              `json:"extracted"`
		Branches  map[string]string `json:"branches"`
		Versions  int               `json:"versions"`
		Committed int               `json:"committed"`
	}
	require.NoError(t, json.Unmarshal([]byte(info), &repo))
	assert.True(t, repo.Extracted)
	assert.Equal(t, 2, repo.Committed)
	assert.True(t, strings.HasSuffix(filepath.ToSlash(repo.Path), "9/89/789/1789/addon"))
	require.Contains(t, repo.Branches, "listed")

	tip := repo.Branches["listed"]

	out = c.mustRun("diff", "1789", tip, "--parent", tip+"~1")
	assert.Contains(t, out, "M manifest.json")
	assert.Contains(t, out, `-{"version": "1.0"}`)
	assert.Contains(t, out, `+{"version": "2.0"}`)
	assert.NotContains(t, out, "lib/a.js")

	out = c.mustRun("deltas", "1789", tip, "--parent", tip+"~1", "--path", "lib/a.js")
	assert.Contains(t, out, "lib/a.js")

	out = c.mustRun("files", "1789", tip)
	assert.Contains(t, out, "manifest.json")

	out = c.mustRun("show", "1789", tip, "lib/a.js")
	assert.Equal(t, "one\n", out)

	c.mustRun("repo", "delete", "1789", "--requeue")

	out = c.mustRun("queue", "list", "--addon", "1789", "-o", "json")
	assert.Contains(t, out, `"addon_id": 1789`)

	info = c.mustRun("repo", "info", "1789", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(info), &repo))
	assert.False(t, repo.Extracted)
	assert.Zero(t, repo.Committed)
}

func TestExtractAddon_BrokenRefRecreates(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git executable not available")
	}

	c := newCLI(t)

	c.mustRun("upload", "623", c.pkg("v1.xpi", map[string]string{"a.js": "1\n"}), "--version", "1.0")
	c.mustRun("extract", "--addon", "623")

	var repo struct {
		Path      string `json:"path"`
		Extracted bool   `json:"extracted"`
		Committed int    `json:"committed"`
	}
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("repo", "info", "623", "-o", "json")), &repo))
	require.True(t, repo.Extracted)
	require.Equal(t, 1, repo.Committed)

	refPath := filepath.Join(repo.Path, ".git", "refs", "heads", "listed")
	require.NoError(t, os.WriteFile(refPath, []byte("corrupt\n"), 0o644))

	c.mustRun("upload", "623", c.pkg("v2.xpi", map[string]string{"a.js": "2\n"}), "--version", "1.1")

	_, err := c.run("extract", "--addon", "623")
	require.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(c.mustRun("repo", "info", "623", "-o", "json")), &repo))
	assert.False(t, repo.Extracted)
	assert.Zero(t, repo.Committed)

	out := c.mustRun("queue", "list", "--addon", "623", "-o", "json")
	assert.Contains(t, out, `"state": "pending"`)

	out = c.mustRun("extract", "-o", "json")
	assert.Contains(t, out, `"result": "completed"`)

	require.NoError(t, json.Unmarshal([]byte(c.mustRun("repo", "info", "623", "-o", "json")), &repo))
	assert.Equal(t, 2, repo.Committed)
}
